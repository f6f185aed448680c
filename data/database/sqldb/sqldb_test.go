package sqldb

import (
	"context"
	"testing"

	"usedtrade/tools/errs"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want *errs.CodeError
	}{
		{"not found", gorm.ErrRecordNotFound, errs.ErrNotFound},
		{"connection lost", &pgconn.PgError{Code: "08006"}, errs.ErrTransientStore},
		{"serialization", &pgconn.PgError{Code: "40001"}, errs.ErrTransientStore},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, errs.ErrTransientStore},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, errs.ErrTransientStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, "op")
			assert.True(t, tt.want.Is(got), got.Error())
		})
	}

	plain := Classify(&pgconn.PgError{Code: "42P01"}, "op")
	assert.Nil(t, errs.Code(plain))
	assert.Nil(t, Classify(nil, "op"))
	assert.False(t, IsTransient(context.Canceled))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
}

type row struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`
}

func TestOpenSqlite(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite", DSN: "file::memory:", MaxOpenConns: 1, Models: []any{&row{}}})
	require.NoError(t, err)
	require.NoError(t, db.Create(&row{ID: 1, Name: "a"}).Error)
	err = db.Create(&row{ID: 2, Name: "a"}).Error
	assert.True(t, IsUniqueViolation(err), "%v", err)

	_, err = Open(Config{Driver: "oracle"})
	assert.True(t, errs.ErrArgs.Is(err))
}
