// Package sqldb opens the relational store behind gorm.
package sqldb

import (
	"errors"
	"strings"
	"time"

	"usedtrade/logger"
	"usedtrade/tools/errs"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Config struct {
	Driver       string // postgres | sqlite
	DSN          string
	MaxOpenConns int   // an in-memory sqlite needs 1
	Models       []any // auto-migrated when non-empty
}

type zapWriter struct{}

func (zapWriter) Printf(format string, args ...any) { logger.Debugf("[SQL] "+format, args...) }

// Open connects and optionally migrates cfg.Models.
func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "", "postgres", "pg":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, errs.ErrArgs.WrapMsg("unsupported database driver", "driver", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger: gormlogger.New(zapWriter{}, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "open database", "driver", cfg.Driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errs.WrapMsg(err, "database handle")
	}
	if cfg.MaxOpenConns > 0 {
		idle := cfg.MaxOpenConns / 2
		if idle < 1 {
			idle = 1
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(idle)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if len(cfg.Models) > 0 {
		if err := db.AutoMigrate(cfg.Models...); err != nil {
			return nil, errs.WrapMsg(err, "auto migrate")
		}
	}
	logger.Infof("[DB] connected driver=%s", cfg.Driver)
	return db, nil
}

// IsUniqueViolation reports a duplicate key on any supported driver.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsTransient reports errors that a retry may cure: lost connections,
// serialization failures, deadlocks and administrator shutdowns.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == "40001",
			pgErr.Code == "40P01",
			pgErr.Code == "57P01":
			return true
		}
		return false
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}

// Classify maps driver errors onto the error codes handlers understand.
func Classify(err error, msg string, kv ...any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errs.ErrNotFound.WrapMsg(msg, kv...)
	case IsTransient(err):
		return errs.ErrTransientStore.WrapMsg(msg+": "+err.Error(), kv...)
	}
	return errs.WrapMsg(err, msg, kv...)
}
