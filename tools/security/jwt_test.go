package security

import (
	"errors"
	"testing"
	"time"

	"usedtrade/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerify(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))

	token, exp, err := Generate(opts, "7", nil)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := Verify(opts, token)
	require.NoError(t, err)

	uid, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(7), uid)
}

func TestVerifyRejects(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	good, _, err := Generate(opts, "7", nil)
	require.NoError(t, err)

	expired, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "7",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString(opts.Secret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		opts  Options
		token string
		want  *errs.CodeError
	}{
		{"wrong secret", DefaultOptions([]byte("other")), good, errs.ErrUnauthenticated},
		{"garbage", opts, "not-a-jwt", errs.ErrUnauthenticated},
		{"expired", opts, expired, errs.ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Verify(tt.opts, tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())
		})
	}
}

func TestUserIDRejectsNonNumericSubject(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	token, _, err := Generate(opts, "alice", nil)
	require.NoError(t, err)

	claims, err := Verify(opts, token)
	require.NoError(t, err)

	_, err = claims.UserID()
	assert.True(t, errors.Is(err, errs.ErrUnauthenticated))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		in    string
		token string
		ok    bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := BearerToken(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.token, token, tt.in)
	}
}

func TestAuthenticate(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	token, _, err := Generate(opts, "42", nil)
	require.NoError(t, err)

	uid, err := Authenticate(opts, "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)

	_, err = Authenticate(opts, "")
	assert.True(t, errors.Is(err, errs.ErrUnauthenticated))
}
