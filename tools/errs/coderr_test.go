package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapMsgKeepsCode(t *testing.T) {
	err := ErrNotFound.WrapMsg("channel missing", "channelId", 42)

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, ErrNotFound.Is(err))
	assert.False(t, errors.Is(err, ErrAuthorization))
	assert.Contains(t, err.Error(), "channelId=42")

	c := Code(err)
	if assert.NotNil(t, c) {
		assert.Equal(t, NotFoundError, c.Code)
	}
}

func TestCodeRelation(t *testing.T) {
	expired := ErrTokenExpired.WrapMsg("exp in the past")

	assert.True(t, errors.Is(expired, ErrUnauthenticated))
	assert.True(t, ErrUnauthenticated.Is(expired))
	assert.False(t, errors.Is(ErrUnauthenticated.Wrap(), ErrDecode))
}

func TestCodeThroughFmtWrap(t *testing.T) {
	inner := ErrDecode.WrapMsg("bad token")
	outer := fmt.Errorf("consume entry: %w", inner)

	assert.True(t, errors.Is(outer, ErrDecode))
	assert.Nil(t, Code(errors.New("plain")))
}

func TestErrPanic(t *testing.T) {
	assert.Nil(t, ErrPanic(nil))

	err := ErrPanic("boom")
	assert.True(t, errors.Is(err, ErrInternalServer))
	assert.Contains(t, err.Error(), "boom")
}
