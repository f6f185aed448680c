package specialerror

import (
	"errors"
	"net/http"
	"testing"

	"usedtrade/tools/errs"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"args", errs.ErrArgs.WrapMsg("bad"), http.StatusBadRequest},
		{"decode", errs.ErrDecode.WrapMsg("bad token"), http.StatusBadRequest},
		{"expired token", errs.ErrTokenExpired.WrapMsg("late"), http.StatusUnauthorized},
		{"forbidden", errs.ErrAuthorization.WrapMsg("no"), http.StatusForbidden},
		{"not found", errs.WrapMsg(errs.ErrNotFound.WrapMsg("gone"), "outer"), http.StatusNotFound},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestCodeError(t *testing.T) {
	assert.Equal(t, errs.NotFoundError, CodeError(errs.ErrNotFound.WrapMsg("x")).Code)
	assert.Equal(t, errs.ServerInternalError, CodeError(errors.New("x")).Code)
}
