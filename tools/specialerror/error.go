// Package specialerror maps errors onto HTTP statuses.
package specialerror

import (
	"net/http"

	"usedtrade/tools/errs"
)

// Handler claims an error it knows the status of.
type Handler func(err error) (status int, ok bool)

var handlers []Handler

// AddErrHandler registers h ahead of the code table. Not safe to call once
// requests are being served.
func AddErrHandler(h Handler) error {
	if h == nil {
		return errs.New("nil handler")
	}
	handlers = append(handlers, h)
	return nil
}

var codeStatus = []struct {
	code   *errs.CodeError
	status int
}{
	{errs.ErrArgs, http.StatusBadRequest},
	{errs.ErrDecode, http.StatusBadRequest},
	{errs.ErrUnauthenticated, http.StatusUnauthorized},
	{errs.ErrAuthorization, http.StatusForbidden},
	{errs.ErrNotFound, http.StatusNotFound},
	{errs.ErrDuplicateSubscription, http.StatusConflict},
	{errs.ErrTransientStore, http.StatusServiceUnavailable},
}

// HTTPStatus is 200 for nil and 500 for anything unrecognised.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	for _, h := range handlers {
		if status, ok := h(err); ok {
			return status
		}
	}
	for _, cs := range codeStatus {
		if cs.code.Is(err) {
			return cs.status
		}
	}
	return http.StatusInternalServerError
}

// CodeError returns the CodeError carried by err, ErrInternalServer when
// there is none.
func CodeError(err error) *errs.CodeError {
	if c := errs.Code(err); c != nil {
		return c
	}
	return errs.ErrInternalServer
}
