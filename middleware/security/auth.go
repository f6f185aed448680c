// Package security authenticates REST requests with the marketplace JWT.
package security

import (
	"net/http"
	"strings"

	"usedtrade/tools/errs"
	"usedtrade/tools/security"
	"usedtrade/tools/specialerror"

	"github.com/gin-gonic/gin"
)

// Context keys set by Middleware.
const (
	CtxUserIDKey = "userId"
	CtxTokenKey  = "authorization"

	DefaultHeaderToken = "X-Access-Token"
)

type Options struct {
	JWT security.Options
	// HeaderToken is read when the Authorization header is absent.
	HeaderToken string
}

func DefaultOptions(secret []byte) *Options {
	return &Options{
		JWT:         security.DefaultOptions(secret),
		HeaderToken: DefaultHeaderToken,
	}
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's user id under CtxUserIDKey.
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" && opts.HeaderToken != "" {
			header = strings.TrimSpace(c.GetHeader(opts.HeaderToken))
		}
		// a bare token is accepted as if it carried the scheme
		if _, ok := security.BearerToken(header); !ok && header != "" {
			header = "Bearer " + header
		}
		userID, err := security.Authenticate(opts.JWT, header)
		if err != nil {
			abort(c, err)
			return
		}
		token, _ := security.BearerToken(header)
		c.Set(CtxTokenKey, token)
		c.Set(CtxUserIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated caller, failing when Middleware did not run.
func UserID(c *gin.Context) (int64, error) {
	v, ok := c.Get(CtxUserIDKey)
	if !ok {
		return 0, errs.ErrUnauthenticated.WrapMsg("no principal")
	}
	id, ok := v.(int64)
	if !ok || id <= 0 {
		return 0, errs.ErrUnauthenticated.WrapMsg("bad principal")
	}
	return id, nil
}

func abort(c *gin.Context, err error) {
	code := specialerror.CodeError(err)
	status := specialerror.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		status = http.StatusUnauthorized
	}
	c.AbortWithStatusJSON(status, gin.H{"code": code.Code, "msg": code.Msg, "data": nil})
}
