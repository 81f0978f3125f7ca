package security

import (
	"net/http"
	"strings"

	"ChatSync/tools/errs"
	jwtsec "ChatSync/tools/security"

	"github.com/gin-gonic/gin"
)

// context keys
// handlers read the authenticated user with c.GetString(CtxUserIDKey)
const (
	CtxUserIDKey = "userID"
	CtxTokenKey  = "authorization"
)

type Options struct {
	JWT jwtsec.Options

	// 读取哪个请求头（默认 "authorization"，兼容 Authorization: Bearer xxx）
	HeaderToken string
	// QueryToken 允许通过 ?token= 传递（WebSocket 握手用）
	QueryToken string
}

func DefaultOptions(secret []byte) *Options {
	return &Options{
		JWT:         jwtsec.DefaultOptions(secret),
		HeaderToken: "Authorization",
		QueryToken:  "token",
	}
}

// Middleware verifies the bearer JWT and stores the subject under CtxUserIDKey.
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
		token := jwtsec.BearerToken(raw)
		if token == "" && raw != "" && !strings.Contains(raw, " ") {
			token = raw
		}
		if token == "" && opts.QueryToken != "" {
			token = strings.TrimSpace(c.Query(opts.QueryToken))
		}
		if token == "" {
			abort(c, errs.ErrTokenInvalid.WrapMsg("missing token"))
			return
		}

		claims, err := jwtsec.Verify(opts.JWT, token)
		if err != nil {
			abort(c, err)
			return
		}
		uid := claims.UserID()
		if uid == "" {
			abort(c, errs.ErrTokenInvalid.WrapMsg("token without subject"))
			return
		}
		c.Set(CtxTokenKey, token)
		c.Set(CtxUserIDKey, uid)
		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":  errs.Code(err),
		"error": err.Error(),
	})
}
