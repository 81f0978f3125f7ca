package middleware

import (
	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
	// XHR 只接受 X-Requested-With: XMLHttpRequest 的请求
	XHR bool
}

// Router 封装路由注册，auth 为认证中间件。
type Router struct {
	r    gin.IRoutes
	auth gin.HandlerFunc
}

func NewRouter(r gin.IRoutes, auth gin.HandlerFunc) *Router {
	return &Router{r: r, auth: auth}
}

func (rt *Router) chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	var hs []gin.HandlerFunc
	if opt.XHR {
		hs = append(hs, RequireXHR())
	}
	if opt.IsAuth && rt.auth != nil {
		hs = append(hs, rt.auth)
	}
	return append(hs, handler)
}

// 封装 POST
func (rt *Router) POST(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.r.POST(path, rt.chain(handler, opt)...)
}

// 封装 GET
func (rt *Router) GET(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.r.GET(path, rt.chain(handler, opt)...)
}
