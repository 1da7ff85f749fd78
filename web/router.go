// Package web assembles the relay's HTTP surface.
package web

import (
	"context"
	"net/http"
	"time"

	"go-smsrelay/payment/relay"
	"go-smsrelay/web/controllers"
	"go-smsrelay/web/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type RouterOptions struct {
	Handler      *controllers.Handler
	Sessions     *middleware.Sessions
	AdminKeyHash string
	// RateLimit is the allowance per client IP per minute. Zero disables it.
	RateLimit      int
	AllowedOrigins []string
	Logger         *logrus.Logger
}

// NewRouter wires the routes. ctx bounds the rate limiter's cleanup loop.
func NewRouter(ctx context.Context, opts RouterOptions) *gin.Engine {
	r := gin.New()

	corsCfg := cors.DefaultConfig()
	if len(opts.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = opts.AllowedOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Requested-With")
	corsCfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}

	r.Use(gin.Recovery(), middleware.RequestLogger(opts.Logger), cors.New(corsCfg))

	limit := func(c *gin.Context) { c.Next() }
	if opts.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(opts.RateLimit, 0)
		limiter.StartCleanup(ctx, 10*time.Minute, 30*time.Minute)
		limit = limiter.Middleware()
	}

	h := opts.Handler

	client := r.Group("/", limit)
	client.GET("/invoice", h.Invoice)
	client.POST("/poll", middleware.AjaxOnly, opts.Sessions.RequireSession, h.Poll)
	client.Match([]string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete}, "/poll", controllers.BadPollMethod)

	r.POST(relay.BlockchainWebhookPath+":id", h.BlockchainWebhook)
	r.POST(relay.CarrierWebhookPath+":id", h.CarrierWebhook)
	r.GET("/health", h.Health)

	admin := r.Group("/admin", middleware.AdminAuth(opts.AdminKeyHash))
	admin.GET("/messages/stuck", h.StuckMessages)
	admin.POST("/messages/:id/redispatch", h.Redispatch)

	return r
}
