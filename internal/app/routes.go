package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prism-ai/prism/internal/middleware"
	"github.com/prism-ai/prism/internal/modules/account"
	"github.com/prism-ai/prism/internal/modules/ai"
	"github.com/prism-ai/prism/internal/modules/conversation"
	"github.com/prism-ai/prism/internal/modules/files"
	"github.com/prism-ai/prism/internal/modules/gateway"
	"github.com/prism-ai/prism/internal/modules/settings"
	"github.com/prism-ai/prism/internal/pkg/response"
	goredis "github.com/redis/go-redis/v9"
)

const (
	apiPrefix  = "/api/v1"
	appName    = "prism-ai"
	appVersion = "1.0.0"
)

func (a *App) registerRoutes() {
	r := a.router

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})
	r.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	var rdb *goredis.Client
	if a.rc != nil {
		rdb = a.rc.Raw()
	}

	api := r.Group(apiPrefix)
	api.GET("/health", a.health)

	api.Use(middleware.OptionalAuth(a.verifier, a.store, a.settings.Hydrate))
	// Rate limiting and idempotence need Redis and pass through without it.
	api.Use(middleware.RateLimit(rdb, a.cfg.RateLimit.Requests, a.cfg.RateLimit.Window, a.logger))
	api.Use(middleware.Idempotence(rdb))

	scoped := middleware.RequireScope()
	ai.NewHandler(a.ai.dispatcher, a.ai.usage, a.ai.media).RegisterRoutes(api, scoped)
	files.NewHandler(a.files).RegisterRoutes(api, scoped)
	conversation.NewHandler(a.conversations).RegisterRoutes(api, scoped)
	settings.NewHandler(a.settings).RegisterRoutes(api, scoped)
	account.NewHandler(a.account).RegisterRoutes(api, middleware.Auth())
	gateway.RegisterRoutes(r, api, a.gateway)
}

// GET /api/v1/health
func (a *App) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	if sqlDB, err := a.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["database"] = "down"
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "up"
	}
	if a.rc != nil {
		if err := a.rc.Ping(ctx); err != nil {
			checks["redis"] = "down"
			status = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "up"
		}
	}

	c.JSON(status, gin.H{
		"name":    appName,
		"version": appVersion,
		"env":     a.cfg.Env,
		"uptime":  humanizeDuration(time.Since(processStart)),
		"checks":  checks,
	})
}
