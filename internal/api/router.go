package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "crmflow/internal/api/docs"

	"crmflow/internal/logger"
	"crmflow/pkg/middleware"
	"crmflow/pkg/ratelimit"
	"crmflow/pkg/tracing"
)

type RouterOptions struct {
	// RateLimiter is applied to /api routes when set.
	RateLimiter *ratelimit.PerClient
	// TracingService enables otelgin spans when non-empty.
	TracingService string
	// Swagger serves the API document and UI under /swagger.
	Swagger bool
}

func NewRouter(h *Handler, log logger.Logger, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	if opts.TracingService != "" {
		router.Use(tracing.GinMiddleware(opts.TracingService))
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if opts.Swagger {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if opts.RateLimiter != nil {
		limit := opts.RateLimiter.Middleware()
		router.Use(func(c *gin.Context) {
			if c.FullPath() == "/health" {
				c.Next()
				return
			}
			limit(c)
		})
	}

	h.RegisterRoutes(router)
	return router
}
