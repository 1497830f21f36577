package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/servcy/inboxstack/api/handlers"
	"github.com/servcy/inboxstack/api/middleware"
	"github.com/servcy/inboxstack/config"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/internal/tracing"
	"github.com/servcy/inboxstack/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, cfg *config.Config, s *services.Services, log logger.Logger) {
	if s == nil {
		panic("Services cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())                                         // Gin's built-in recovery
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer())) // Our custom Jaeger recovery

	// setup handlers
	apiHandlers := handlers.InitHandlers(cfg, s, log)

	// Health check and status endpoints
	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(s.Registry))

	// Provider-facing webhook sinks; authenticated by obscurity of the
	// subscription endpoint plus the watermark no-op on redelivery.
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/google", tracing.TracingEnhancer(ctx, "/webhooks/google"), apiHandlers.Webhooks.GooglePush())
		webhooks.POST("/github", tracing.TracingEnhancer(ctx, "/webhooks/github"), apiHandlers.Webhooks.GithubEvents())
	}

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-Servcy-API-Key",
		ValidAPIKey: cfg.AppConfig.APIKey,
	})

	// API group with version and caller identity
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.UserIdMiddleware())
	api.Use(middleware.TracingMiddleware())
	{
		api.POST("/oauth/:provider", apiHandlers.OAuth.Callback())

		inbox := api.Group("/inbox")
		{
			inbox.GET("", apiHandlers.Inbox.List())
			inbox.POST("/archive", apiHandlers.Inbox.Archive())
			inbox.POST("/delete", apiHandlers.Inbox.Delete())
		}
	}
}
