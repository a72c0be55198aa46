package v1

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/assetvault/internal/profile"
	apperrors "github.com/hrygo/assetvault/server/internal/errors"
	"github.com/hrygo/assetvault/server/internal/observability"
	"github.com/hrygo/assetvault/server/middleware"
	"github.com/hrygo/assetvault/server/runner/embedding"
	"github.com/hrygo/assetvault/server/service/search"
)

type APIV1Service struct {
	Profile  *profile.Profile
	Pipeline *embedding.Pipeline
	Search   *search.Service
	Metrics  *observability.Metrics
	// Ping reports whether the relational store is reachable.
	Ping func(ctx context.Context) error
}

func NewAPIV1Service(profile *profile.Profile, pipeline *embedding.Pipeline, searchService *search.Service, metrics *observability.Metrics) *APIV1Service {
	return &APIV1Service{
		Profile:  profile,
		Pipeline: pipeline,
		Search:   searchService,
		Metrics:  metrics,
	}
}

// RegisterRoutes mounts the JSON API on echoServer. Everything under /api/v1
// requires a tenant token; the search routes are rate limited per tenant.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo, limiter *middleware.RateLimiter) {
	echoServer.GET("/healthz", s.healthz)
	if s.Metrics != nil {
		echoServer.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))
	}

	api := echoServer.Group("/api/v1", middleware.TenantMiddleware(s.Profile.JWTSecret))

	searchGroup := api.Group("/search")
	if limiter != nil {
		searchGroup.Use(limiter.Middleware())
	}
	searchGroup.POST("/hybrid", s.handleHybridSearch)
	searchGroup.POST("/vector", s.handleVectorSearch)

	api.POST("/assets/:id/embedding", s.handleQueueEmbedding)
	api.DELETE("/assets/:id", s.handleDeleteAsset)
	// The colon is escaped so echo matches ":batchDelete" literally.
	api.POST("/assets\\:batchDelete", s.handleBatchDeleteAssets)

	api.POST("/embeddings/retry-failed", s.handleRetryFailed)
	api.POST("/embeddings/backfill", s.handleBackfill)
	api.GET("/embeddings/status", s.handleEmbeddingStatus)
}

func (s *APIV1Service) healthz(c echo.Context) error {
	if s.Ping != nil {
		if err := s.Ping(c.Request().Context()); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			return respondError(c, apperrors.ServiceUnavailable("database unavailable"))
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// organizationID returns the tenant set by the tenant middleware.
func organizationID(c echo.Context) (string, error) {
	orgID, ok := middleware.OrganizationIDFromContext(c.Request().Context())
	if !ok {
		return "", apperrors.Unauthorized("organization not found in credentials")
	}
	return orgID, nil
}

// respondError renders err as a JSON error with the status its code maps to.
func respondError(c echo.Context, err error) error {
	return middleware.RespondError(c, err)
}
