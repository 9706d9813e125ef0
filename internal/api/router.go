// Package api exposes the authenticated trigger endpoint and the reporting
// surface around the republishing engine.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/evergreenpress/republisher/internal/config"
	"github.com/evergreenpress/republisher/internal/domain"
	"github.com/evergreenpress/republisher/internal/logger"
	"github.com/evergreenpress/republisher/internal/ratelimit"
)

const (
	serviceVersion       = "1.0.0"
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
	healthCheckTimeout   = 2 * time.Second
)

// BatchRunner is the engine surface the API needs.
type BatchRunner interface {
	ExecuteBatch(ctx context.Context, trigger domain.Trigger, force bool) (*domain.BatchResult, error)
	Preview(ctx context.Context) (*domain.BatchResult, error)
}

// HistoryReader is the reporting surface over the attempt log.
type HistoryReader interface {
	List(ctx context.Context, filter *domain.HistoryFilter) ([]domain.HistoryRecord, error)
	StatsByOutcome(ctx context.Context, since time.Time) (map[domain.Outcome]int, error)
}

// Router holds the API dependencies
type Router struct {
	engine      BatchRunner
	limiter     *ratelimit.Limiter
	history     HistoryReader
	db          *sqlx.DB
	redisClient redis.UniversalClient
	registry    *prometheus.Registry
	cfg         *config.Config
	logger      logger.Logger
}

// NewRouter creates a new API router
func NewRouter(
	engine BatchRunner,
	limiter *ratelimit.Limiter,
	history HistoryReader,
	db *sqlx.DB,
	redisClient redis.UniversalClient,
	registry *prometheus.Registry,
	cfg *config.Config,
	log logger.Logger,
) *Router {
	return &Router{
		engine:      engine,
		limiter:     limiter,
		history:     history,
		db:          db,
		redisClient: redisClient,
		registry:    registry,
		cfg:         cfg,
		logger:      log,
	}
}

// SetupRoutes builds the gin engine with middleware and all routes.
func (r *Router) SetupRoutes() *gin.Engine {
	if !r.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Public endpoints
	router.GET("/health", r.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})))

	// API v1 routes - protected with JWT
	v1 := router.Group("/api/v1")
	v1.Use(jwtMiddleware(r.cfg.Auth.JWTSecret))

	republish := v1.Group("/republish")
	republish.POST("", r.triggerBatch)
	republish.GET("/preview", r.previewBatch)

	history := v1.Group("/history")
	history.GET("", r.listHistory)
	history.GET("/stats", r.historyStats)

	v1.GET("/limits", r.limitStatus)

	return router
}

// healthCheck returns the service health status
func (r *Router) healthCheck(c *gin.Context) {
	health := gin.H{
		"status":  healthStatusHealthy,
		"service": "republisher",
		"version": serviceVersion,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	dbConnected := true
	if err := r.db.PingContext(ctx); err != nil {
		dbConnected = false
		health["status"] = healthStatusDegraded
	}
	health["database"] = gin.H{"connected": dbConnected}

	redisConnected := true
	if err := r.redisClient.Ping(ctx).Err(); err != nil {
		redisConnected = false
		health["status"] = healthStatusDegraded
	}
	health["redis"] = gin.H{"connected": redisConnected}

	c.JSON(http.StatusOK, health)
}
