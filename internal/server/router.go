package server

import (
	"context"
	"time"

	"github.com/abduss/drop24/internal/auth"
	"github.com/abduss/drop24/internal/config"
	"github.com/abduss/drop24/internal/file"
	"github.com/abduss/drop24/internal/logger"
	"github.com/abduss/drop24/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BucketChecker reports whether the object store bucket exists. *minio.Client satisfies it.
type BucketChecker interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
}

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config        config.Config
	Logger        *zap.Logger
	DB            Pinger
	ObjectStore   BucketChecker
	AuthService   *auth.Service
	Authenticator auth.Authenticator
	FileService   *file.Service
	Now           func() time.Time
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}

	metrics.InitMetrics()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware(deps.Logger))
	router.Use(metrics.Middleware())
	router.Use(cors.New(corsConfig(deps.Config.CORS)))

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	api := router.Group("/api")
	if deps.AuthService != nil {
		auth.RegisterRoutes(api, deps.AuthService, deps.Authenticator)
	}
	if deps.FileService != nil {
		file.RegisterRoutes(api, deps.FileService, deps.Authenticator, deps.Config.Upload.MaxSize)
	}

	return router
}

func corsConfig(cfg config.CORSConfig) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", logger.CorrelationIDHeader},
		ExposeHeaders: []string{logger.CorrelationIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = cfg.AllowedOrigins
	c.AllowCredentials = true
	return c
}
