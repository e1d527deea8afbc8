package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lk2023060901/bookshelf-backend/internal/conf"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/logger"
)

// healthTimeout bounds a single dependency check
const healthTimeout = 3 * time.Second

// CheckFunc checks one dependency; nil means healthy
type CheckFunc func(ctx context.Context) error

// RouteRegistrar is implemented by every domain service mounted under /api/v1
type RouteRegistrar interface {
	RegisterRoutes(r *gin.RouterGroup)
}

type HTTPServer struct {
	server *http.Server
	logger *logger.Logger
}

// NewHTTPServer builds the router. gatherer may be nil when metrics are disabled.
func NewHTTPServer(
	config *conf.Config,
	log *logger.Logger,
	checks map[string]CheckFunc,
	gatherer prometheus.Gatherer,
	services ...RouteRegistrar,
) *HTTPServer {
	router := newRouter(config, log, checks, gatherer, services...)

	return &HTTPServer{
		server: &http.Server{
			Addr:         config.Server.Addr(),
			Handler:      router,
			ReadTimeout:  config.Server.ReadTimeout,
			WriteTimeout: config.Server.WriteTimeout,
		},
		logger: log,
	}
}

func newRouter(
	config *conf.Config,
	log *logger.Logger,
	checks map[string]CheckFunc,
	gatherer prometheus.Gatherer,
	services ...RouteRegistrar,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	metricsPath := config.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	router := gin.New()
	router.Use(logger.GinRecovery(log))
	router.Use(logger.GinLoggerWithConfig(log, logger.MiddlewareOptions{
		SkipPaths: []string{"/health", metricsPath},
	}))

	// Health check
	router.GET("/health", healthHandler(checks))

	if config.Metrics.Enabled && gatherer != nil {
		router.GET(metricsPath, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API routes
	api := router.Group("/api/v1")
	for _, svc := range services {
		svc.RegisterRoutes(api)
	}

	return router
}

// healthHandler reports 200 when every dependency answers and 503 otherwise
func healthHandler(checks map[string]CheckFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		components := make(gin.H, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				components[name] = err.Error()
				continue
			}
			components[name] = "ok"
		}

		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{
			"status":     state,
			"components": components,
			"time":       time.Now().Format(time.RFC3339),
		})
	}
}

func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}
