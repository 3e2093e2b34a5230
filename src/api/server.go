// Package api exposes the diagnostics engine over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/SandersNeo/perfdiag/src/aggregator"
)

// Server wraps the engine with a gin router. Degraded analysis results
// are served with 200; only malformed requests produce 4xx.
type Server struct {
	engine *aggregator.Engine
	logger *slog.Logger
	router *gin.Engine
}

// NewServer builds the router. gin runs in release mode; request
// logging goes through the shared structured logger instead of gin's.
func NewServer(engine *aggregator.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine: engine,
		logger: logger,
		router: gin.New(),
	}
	s.router.Use(gin.Recovery(), s.requestLog())

	perf := s.router.Group("/performance")
	{
		perf.POST("/logs/analyze", s.analyzeLogs)
		perf.GET("/ras/cluster", s.clusterInfo)
		perf.GET("/ras/sessions", s.sessions)
		perf.GET("/ras/sessions/analysis", s.sessionAnalysis)
		perf.GET("/ras/alerts", s.alerts)
		perf.POST("/ras/alerts", s.evaluateAlerts)
		perf.POST("/ras/alerts/:id/ack", s.acknowledgeAlert)
		perf.POST("/sql/analyze", s.analyzeSQL)
		perf.POST("/sql/optimize", s.optimizeSQL)
		perf.POST("/sql/queue", s.queueSQL)
		perf.GET("/health", s.health)
		perf.GET("/metrics/export", s.exportMetrics)
	}
	return s
}

// Handler returns the underlying router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info("http server starting", "addr", addr)
	return s.router.Run(addr)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Debug("request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status())
	}
}
