package metricsserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Server is the `--metrics`/`--metrics-address` HTTP surface (spec.md §6):
// `/healthz` for liveness probes and `/metrics` for a JSON metrics snapshot,
// wired the same way the teacher wires gin.Engine + otelgin instrumentation
// plus its health/metrics route group (internal/monitoring/middleware.go,
// health.go).
type Server struct {
	httpServer *http.Server
	collector  *Collector
	startedAt  time.Time
}

// New builds a Server listening on addr, with serviceName as the otelgin
// span name prefix.
func New(addr, serviceName string, collector *Collector) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	s := &Server{collector: collector, startedAt: time.Now()}

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", s.handleMetrics)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return s
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startedAt).String(),
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.collector.Snapshot())
}

// Run starts serving and blocks until the listener stops. Returns nil on a
// clean Shutdown.
func (s *Server) Run() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
