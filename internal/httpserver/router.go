package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailflow/internal/model"
	"mailflow/internal/workflow"
	"mailflow/pkg/otel"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, rc *workflow.RunContext, req workflow.Request) (workflow.Response, error)
}

// Probe is a readiness check such as a database ping.
type Probe func(ctx context.Context) error

type Router struct {
	Engine *gin.Engine
}

func NewRouter(d Dispatcher, rc *workflow.RunContext, probes map[string]Probe, log *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), otel.GinMiddleware(), requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		for name, probe := range probes {
			if err := probe(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Collaborator health; degraded still answers 200.
	r.GET("/health", func(c *gin.Context) {
		resp, err := d.Dispatch(c, rc, workflow.HealthCheckRequest{})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		code := http.StatusOK
		if resp.Health.Overall == model.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp.Health)
	})

	r.GET("/stats", func(c *gin.Context) {
		resp, err := d.Dispatch(c, rc, workflow.StatsRequest{})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp.Stats)
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Router{Engine: r}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
			return
		}
		log.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Server returns an http.Server for the router, for graceful shutdown.
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
