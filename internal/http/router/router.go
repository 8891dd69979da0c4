package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ilikepancakes-ink/twittwebot/internal/http/handler"
)

type RouterConfig struct {
	// Registry backs GET /metrics; nil disables the endpoint.
	Registry *prometheus.Registry
}

// Handlers bundles the ops-surface handlers wired in by the entrypoint.
type Handlers struct {
	Status  *handler.StatusHandler
	Threads *handler.ThreadHandler
}

func SetupRoutes(router *gin.Engine, h Handlers, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if cfg.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	{
		StatusRouter(v1, h.Status)
		ThreadRouter(v1.Group("/threads"), h.Threads)
	}
}
