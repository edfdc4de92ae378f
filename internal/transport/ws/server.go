// Package ws is the HTTP/WebSocket edge: it upgrades connections,
// enforces the authentication handshake, and bridges frames between the
// socket and the gateway core.
package ws

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lumachat/gateway/internal/collab"
	"github.com/lumachat/gateway/internal/config"
	"github.com/lumachat/gateway/internal/gateway"
	"github.com/lumachat/gateway/internal/metrics"
)

// NewServer builds the HTTP server: the WebSocket endpoint plus health
// and metrics for the load balancer and Prometheus.
func NewServer(gw *gateway.Gateway, verifier collab.TokenVerifier, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), metrics.GinMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &Handler{
		gw:           gw,
		verifier:     verifier,
		authDeadline: cfg.AuthDeadline,
		log:          logger,
	}
	router.GET("/ws", gin.WrapH(h))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
