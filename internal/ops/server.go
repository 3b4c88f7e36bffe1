// Package ops exposes the engine's read-only operational HTTP surface. The
// product's CRUD REST API lives elsewhere; this is only health and queue
// state for operators and probes.
package ops

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"rateshopper/config"
	"rateshopper/internal/store"
)

// NewServer builds the ops HTTP server.
func NewServer(cfg config.OpsConfig, s store.Store, log *logrus.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), int(cfg.RateLimitPerSec)+1)
	r.Use(func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := s.DB().DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/api/status", func(c *gin.Context) {
		snap, err := s.QueueSnapshot(c.Request.Context())
		if err != nil {
			log.WithError(err).Error("ops: failed to build queue snapshot")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue state"})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
}
