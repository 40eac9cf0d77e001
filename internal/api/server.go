// Package api serves the harvested signals over a read-only HTTP interface.
package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Options configure the HTTP surface.
type Options struct {
	// SecretKey enables the X-API-Key check when non-empty.
	SecretKey string
	// Metrics exposes /metrics.
	Metrics bool
}

// NewServer creates a gin engine with all routes configured.
func NewServer(handler *Handler, opts Options) *gin.Engine {
	r := gin.New()

	r.Use(requestLogger(handler.logger))
	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-API-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, opts)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, opts Options) {
	r.GET("/health", handler.Health)

	if opts.Metrics {
		r.GET("/metrics", gin.WrapH(handler.metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	v1.Use(authMiddleware(opts.SecretKey))
	{
		v1.GET("/signals", handler.Signals)
		v1.GET("/users", handler.Users)
		v1.GET("/stats", handler.Stats)
	}

	if opts.SecretKey != "" {
		handler.logger.Info().Msg("api key authentication enabled")
	} else {
		handler.logger.Warn().Msg("api.secret_key not set; query endpoints are open")
	}
}

// authMiddleware rejects requests whose X-API-Key differs from secret.
// An empty secret disables the check.
func authMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		provided := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"detail": "Invalid API Key",
			})
			return
		}

		c.Next()
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}
