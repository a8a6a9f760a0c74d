package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mvideodk-relay/internal/config"
	"mvideodk-relay/pkg/logger"
)

// NewRouter builds the bridge engine. limiter may be nil.
func NewRouter(cfg *config.Config, h *RelayHandler, limiter *RateLimiter) *gin.Engine {
	router := gin.New()

	router.Use(requestLogger())
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:           cfg.CORS.AllowedOrigins,
		AllowMethods:           cfg.CORS.AllowedMethods,
		AllowHeaders:           cfg.CORS.AllowedHeaders,
		ExposeHeaders:          cfg.CORS.ExposedHeaders,
		AllowCredentials:       cfg.CORS.AllowCredentials,
		AllowWildcard:          true,
		AllowBrowserExtensions: true,
		MaxAge:                 time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	api := router.Group("/api")
	if limiter != nil {
		api.Use(limiter.Middleware())
	}
	{
		relay := api.Group("/relay")
		{
			relay.GET("/config", h.GetConfig)
			relay.GET("/status", h.GetStatus)
			relay.POST("/submit", h.Submit)
			relay.GET("/float", h.GetFloat)
			relay.PUT("/float", h.PutFloat)
			relay.GET("/events", h.Events)
		}
	}

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"context": "bridge",
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
		} else {
			entry.Debug("request")
		}
	}
}
