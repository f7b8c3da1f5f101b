package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"robot-fleet-backend/config"
	"robot-fleet-backend/internal/mw"
	"robot-fleet-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, s store.Store, alerts AlertDispatcher, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	if cfg.Server.RequestIPHeader != "" {
		r.TrustedPlatform = cfg.Server.RequestIPHeader
	}

	opts := HandlerOptions{AlertLevels: cfg.Alerts.Levels}
	if alerts != nil {
		opts.Alerts = alerts
		opts.VAPIDPublicKey = cfg.Alerts.PublicKey
	}
	handler := NewHandler(s, log, opts)

	r.Use(mw.RequestID(), mw.Logger(log), mw.Recovery(log))
	if cfg.Server.RateLimitPerSec > 0 {
		r.Use(mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": msgNotFound})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"detail": msgMethodNotAllowed})
	})

	r.GET("/health", handler.Health)
	r.GET("/ready", handler.Ready)

	robots := r.Group("/robots")
	if cfg.Server.CacheTTLSeconds > 0 {
		ttl := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
		robots.Use(mw.Cache(cache.New(ttl, 2*ttl), ttl))
	}
	{
		robots.POST("", handler.RegisterRobot)
		robots.GET("", handler.ListRobots)
		robots.GET("/:id", handler.GetRobot)
		robots.PATCH("/:id/status", handler.UpdateRobotStatus)
		robots.POST("/:id/logs", handler.CreateRobotLog)
		robots.GET("/:id/logs", handler.ListRobotLogs)
	}

	alertRoutes := r.Group("/alerts")
	{
		alertRoutes.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
		alertRoutes.GET("/subscriptions", handler.GetSubscription)
		alertRoutes.PUT("/subscriptions", handler.PutSubscription)
		alertRoutes.DELETE("/subscriptions", handler.DeleteSubscription)
	}

	return r
}
