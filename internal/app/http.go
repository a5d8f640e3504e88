package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/trakwell-ai/websocket-notify/internal/config"
	"github.com/trakwell-ai/websocket-notify/internal/dispatch"
	"github.com/trakwell-ai/websocket-notify/internal/logger"
	"github.com/trakwell-ai/websocket-notify/internal/session"
	"github.com/trakwell-ai/websocket-notify/internal/transport"
)

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// ----------------------------
	// WebSocket endpoints
	// ----------------------------
	// Auth here is the shared socket token, not HTTP basic auth.

	wsHandler := transport.NewHandler(infra.Hub, infra.Store, cfg.AuthToken)

	if cfg.PrivateEnabled {
		router.GET("/ws/private", wsHandler.ServeRoom(session.RoomPrivate))
	}
	if cfg.PublicEnabled {
		router.GET("/ws/public", wsHandler.ServeRoom(session.RoomPublic))
	}

	// ----------------------------
	// HTTP API
	// ----------------------------

	api := router.Group("/")
	if cfg.AuthUser != "" {
		api.Use(gin.BasicAuth(gin.Accounts{cfg.AuthUser: cfg.AuthPwd}))
	}

	api.GET("/", func(c *gin.Context) {
		c.String(200, "notify relay\n\n/notifyuser\n/status\n/testclient\n")
	})

	api.GET("/testclient", func(c *gin.Context) {
		c.File("./web/testclient.html")
	})

	var limiter *rate.Limiter
	if cfg.NotifyRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.NotifyRatePerSec), cfg.NotifyRatePerSec)
	}

	notify := notifyHandler(infra, limiter)
	api.GET("/notifyuser", notify)
	api.POST("/notifyuser", notify)

	api.GET("/status", statusHandler(infra, cfg))

	return router, infra.Close, nil
}

func notifyHandler(infra *Infra, limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			c.String(http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		userID := param(c, "userid")
		room := param(c, "room")

		target, err := dispatch.ResolveTarget(userID, room)
		if err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}

		n := dispatch.Notification{
			Type:     param(c, "type"),
			Title:    param(c, "title"),
			Message:  param(c, "message"),
			Time:     param(c, "time"),
			OptParam: param(c, "optparam"),
		}

		outcome, err := infra.Dispatcher.Dispatch(c.Request.Context(), target, n)
		if err != nil {
			logger.Error("notify dispatch failed", map[string]any{
				"userid": userID,
				"room":   room,
				"error":  err.Error(),
			})
			c.String(http.StatusServiceUnavailable, "store unavailable")
			return
		}

		// Cross-instance fan-out is best effort; local delivery already
		// happened.
		if err := infra.Relay.Publish(c.Request.Context(), userID, room, n); err != nil {
			logger.Error("relay publish failed", map[string]any{
				"error": err.Error(),
			})
		}

		logger.Debug("notify dispatched", map[string]any{
			"userid":    userID,
			"room":      room,
			"delivered": outcome.Delivered,
		})

		// Empty body on success, as integrations expect.
		c.Status(http.StatusOK)
	}
}

func statusHandler(infra *Infra, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		private, public := infra.Dispatcher.Counts()

		var b strings.Builder
		b.WriteString("CONNECTED CLIENTS COUNTER:\n")
		if cfg.PrivateEnabled {
			fmt.Fprintf(&b, "Connected to Private: %d\n", private)
		}
		if cfg.PublicEnabled {
			fmt.Fprintf(&b, "Connected to Public: %d\n\n", public)
		}

		b.WriteString("DATABASE STATS:\n")
		stats, err := infra.Store.Stats(c.Request.Context())
		if err != nil {
			logger.Error("status stats failed", map[string]any{
				"error": err.Error(),
			})
			c.String(http.StatusServiceUnavailable, "store unavailable")
			return
		}
		for _, st := range stats {
			fmt.Fprintf(&b, "%s: %d entries\n", st.Room, st.Count)
		}

		c.String(http.StatusOK, b.String())
	}
}

// param reads a request field from the query string or a form body, so both
// GET and POST integrations work.
func param(c *gin.Context, name string) string {
	if v := c.Query(name); v != "" {
		return v
	}
	return c.PostForm(name)
}
