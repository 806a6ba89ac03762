package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/killunetwork/gacha/internal/config"
	"github.com/killunetwork/gacha/internal/observability"
)

// RouterParams carries the dependencies of the HTTP surface.
type RouterParams struct {
	Service RollService
	Queue   BridgeQueue
	Auth    config.AuthConfig
	Logger  *zap.Logger
	// Health reports backend liveness; wired to the database ping.
	Health func(context.Context) error
}

// NewRouter builds the engine with all routes and middleware attached.
func NewRouter(p RouterParams) *gin.Engine {
	h := &handlers{service: p.Service, queue: p.Queue, logger: p.Logger}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(p.Logger))

	router.GET("/healthz", func(c *gin.Context) {
		if p.Health != nil {
			if err := p.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/gacha/rewards", h.rewards)

	session := api.Group("/gacha", SessionAuth(p.Auth.SessionSecret))
	session.POST("/roll", h.roll)
	session.GET("/history", h.history)

	bridge := api.Group("/bridge", BridgeAuth(p.Auth.BridgeTokenHash))
	bridge.GET("/commands", h.bridgeCommands)
	bridge.POST("/commands/:id/delivered", h.bridgeDelivered)
	bridge.POST("/commands/:id/failed", h.bridgeFailed)

	return router
}
