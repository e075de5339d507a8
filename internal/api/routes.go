package api

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/escrow/internal/admin"
	"github.com/playmatatu/escrow/internal/api/handlers"
	"github.com/playmatatu/escrow/internal/config"
	"github.com/playmatatu/escrow/internal/escrow"
	"github.com/playmatatu/escrow/internal/events"
	"github.com/playmatatu/escrow/internal/middleware"
	gometrics "github.com/rcrowley/go-metrics"
)

// Deps carries what the HTTP layer needs from the rest of the server.
type Deps struct {
	Ledger   *escrow.Ledger
	Admin    admin.Store
	Hub      *events.Hub
	Registry gometrics.Registry
	Config   *config.Config
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, d Deps) {
	cfg := d.Config
	router.Use(middleware.CORSMiddleware(cfg))
	router.Use(middleware.Metrics(d.Registry))

	if !cfg.IsProduction() {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Next()
		})
		log.Println("[DEV MODE] no-cache headers enabled for all routes")
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
	{
		v1.GET("/health", handlers.HealthCheck(d.Ledger))
		v1.GET("/metrics", handlers.Metrics(d.Registry))
		v1.GET("/params", handlers.GetParams(d.Ledger, cfg))
		v1.POST("/auth/token", handlers.IssueToken(d.Admin, cfg))

		v1.GET("/games/:id", handlers.GetGame(d.Ledger))
		v1.GET("/accounts/:id/balance", handlers.GetBalance(d.Ledger))
		v1.GET("/events", handlers.ListEvents(d.Ledger))
		if d.Hub != nil {
			v1.GET("/events/ws", middleware.WebSocketCORSCheck(cfg), handlers.HandleEventsWebSocket(d.Hub))
		}

		games := v1.Group("/games", middleware.AuthMiddleware(cfg.JWTSecret))
		{
			games.POST("", handlers.CreateGame(d.Ledger))
			games.POST("/:id/join", handlers.JoinGame(d.Ledger))
			games.POST("/:id/end", handlers.EndGame(d.Ledger))
		}

		adm := v1.Group("/admin", middleware.AuthMiddleware(cfg.JWTSecret))
		{
			adm.POST("/games/:id/force-end", handlers.AdminForceEndGame(d.Ledger, d.Admin))
			adm.PUT("/safeguard-deposit", handlers.AdminSetSafeguardDeposit(d.Ledger, d.Admin))
			adm.POST("/withdraw", handlers.AdminWithdrawFunds(d.Ledger, d.Admin))
			adm.POST("/credentials", handlers.AdminCreateCredential(d.Admin))
			adm.GET("/audit", handlers.GetAdminAuditLogs(d.Admin))
		}
	}
}
