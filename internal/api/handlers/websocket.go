package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/escrow/internal/escrow"
	"github.com/playmatatu/escrow/internal/events"
)

// HandleEventsWebSocket streams ledger events, optionally filtered to one game via ?game=.
func HandleEventsWebSocket(hub *events.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var game *escrow.GameID
		if raw := c.Query("game"); raw != "" {
			id, err := escrow.ParseGameID(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game id"})
				return
			}
			game = &id
		}
		hub.ServeWS(c.Writer, c.Request, game)
	}
}
