package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/escrow/internal/accounts"
	"github.com/playmatatu/escrow/internal/escrow"
	"github.com/playmatatu/escrow/internal/middleware"
)

// CreateGame opens a game hosted by the caller.
func CreateGame(led *escrow.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Bet accounts.Balance `json:"bet"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bet required"})
			return
		}

		id, err := led.CreateGame(c.Request.Context(), middleware.SignedOrigin(c), req.Bet)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("X-Game-ID", id.String())
		c.JSON(http.StatusCreated, gin.H{"game_id": id})
	}
}

// JoinGame seats the caller as joiner.
func JoinGame(led *escrow.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := gameIDParam(c)
		if !ok {
			return
		}
		if err := led.JoinGame(c.Request.Context(), middleware.SignedOrigin(c), id); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"game_id": id, "player": middleware.Account(c)})
	}
}

// EndGame records the caller's proposed winner.
func EndGame(led *escrow.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := gameIDParam(c)
		if !ok {
			return
		}
		var req struct {
			Winner accounts.AccountID `json:"winner" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "winner required"})
			return
		}

		res, err := led.EndGame(c.Request.Context(), middleware.SignedOrigin(c), id, req.Winner)
		if err != nil {
			respondError(c, err)
			return
		}
		resp := gin.H{"game_id": id, "outcome": res.Outcome.String()}
		if res.Outcome == escrow.Agreed {
			resp["winner"] = res.Winner
		}
		c.JSON(http.StatusOK, resp)
	}
}

// GetGame returns a game record.
func GetGame(led *escrow.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := gameIDParam(c)
		if !ok {
			return
		}
		g, err := led.Game(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gameResponse(g))
	}
}

// GetBalance returns the free balance of an account.
func GetBalance(led *escrow.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := accounts.AccountID(c.Param("id"))
		bal, err := led.Balance(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"account": id, "balance": bal})
	}
}

// ListEvents returns journaled events after the given sequence number.
func ListEvents(led *escrow.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

		recs, err := led.Events(c.Request.Context(), after, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		if recs == nil {
			recs = []escrow.Record{}
		}
		c.JSON(http.StatusOK, gin.H{"events": recs})
	}
}
