package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/escrow/internal/escrow"
	"github.com/playmatatu/escrow/internal/lock"
)

var kindStatus = map[escrow.Kind]int{
	escrow.KindNotFound:          http.StatusNotFound,
	escrow.KindInvalidState:      http.StatusConflict,
	escrow.KindInvalidInput:      http.StatusBadRequest,
	escrow.KindUnauthorized:      http.StatusForbidden,
	escrow.KindInsufficientFunds: http.StatusPaymentRequired,
	escrow.KindCounterOverflow:   http.StatusServiceUnavailable,
}

// respondError writes a ledger failure with its stable code. Internal failures
// are logged and hidden from the caller.
func respondError(c *gin.Context, err error) {
	if errors.Is(err, lock.ErrNotAcquired) || errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger busy, retry later", "code": "Busy"})
		return
	}

	kind := escrow.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		log.Printf("[API] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": escrow.CodeOf(err), "kind": kind.String()})
}

// gameIDParam parses the :id path parameter, writing a 400 when it is malformed.
func gameIDParam(c *gin.Context) (escrow.GameID, bool) {
	id, err := escrow.ParseGameID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game id"})
		return 0, false
	}
	return id, true
}

// gameResponse is the API form of a game record.
func gameResponse(g *escrow.Game) gin.H {
	return gin.H{
		"game":    g,
		"outcome": escrow.Resolve(g.Seats, g.Proposals).Outcome.String(),
	}
}
