package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/escrow/internal/config"
	"github.com/playmatatu/escrow/internal/escrow"
)

// GetParams returns the ledger parameters clients need before creating or joining a game.
func GetParams(led *escrow.Ledger, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		deposit, err := led.SafeguardDeposit(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		idx, err := led.GameIndex(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"safeguard_deposit":   deposit,
			"game_index":          idx,
			"custody_account":     led.CustodyAccount(),
			"existential_deposit": cfg.ExistentialDeposit,
		})
	}
}
