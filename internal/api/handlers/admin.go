package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/escrow/internal/accounts"
	"github.com/playmatatu/escrow/internal/admin"
	"github.com/playmatatu/escrow/internal/escrow"
	"github.com/playmatatu/escrow/internal/middleware"
)

// audit records a privileged call. Audit failures never fail the request.
func audit(c *gin.Context, store admin.Store, action string, details map[string]interface{}, success bool) {
	_ = admin.LogAction(c.Request.Context(), store, string(middleware.Account(c)), c.ClientIP(), c.FullPath(), action, details, success)
}

// AdminForceEndGame settles a disputed game by privileged decision.
func AdminForceEndGame(led *escrow.Ledger, store admin.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := gameIDParam(c)
		if !ok {
			return
		}
		var req struct {
			Winner             accounts.AccountID `json:"winner" binding:"required"`
			DepositBeneficiary accounts.AccountID `json:"deposit_beneficiary" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "winner and deposit_beneficiary required"})
			return
		}

		details := map[string]interface{}{
			"game_id":             id,
			"winner":              req.Winner,
			"deposit_beneficiary": req.DepositBeneficiary,
		}
		err := led.ForceEndGame(c.Request.Context(), middleware.PrivilegedOrigin(c), id, req.Winner, req.DepositBeneficiary)
		if err != nil {
			details["error"] = escrow.CodeOf(err)
			audit(c, store, "force_end_game", details, false)
			respondError(c, err)
			return
		}

		log.Printf("[ADMIN] %s force-ended game %d, winner %s", middleware.Account(c), id, req.Winner)
		audit(c, store, "force_end_game", details, true)
		c.JSON(http.StatusOK, gin.H{"game_id": id, "winner": req.Winner})
	}
}

// AdminSetSafeguardDeposit replaces the deposit required of new players.
func AdminSetSafeguardDeposit(led *escrow.Ledger, store admin.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Deposit *accounts.Balance `json:"deposit" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deposit required"})
			return
		}

		details := map[string]interface{}{"deposit": *req.Deposit}
		if err := led.SetSafeguardDeposit(c.Request.Context(), middleware.PrivilegedOrigin(c), *req.Deposit); err != nil {
			details["error"] = escrow.CodeOf(err)
			audit(c, store, "set_safeguard_deposit", details, false)
			respondError(c, err)
			return
		}

		audit(c, store, "set_safeguard_deposit", details, true)
		c.JSON(http.StatusOK, gin.H{"safeguard_deposit": *req.Deposit})
	}
}

// AdminWithdrawFunds moves funds out of custody.
func AdminWithdrawFunds(led *escrow.Ledger, store admin.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Amount      *accounts.Balance  `json:"amount" binding:"required"`
			Beneficiary accounts.AccountID `json:"beneficiary" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount and beneficiary required"})
			return
		}

		amount := *req.Amount
		details := map[string]interface{}{"amount": amount, "beneficiary": req.Beneficiary}
		if err := led.WithdrawFunds(c.Request.Context(), middleware.PrivilegedOrigin(c), amount, req.Beneficiary); err != nil {
			details["error"] = escrow.CodeOf(err)
			audit(c, store, "withdraw_funds", details, false)
			respondError(c, err)
			return
		}

		log.Printf("[ADMIN] %s withdrew %d from custody to %s", middleware.Account(c), amount, req.Beneficiary)
		audit(c, store, "withdraw_funds", details, true)
		c.JSON(http.StatusOK, gin.H{"amount": amount, "beneficiary": req.Beneficiary})
	}
}

// AdminCreateCredential issues or rotates an account key. Root tokens only.
func AdminCreateCredential(store admin.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !middleware.HasRole(c, admin.RoleRoot) {
			c.JSON(http.StatusForbidden, gin.H{"error": "root role required"})
			return
		}
		var req struct {
			Account string   `json:"account" binding:"required"`
			Key     string   `json:"key" binding:"required"`
			Roles   []string `json:"roles"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account and key required"})
			return
		}

		details := map[string]interface{}{"account": req.Account, "roles": req.Roles}
		if err := admin.CreateCredential(c.Request.Context(), store, req.Account, req.Key, req.Roles); err != nil {
			audit(c, store, "create_credential", details, false)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		audit(c, store, "create_credential", details, true)
		c.JSON(http.StatusCreated, gin.H{"account": req.Account})
	}
}
