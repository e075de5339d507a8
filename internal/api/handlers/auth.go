package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/escrow/internal/admin"
	"github.com/playmatatu/escrow/internal/config"
	"github.com/playmatatu/escrow/internal/middleware"
)

// IssueToken exchanges an account key for a bearer token carrying the credential's roles.
func IssueToken(store admin.Store, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Account string `json:"account" binding:"required"`
			Key     string `json:"key" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account and key required"})
			return
		}
		account := strings.TrimSpace(req.Account)

		cred, err := admin.ValidateCredential(c.Request.Context(), store, account, req.Key)
		if err != nil {
			if errors.Is(err, admin.ErrCredentialNotFound) || errors.Is(err, admin.ErrInvalidKey) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		ttl := time.Duration(cfg.TokenTTLMinutes) * time.Minute
		token, exp, err := middleware.IssueToken(cfg.JWTSecret, cred.AccountID, cred.Roles, ttl)
		if err != nil {
			log.Printf("[AUTH] Failed to sign token for %s: %v", account, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_at": exp.UTC(),
			"account":    cred.AccountID,
			"roles":      cred.Roles,
		})
	}
}
