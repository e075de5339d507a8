package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/playmatatu/escrow/internal/admin"
	"github.com/playmatatu/escrow/internal/middleware"
	"github.com/playmatatu/escrow/internal/models"
)

// GetAdminAuditLogs returns paginated audit log entries
func GetAdminAuditLogs(store admin.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !middleware.HasRole(c, admin.RoleRoot) {
			c.JSON(http.StatusForbidden, gin.H{"error": "root role required"})
			return
		}
		account := c.DefaultQuery("account", "")
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit <= 0 {
			limit = 25
		}
		if limit > 200 {
			limit = 200
		}
		if offset < 0 {
			offset = 0
		}

		logs, err := store.AuditLogs(c.Request.Context(), account, limit, offset)
		if err != nil {
			log.Printf("[ADMIN] Failed to fetch audit logs: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch audit logs"})
			return
		}
		if logs == nil {
			logs = []models.AdminAudit{}
		}

		// Viewing the audit trail is not itself audited
		c.JSON(http.StatusOK, gin.H{"logs": logs, "limit": limit, "offset": offset})
	}
}
