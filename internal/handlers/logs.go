package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mail-onboarding-go/internal/models"
)

// GetLogs returns the provisioning ledger, newest first
func (h *Handlers) GetLogs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.repo.LedgerEntries(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch ledger entries",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, entries)
}
