package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mail-onboarding-go/internal/models"
)

// GetRequests returns onboarding requests, optionally filtered by status
// and configuration.
func (h *Handlers) GetRequests(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	requests, err := h.repo.ListRequests(c.Query("status"), c.Query("config_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch requests",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, requests)
}

// GetRequest returns a single onboarding request by ID
func (h *Handlers) GetRequest(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_id", Message: "Invalid request ID", Code: http.StatusBadRequest})
		return
	}
	req, err := h.repo.GetRequest(uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "database_error", Message: "Failed to fetch request", Code: http.StatusInternalServerError})
		return
	}
	if req == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not_found", Message: "Request not found", Code: http.StatusNotFound})
		return
	}
	c.JSON(http.StatusOK, req)
}

// GetConfigs returns all active workflow configurations
func (h *Handlers) GetConfigs(c *gin.Context) {
	configs, err := h.repo.ActiveConfigurations()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch configurations",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, configs)
}
