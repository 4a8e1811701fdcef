// Package handlers provides HTTP API request handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-access-relay/backend/internal/relay"
)

// DeviceHandler serves the device list over HTTP.
type DeviceHandler struct {
	relay *relay.Relay
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(r *relay.Relay) *DeviceHandler {
	return &DeviceHandler{relay: r}
}

// List handles GET /api/devices - returns all known devices with their
// derived online/offline status and the aggregate counts.
func (h *DeviceHandler) List(c *gin.Context) {
	payload, err := h.relay.DeviceList(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list devices: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, payload)
}

// RegisterRoutes registers the device handler routes on a Gin router group.
func (h *DeviceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/devices", h.List)
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
