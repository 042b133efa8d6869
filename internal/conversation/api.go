// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conversation

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/your-org/broiler-assistant/internal/session"
)

// APIHandler exposes dialogue state for inspection and reset
type APIHandler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewAPIHandler creates a new dialogue state API handler
func NewAPIHandler(manager *Manager, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		manager: manager,
		logger:  logger,
	}
}

// RegisterRoutes registers dialogue state routes with the Gin router
func (h *APIHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/v1/dialogue/:tenant")
	{
		api.GET("/pending", h.getPending)
		api.DELETE("/pending", h.deletePending)
		api.GET("/context", h.getLastContext)
		api.DELETE("/context", h.deleteLastContext)
	}
}

// PendingResponse is the body of GET /v1/dialogue/:tenant/pending
type PendingResponse struct {
	TenantID string                        `json:"tenant_id"`
	Pending  *session.PendingClarification `json:"pending"`
}

// ContextResponse is the body of GET /v1/dialogue/:tenant/context
type ContextResponse struct {
	TenantID string               `json:"tenant_id"`
	Context  *session.LastContext `json:"context"`
}

func (h *APIHandler) tenant(c *gin.Context) (string, bool) {
	tenantID := c.Param("tenant")
	if !session.ValidateTenantID(tenantID) {
		h.writeErrorResponse(c, http.StatusBadRequest, "Invalid tenant ID format", nil)
		return "", false
	}
	return tenantID, true
}

// getPending handles GET /v1/dialogue/:tenant/pending
func (h *APIHandler) getPending(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}

	pending, err := h.manager.GetPending(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("Failed to get pending clarification", zap.String("tenant_id", tenantID), zap.Error(err))
		h.writeErrorResponse(c, http.StatusInternalServerError, "Failed to get pending clarification", nil)
		return
	}
	if pending == nil {
		h.writeErrorResponse(c, http.StatusNotFound, "No pending clarification", nil)
		return
	}

	c.JSON(http.StatusOK, PendingResponse{TenantID: tenantID, Pending: pending})
}

// deletePending handles DELETE /v1/dialogue/:tenant/pending
func (h *APIHandler) deletePending(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}

	unlock := h.manager.Lock(tenantID)
	defer unlock()

	if err := h.manager.ClearPending(c.Request.Context(), tenantID); err != nil {
		h.logger.Error("Failed to clear pending clarification", zap.String("tenant_id", tenantID), zap.Error(err))
		h.writeErrorResponse(c, http.StatusInternalServerError, "Failed to clear pending clarification", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Pending clarification cleared"})
}

// getLastContext handles GET /v1/dialogue/:tenant/context
func (h *APIHandler) getLastContext(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}

	last, err := h.manager.GetLastContext(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("Failed to get last context", zap.String("tenant_id", tenantID), zap.Error(err))
		h.writeErrorResponse(c, http.StatusInternalServerError, "Failed to get last context", nil)
		return
	}
	if last == nil {
		h.writeErrorResponse(c, http.StatusNotFound, "No recent context", nil)
		return
	}

	c.JSON(http.StatusOK, ContextResponse{TenantID: tenantID, Context: last})
}

// deleteLastContext handles DELETE /v1/dialogue/:tenant/context
func (h *APIHandler) deleteLastContext(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}

	unlock := h.manager.Lock(tenantID)
	defer unlock()

	if err := h.manager.ClearLastContext(c.Request.Context(), tenantID); err != nil {
		h.logger.Error("Failed to clear last context", zap.String("tenant_id", tenantID), zap.Error(err))
		h.writeErrorResponse(c, http.StatusInternalServerError, "Failed to clear last context", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Last context cleared"})
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeErrorResponse writes a standardized error response
func (h *APIHandler) writeErrorResponse(c *gin.Context, statusCode int, message string, details map[string]interface{}) {
	response := ErrorResponse{
		Error:   message,
		Details: details,
	}

	if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
		if response.Details == nil {
			response.Details = make(map[string]interface{})
		}
		response.Details["request_id"] = requestID
	}

	c.JSON(statusCode, response)
}

// RequestLoggingMiddleware logs one line per request
func RequestLoggingMiddleware(component string) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		var statusColor, methodColor, resetColor string
		if param.IsOutputColor() {
			statusColor = param.StatusCodeColor()
			methodColor = param.MethodColor()
			resetColor = param.ResetColor()
		}

		return fmt.Sprintf("%s[%s]%s %v |%s %3d %s| %13v | %15s |%s %-7s %s %#v\n%s",
			methodColor, component, resetColor,
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			statusColor, param.StatusCode, resetColor,
			param.Latency,
			param.ClientIP,
			methodColor, param.Method, resetColor,
			param.Path,
			param.ErrorMessage,
		)
	})
}

// CORSMiddleware allows browser clients to call the API
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Tenant-ID, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
