// Package handlers provides HTTP API request handlers.
package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/focus-coach/companion/internal/background"
	"github.com/focus-coach/companion/internal/model"
)

// Controller is the background controller surface the API drives.
type Controller interface {
	Dispatch(ctx context.Context, msg background.ControlMessage) error
	RecordInteraction(ctx context.Context) error
	Snapshot(ctx context.Context) (*background.Snapshot, error)
}

// LogSource serves recent log lines.
type LogSource interface {
	Lines(n int) []string
}

// AgentHandler handles HTTP requests from the local UI.
type AgentHandler struct {
	controller Controller
	logs       LogSource
}

// NewAgentHandler creates a new AgentHandler. logs may be nil.
func NewAgentHandler(controller Controller, logs LogSource) *AgentHandler {
	return &AgentHandler{
		controller: controller,
		logs:       logs,
	}
}

// ControlRequest represents the request body for POST /api/messages.
type ControlRequest struct {
	Type     string `json:"type" binding:"required"`
	Duration int64  `json:"duration"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

// FocusRequest represents the request body for POST /api/focus.
type FocusRequest struct {
	Duration int64 `json:"duration" binding:"required"`
}

// NotificationRequest represents the request body for POST /api/notifications.
type NotificationRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// StatusResponse represents the agent state in API responses.
type StatusResponse struct {
	Connected          bool   `json:"connected"`
	ConnectionState    string `json:"connectionState"`
	ConnectionID       string `json:"connectionId,omitempty"`
	Attempts           int    `json:"attempts"`
	ReconnectScheduled bool   `json:"reconnectScheduled"`
	Exhausted          bool   `json:"exhausted"`
	LastPongAt         string `json:"lastPongAt,omitempty"`
	LastRTT            string `json:"lastRtt,omitempty"`

	Focusing            bool    `json:"focusing"`
	SinceLastChange     float64 `json:"sinceLastChange"`
	SinceLastChangeText string  `json:"sinceLastChangeText"`
	FocusTimeLeft       float64 `json:"focusTimeLeft"`
	FocusTimeLeftText   string  `json:"focusTimeLeftText"`
	LastUpdatedAt       string  `json:"lastUpdatedAt,omitempty"`

	LastInteraction     float64 `json:"lastInteraction"`
	LastInteractionText string  `json:"lastInteractionText"`
	LastReminderAt      string  `json:"lastReminderAt,omitempty"`
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

// sendControlError maps controller errors onto HTTP responses.
func sendControlError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrUnknownControl), errors.Is(err, model.ErrInvalidDuration):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, model.ErrNotConnected):
		sendError(c, http.StatusServiceUnavailable, "NOT_CONNECTED", err.Error())
	default:
		log.Printf("api: request failed: %v", err)
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func toStatusResponse(s *background.Snapshot) *StatusResponse {
	resp := &StatusResponse{
		Connected:           s.Connected,
		ConnectionState:     "unknown",
		Focusing:            s.Focus.Focusing,
		SinceLastChange:     s.Focus.SinceLastChange,
		SinceLastChangeText: model.FormatSeconds(s.Focus.SinceLastChange, false),
		FocusTimeLeft:       s.Focus.FocusTimeLeft,
		FocusTimeLeftText:   model.FormatSeconds(s.Focus.FocusTimeLeft, true),
		LastUpdatedAt:       formatMillis(s.Focus.LastUpdateTimestamp),
		LastInteraction:     s.Interaction.LastInteraction,
		LastInteractionText: model.FormatSeconds(s.Interaction.LastInteraction, true),
		LastReminderAt:      formatMillis(s.LastNotificationSent),
	}

	if conn := s.Connection; conn != nil {
		resp.ConnectionState = conn.State.String()
		resp.ConnectionID = conn.ConnectionID
		resp.Attempts = conn.Attempts
		resp.ReconnectScheduled = conn.ReconnectScheduled
		resp.Exhausted = conn.Exhausted
		if !conn.LastPong.IsZero() {
			resp.LastPongAt = conn.LastPong.UTC().Format(time.RFC3339)
			resp.LastRTT = conn.LastRTT.String()
		}
	}

	return resp
}

// Status handles GET /api/status - returns connection and focus state.
func (h *AgentHandler) Status(c *gin.Context) {
	snap, err := h.controller.Snapshot(c.Request.Context())
	if err != nil {
		sendControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, toStatusResponse(snap))
}

// Message handles POST /api/messages - dispatches a raw control message.
func (h *AgentHandler) Message(c *gin.Context) {
	var req ControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	h.dispatch(c, background.ControlMessage{
		Type:     background.ControlType(req.Type),
		Duration: req.Duration,
		Title:    req.Title,
		Body:     req.Body,
	})
}

// Focus handles POST /api/focus - starts a focus session on the server.
func (h *AgentHandler) Focus(c *gin.Context) {
	var req FocusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	h.dispatch(c, background.ControlMessage{Type: background.ControlFocus, Duration: req.Duration})
}

// Reconnect handles POST /api/reconnect - forces a reconnect.
func (h *AgentHandler) Reconnect(c *gin.Context) {
	h.dispatch(c, background.ControlMessage{Type: background.ControlReconnect})
}

// Notify handles POST /api/notifications - shows a local notification.
func (h *AgentHandler) Notify(c *gin.Context) {
	var req NotificationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
			return
		}
	}

	h.dispatch(c, background.ControlMessage{
		Type:  background.ControlShowNotification,
		Title: req.Title,
		Body:  req.Body,
	})
}

// Interaction handles POST /api/interaction - records a page navigation.
func (h *AgentHandler) Interaction(c *gin.Context) {
	if err := h.controller.RecordInteraction(c.Request.Context()); err != nil {
		sendControlError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Logs handles GET /api/logs - returns recent log lines.
func (h *AgentHandler) Logs(c *gin.Context) {
	n := 0
	if v := c.Query("lines"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "lines must be a non-negative integer")
			return
		}
		n = parsed
	}

	lines := []string{}
	if h.logs != nil {
		lines = append(lines, h.logs.Lines(n)...)
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

func (h *AgentHandler) dispatch(c *gin.Context, msg background.ControlMessage) {
	if err := h.controller.Dispatch(c.Request.Context(), msg); err != nil {
		sendControlError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "type": msg.Type})
}

// RegisterRoutes registers the agent handler routes on a Gin router group.
func (h *AgentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", h.Status)
	rg.POST("/messages", h.Message)
	rg.POST("/focus", h.Focus)
	rg.POST("/reconnect", h.Reconnect)
	rg.POST("/notifications", h.Notify)
	rg.POST("/interaction", h.Interaction)
	rg.GET("/logs", h.Logs)
}
