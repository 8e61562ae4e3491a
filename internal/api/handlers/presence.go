package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/waconnect/waconnect-go/internal/client"
	"go.uber.org/zap"
)

// PresenceHandler handles presence-related requests
type PresenceHandler struct {
	sessionManager *client.SessionManager
	logger         *zap.SugaredLogger
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(sm *client.SessionManager, logger *zap.SugaredLogger) *PresenceHandler {
	return &PresenceHandler{
		sessionManager: sm,
		logger:         logger,
	}
}

// SetPresenceRequest represents a presence update request. ChatJID is
// optional: empty means "update my own availability"; set means "send a
// typing indicator for this chat".
type SetPresenceRequest struct {
	SessionID string `json:"sessionId"`
	ChatJID   string `json:"chatJid"`
	State     string `json:"state"`
}

// Set handles presence updates
func (h *PresenceHandler) Set(c *fiber.Ctx) error {
	var req SetPresenceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}
	switch req.State {
	case client.PresenceAvailable, client.PresenceUnavailable, client.PresenceComposing, client.PresencePaused:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "state must be one of available, unavailable, composing, paused",
		})
	}

	session, exists := h.sessionManager.GetSession(req.SessionID)
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Session not found",
		})
	}

	if err := session.SendPresence(req.ChatJID, req.State); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{"success": true})
}
