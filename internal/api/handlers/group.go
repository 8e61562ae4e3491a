package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/waconnect/waconnect-go/internal/client"
	"go.uber.org/zap"
)

// GroupHandler handles group-related requests
type GroupHandler struct {
	sessionManager *client.SessionManager
	logger         *zap.SugaredLogger
}

// NewGroupHandler creates a new group handler
func NewGroupHandler(sm *client.SessionManager, logger *zap.SugaredLogger) *GroupHandler {
	return &GroupHandler{
		sessionManager: sm,
		logger:         logger,
	}
}

// CreateGroupRequest represents a group creation request
type CreateGroupRequest struct {
	SessionID    string   `json:"sessionId"`
	Subject      string   `json:"subject"`
	Participants []string `json:"participants"`
}

// Create handles group creation
func (h *GroupHandler) Create(c *fiber.Ctx) error {
	var req CreateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}
	if req.SessionID == "" || req.Subject == "" || len(req.Participants) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "sessionId, subject, and participants are required",
		})
	}

	session, exists := h.sessionManager.GetSession(req.SessionID)
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Session not found",
		})
	}

	result, err := session.CreateGroup(req.Subject, req.Participants)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    result,
	})
}

// ParticipantsRequest represents an add/remove/promote/demote request
type ParticipantsRequest struct {
	SessionID    string   `json:"sessionId"`
	GroupJID     string   `json:"groupJid"`
	Action       string   `json:"action"`
	Participants []string `json:"participants"`
}

// UpdateParticipants handles add/remove/promote/demote
func (h *GroupHandler) UpdateParticipants(c *fiber.Ctx) error {
	var req ParticipantsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}
	switch req.Action {
	case client.GroupActionAdd, client.GroupActionRemove, client.GroupActionPromote, client.GroupActionDemote:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "action must be one of add, remove, promote, demote",
		})
	}

	session, exists := h.sessionManager.GetSession(req.SessionID)
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Session not found",
		})
	}

	if err := session.UpdateGroupParticipants(req.GroupJID, req.Action, req.Participants); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{"success": true})
}

// LeaveRequest represents a group-leave request
type LeaveGroupRequest struct {
	SessionID string `json:"sessionId"`
	GroupJID  string `json:"groupJid"`
}

// Leave handles leaving a group
func (h *GroupHandler) Leave(c *fiber.Ctx) error {
	var req LeaveGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	session, exists := h.sessionManager.GetSession(req.SessionID)
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Session not found",
		})
	}

	if err := session.LeaveGroup(req.GroupJID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{"success": true})
}
