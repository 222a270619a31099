package access

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/artiefy/classroom-backend/pkg/response"
)

// RegisterRequest is the body for POST /access/register.
type RegisterRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Action string `json:"action" binding:"required,oneof=entry exit"`
}

// Handler handles door access endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates an access handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// Register handles POST /access/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "user_id and action (entry|exit) are required")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(c, "invalid user_id")
		return
	}

	result, err := h.service.Register(c.Request.Context(), userID, Action(req.Action))
	switch {
	case errors.Is(err, ErrUserNotFound):
		response.NotFound(c, "user not found")
	case errors.Is(err, ErrNoOpenEntry):
		response.NotFound(c, "no open entry for user")
	case errors.Is(err, ErrSubscriptionInactive):
		response.Forbidden(c, "subscription inactive")
	case err != nil:
		h.logger.Error("access registration failed", zap.Error(err), zap.String("user_id", req.UserID))
		response.Internal(c, "access registration failed")
	default:
		response.OK(c, result)
	}
}

// Logs handles GET /access/logs?user_id=&limit=.
func (h *Handler) Logs(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		response.BadRequest(c, "invalid user_id")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	logs, err := h.service.Logs(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("list access logs failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to list access logs")
		return
	}
	response.OK(c, logs)
}

// DoorHealth handles GET /access/door/health.
func (h *Handler) DoorHealth(c *gin.Context) {
	response.OK(c, h.service.DoorHealth(c.Request.Context()))
}
