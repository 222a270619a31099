package meetings

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/artiefy/classroom-backend/internal/models"
	"github.com/artiefy/classroom-backend/pkg/response"
)

// CreateRequest is the body for POST /meetings.
type CreateRequest struct {
	CourseID      *int       `json:"course_id"`
	Title         string     `json:"title" binding:"required"`
	JoinURL       *string    `json:"join_url"`
	MeetingID     *string    `json:"meeting_id"`
	StartDateTime *time.Time `json:"start_date_time"`
	EndDateTime   *time.Time `json:"end_date_time"`
}

// Handler handles class meeting HTTP endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a meetings handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Create handles POST /meetings.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m := &models.ClassMeeting{
		CourseID:      req.CourseID,
		Title:         req.Title,
		JoinURL:       req.JoinURL,
		MeetingID:     req.MeetingID,
		StartDateTime: req.StartDateTime,
		EndDateTime:   req.EndDateTime,
	}
	if err := h.repo.Create(c.Request.Context(), m); err != nil {
		h.logger.Error("create meeting failed", zap.Error(err))
		response.Internal(c, "failed to create meeting")
		return
	}
	response.Created(c, m)
}

// GetByID handles GET /meetings/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	m, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("get meeting failed", zap.Error(err), zap.Int("id", id))
		response.Internal(c, "failed to load meeting")
		return
	}
	if m == nil {
		response.NotFound(c, "meeting not found")
		return
	}
	response.OK(c, m)
}

// ListByCourse handles GET /courses/:id/meetings.
func (h *Handler) ListByCourse(c *gin.Context) {
	courseID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	list, err := h.repo.ListByCourse(c.Request.Context(), courseID)
	if err != nil {
		h.logger.Error("list meetings failed", zap.Error(err), zap.Int("course_id", courseID))
		response.Internal(c, "failed to list meetings")
		return
	}
	response.OK(c, list)
}
