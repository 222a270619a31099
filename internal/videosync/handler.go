package videosync

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/artiefy/classroom-backend/pkg/queue"
	"github.com/artiefy/classroom-backend/pkg/response"
)

// SyncRequest is the body for POST /videos/sync.
type SyncRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	MaxUploads int    `json:"max_uploads"`
	Async      bool   `json:"async"`
}

// Handler exposes recording reconciliation over HTTP.
type Handler struct {
	engine *Engine
	queue  *queue.Queue
	logger *zap.Logger
}

// NewHandler creates a videosync handler. queue may be nil; async requests
// are then rejected.
func NewHandler(engine *Engine, q *queue.Queue, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, queue: q, logger: logger}
}

// Sync handles POST /videos/sync. The organizer's recordings are reconciled
// inline unless async is set, in which case a worker job is enqueued.
func (h *Handler) Sync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "user_id is required")
		return
	}

	if req.Async {
		if h.queue == nil {
			response.ServiceUnavailable(c, "background sync is not available")
			return
		}
		payload := queue.VideoSyncPayload{OrganizerID: req.UserID, MaxUploads: ClampMaxUploads(req.MaxUploads)}
		if err := h.queue.EnqueueVideoSync(c.Request.Context(), payload); err != nil {
			h.logger.Error("enqueue video sync failed", zap.Error(err), zap.String("organizer_id", req.UserID))
			response.Internal(c, "failed to enqueue sync job")
			return
		}
		response.OK(c, gin.H{"enqueued": true})
		return
	}

	result, err := h.engine.Sync(c.Request.Context(), req.UserID, req.MaxUploads)
	if err != nil {
		h.logger.Error("video sync failed", zap.Error(err), zap.String("organizer_id", req.UserID))
		response.Internal(c, "video sync failed")
		return
	}
	response.OK(c, result)
}
