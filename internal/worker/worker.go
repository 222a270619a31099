// Package worker consumes background jobs from the Redis queue. Currently
// the only job kind is recording reconciliation for one meeting organizer.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/artiefy/classroom-backend/internal/videosync"
	"github.com/artiefy/classroom-backend/pkg/queue"
)

// Syncer runs one reconciliation pass (implemented by videosync.Engine).
type Syncer interface {
	Sync(ctx context.Context, organizerID string, maxUploads int) (*videosync.Result, error)
}

// JobQueue is the queue surface the processor needs (implemented by
// queue.Queue).
type JobQueue interface {
	EnqueueVideoSync(ctx context.Context, payload queue.VideoSyncPayload) error
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// VideoSyncProcessor runs recording reconciliation jobs.
type VideoSyncProcessor struct {
	engine Syncer
	queue  JobQueue
	logger *zap.Logger
}

// NewVideoSyncProcessor creates a video sync job processor.
func NewVideoSyncProcessor(engine Syncer, q JobQueue, logger *zap.Logger) *VideoSyncProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VideoSyncProcessor{engine: engine, queue: q, logger: logger}
}

// Process executes one reconciliation job.
func (p *VideoSyncProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeVideoSync {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.VideoSyncPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	result, err := p.engine.Sync(ctx, payload.OrganizerID, payload.MaxUploads)
	if err != nil {
		return fmt.Errorf("sync organizer %s: %w", payload.OrganizerID, err)
	}

	p.logger.Info("video sync job completed",
		zap.String("job_id", job.ID),
		zap.String("organizer_id", payload.OrganizerID),
		zap.Int("uploads_started", result.UploadsStarted),
		zap.Int("total_recordings", result.TotalRecordings),
		zap.Bool("has_more", result.HasMore),
	)

	// Schedule another pass only when this one made progress and ran out of
	// budget. A pass that uploaded nothing would re-enqueue the same stuck
	// payload in a tight loop; that backlog waits for the next trigger.
	if result.HasMore && result.UploadsStarted > 0 {
		if err := p.queue.EnqueueVideoSync(ctx, payload); err != nil {
			p.logger.Error("re-enqueue for remaining recordings failed", zap.Error(err))
		}
	}
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *VideoSyncProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("video sync worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
