package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/artiefy/classroom-backend/internal/videosync"
	"github.com/artiefy/classroom-backend/pkg/queue"
)

type fakeSyncer struct {
	result *videosync.Result
	err    error
	calls  int
}

func (f *fakeSyncer) Sync(ctx context.Context, organizerID string, maxUploads int) (*videosync.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeQueue struct {
	enqueued []queue.VideoSyncPayload
	retried  int
}

func (f *fakeQueue) EnqueueVideoSync(ctx context.Context, payload queue.VideoSyncPayload) error {
	f.enqueued = append(f.enqueued, payload)
	return nil
}

func (f *fakeQueue) Dequeue(ctx context.Context) (*queue.Job, string, error) {
	return nil, "", nil
}

func (f *fakeQueue) Retry(ctx context.Context, job *queue.Job) error {
	f.retried++
	return nil
}

func syncJob(t *testing.T, payload queue.VideoSyncPayload) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &queue.Job{ID: "job-1", Type: queue.JobTypeVideoSync, Payload: raw}
}

func TestProcessReenqueuesAfterPartialProgress(t *testing.T) {
	syncer := &fakeSyncer{result: &videosync.Result{UploadsStarted: 3, TotalRecordings: 9, HasMore: true}}
	q := &fakeQueue{}
	p := NewVideoSyncProcessor(syncer, q, nil)

	payload := queue.VideoSyncPayload{OrganizerID: "org-1", MaxUploads: 3}
	if err := p.Process(context.Background(), syncJob(t, payload)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(q.enqueued) != 1 {
		t.Fatalf("expected a follow-up job, got %d", len(q.enqueued))
	}
	if q.enqueued[0] != payload {
		t.Fatalf("expected the same payload re-enqueued, got %+v", q.enqueued[0])
	}
}

func TestProcessStuckBacklogEndsChain(t *testing.T) {
	// hasMore with zero uploads means the backlog cannot advance (missing
	// content URLs, persistent download failures). Re-enqueueing it would
	// spin forever against the same state.
	syncer := &fakeSyncer{result: &videosync.Result{UploadsStarted: 0, TotalRecordings: 2, HasMore: true}}
	q := &fakeQueue{}
	p := NewVideoSyncProcessor(syncer, q, nil)

	if err := p.Process(context.Background(), syncJob(t, queue.VideoSyncPayload{OrganizerID: "org-1"})); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(q.enqueued) != 0 {
		t.Fatalf("expected no follow-up job for a stuck backlog, got %d", len(q.enqueued))
	}
}

func TestProcessCompletedBacklogNotReenqueued(t *testing.T) {
	syncer := &fakeSyncer{result: &videosync.Result{UploadsStarted: 2, HasMore: false}}
	q := &fakeQueue{}
	p := NewVideoSyncProcessor(syncer, q, nil)

	if err := p.Process(context.Background(), syncJob(t, queue.VideoSyncPayload{OrganizerID: "org-1"})); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(q.enqueued) != 0 {
		t.Fatalf("expected no follow-up job, got %d", len(q.enqueued))
	}
}

func TestProcessSyncErrorPropagates(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("graph auth: invalid_client")}
	p := NewVideoSyncProcessor(syncer, &fakeQueue{}, nil)

	if err := p.Process(context.Background(), syncJob(t, queue.VideoSyncPayload{OrganizerID: "org-1"})); err == nil {
		t.Fatal("expected sync error to propagate for queue retry")
	}
}

func TestProcessRejectsUnknownJobType(t *testing.T) {
	p := NewVideoSyncProcessor(&fakeSyncer{result: &videosync.Result{}}, &fakeQueue{}, nil)
	job := &queue.Job{ID: "job-2", Type: "email_blast"}
	if err := p.Process(context.Background(), job); err == nil {
		t.Fatal("expected error for unknown job type")
	}
}
