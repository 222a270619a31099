// Package videosync reconciles Teams meeting recordings against stored class
// meeting rows: it matches recordings to rows by decoded meeting id, uploads
// missing videos to object storage, and fills each meeting's two video slots
// in recording arrival order.
package videosync

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/artiefy/classroom-backend/internal/graph"
	"github.com/artiefy/classroom-backend/internal/models"
	"github.com/artiefy/classroom-backend/pkg/retry"
)

const (
	// DefaultMaxUploads is the per-invocation upload budget.
	DefaultMaxUploads = 3
	// MinMaxUploads and MaxMaxUploads clamp the caller-provided budget.
	MinMaxUploads = 1
	MaxMaxUploads = 10
	// DefaultDownloadTimeout bounds one recording content download.
	DefaultDownloadTimeout = 90 * time.Second
	// backfillScanLimit bounds the join-URL candidate scan.
	backfillScanLimit = 1000
)

// meetingIDPattern extracts the raw Teams thread id embedded in the
// base64-encoded recording meeting id.
var meetingIDPattern = regexp.MustCompile(`19:meeting_[^@]+@thread\.v2`)

// SyncedVideo is one reconciled recording reference returned to the caller.
type SyncedVideo struct {
	MeetingID   string `json:"meeting_id"`
	VideoKey    string `json:"video_key"`
	VideoURL    string `json:"video_url"`
	CreatedAt   string `json:"created_at,omitempty"`
	IsSecondary bool   `json:"is_secondary"`
}

// Result is the outcome of one reconciliation pass.
type Result struct {
	Synced          []SyncedVideo `json:"synced"`
	UploadsStarted  int           `json:"uploads_started"`
	TotalRecordings int           `json:"total_recordings"`
	HasMore         bool          `json:"has_more"`
}

// MeetingStore is the row persistence the engine needs (implemented by
// meetings.Repository).
type MeetingStore interface {
	FindByMeetingIDs(ctx context.Context, ids []string) ([]models.ClassMeeting, error)
	ListWithJoinURL(ctx context.Context, limit int) ([]models.ClassMeeting, error)
	BackfillMeetingID(ctx context.Context, id int, meetingID string) error
	SetPrimaryVideoKey(ctx context.Context, id int, videoKey string) (bool, error)
	SetSecondaryVideoKey(ctx context.Context, id int, videoKey string) (bool, error)
}

// RecordingSource lists and downloads recordings (implemented by graph.Client).
type RecordingSource interface {
	Token(ctx context.Context) (string, error)
	ListAllRecordings(ctx context.Context, token, organizerID string) ([]graph.Recording, error)
	OpenRecording(ctx context.Context, token, contentURL string) (io.ReadCloser, string, int64, error)
}

// VideoUploader stores video streams (implemented by storage.S3).
type VideoUploader interface {
	NewVideoKey() string
	PublicVideoURL(videoKey string) string
	UploadVideo(ctx context.Context, videoKey, contentType string, body io.Reader, contentLength int64) (string, error)
}

// Engine runs recording reconciliation passes. It is stateless: each Sync
// call reads fresh rows and recordings.
type Engine struct {
	store           MeetingStore
	source          RecordingSource
	uploader        VideoUploader
	logger          *zap.Logger
	downloadTimeout time.Duration
}

// NewEngine creates a reconciliation engine.
func NewEngine(store MeetingStore, source RecordingSource, uploader VideoUploader, downloadTimeout time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if downloadTimeout <= 0 {
		downloadTimeout = DefaultDownloadTimeout
	}
	return &Engine{
		store:           store,
		source:          source,
		uploader:        uploader,
		logger:          logger,
		downloadTimeout: downloadTimeout,
	}
}

// DecodeMeetingID base64-decodes an opaque recording meeting id and extracts
// the embedded 19:meeting_...@thread.v2 identifier. Falls back to the raw
// value when decoding or extraction fails.
func DecodeMeetingID(encoded string) string {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return encoded
		}
	}
	if match := meetingIDPattern.Find(decoded); match != nil {
		return string(match)
	}
	return encoded
}

// ClampMaxUploads normalizes the caller-provided upload budget.
func ClampMaxUploads(n int) int {
	if n == 0 {
		n = DefaultMaxUploads
	}
	if n < MinMaxUploads {
		return MinMaxUploads
	}
	if n > MaxMaxUploads {
		return MaxMaxUploads
	}
	return n
}

// parseCreatedMs parses an ISO timestamp to Unix millis; missing or invalid
// timestamps sort as epoch 0.
func parseCreatedMs(iso string) int64 {
	if iso == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// meetingGroup is all recordings sharing one decoded meeting id, plus the
// rows known for it.
type meetingGroup struct {
	meetingID  string
	recordings []graph.Recording
	rows       []*models.ClassMeeting
}

// Sync runs one reconciliation pass for the given meeting organizer.
func (e *Engine) Sync(ctx context.Context, organizerID string, maxUploads int) (*Result, error) {
	budget := ClampMaxUploads(maxUploads)

	token, err := e.source.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph auth: %w", err)
	}
	recordings, err := e.source.ListAllRecordings(ctx, token, organizerID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	if len(recordings) == 0 {
		return &Result{Synced: []SyncedVideo{}}, nil
	}

	groups := e.groupRecordings(recordings)
	if err := e.resolveRows(ctx, groups); err != nil {
		return nil, err
	}

	var synced []SyncedVideo
	uploadsStarted := 0
	for _, g := range groups {
		emitted, uploads, err := e.reconcileGroup(ctx, token, g, budget-uploadsStarted)
		if err != nil {
			// One bad meeting must not abort the rest of the batch.
			e.logger.Error("meeting reconciliation failed",
				zap.String("meeting_id", g.meetingID),
				zap.Error(err),
			)
			continue
		}
		synced = append(synced, emitted...)
		uploadsStarted += uploads
	}

	return &Result{
		Synced:          dedupSynced(synced),
		UploadsStarted:  uploadsStarted,
		TotalRecordings: len(recordings),
		HasMore:         hasMore(groups),
	}, nil
}

// groupRecordings decodes meeting ids and groups recordings by decoded id,
// preserving first-seen order.
func (e *Engine) groupRecordings(recordings []graph.Recording) []*meetingGroup {
	var groups []*meetingGroup
	byID := make(map[string]*meetingGroup)
	for _, r := range recordings {
		decoded := DecodeMeetingID(r.MeetingID)
		if decoded == "" {
			continue
		}
		g, ok := byID[decoded]
		if !ok {
			g = &meetingGroup{meetingID: decoded}
			byID[decoded] = g
			groups = append(groups, g)
		}
		r.MeetingID = decoded
		g.recordings = append(g.recordings, r)
	}
	return groups
}

// resolveRows loads rows for every group by exact meeting_id match, then
// backfills meeting_id for unmatched groups via join-URL substring matching.
func (e *Engine) resolveRows(ctx context.Context, groups []*meetingGroup) error {
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.meetingID)
	}

	var rows []models.ClassMeeting
	err := retry.Do(ctx, e.logger, "find meetings by id", func(ctx context.Context) error {
		var err error
		rows, err = e.store.FindByMeetingIDs(ctx, ids)
		return err
	})
	if err != nil {
		return fmt.Errorf("load meeting rows: %w", err)
	}

	byID := make(map[string]*meetingGroup, len(groups))
	for _, g := range groups {
		byID[g.meetingID] = g
	}
	for i := range rows {
		row := &rows[i]
		if row.MeetingID == nil {
			continue
		}
		if g, ok := byID[*row.MeetingID]; ok {
			g.rows = append(g.rows, row)
		}
	}

	var missing []*meetingGroup
	for _, g := range groups {
		if len(g.rows) == 0 {
			missing = append(missing, g)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	// Rows scheduled before the Teams thread id was known carry only a join
	// URL; match the decoded id against the URL-decoded join link.
	var candidates []models.ClassMeeting
	err = retry.Do(ctx, e.logger, "list join-url candidates", func(ctx context.Context) error {
		var err error
		candidates, err = e.store.ListWithJoinURL(ctx, backfillScanLimit)
		return err
	})
	if err != nil {
		return fmt.Errorf("load backfill candidates: %w", err)
	}

	for _, g := range missing {
		for i := range candidates {
			row := &candidates[i]
			if row.JoinURL == nil {
				continue
			}
			decodedJoin, err := url.QueryUnescape(*row.JoinURL)
			if err != nil {
				decodedJoin = *row.JoinURL
			}
			if !strings.Contains(decodedJoin, g.meetingID) {
				continue
			}
			mid := g.meetingID
			row.MeetingID = &mid
			g.rows = append(g.rows, row)
			rowID := row.ID
			if err := retry.Do(ctx, e.logger, "backfill meeting_id", func(ctx context.Context) error {
				return e.store.BackfillMeetingID(ctx, rowID, mid)
			}); err != nil {
				return fmt.Errorf("backfill meeting %d: %w", rowID, err)
			}
			e.logger.Info("backfilled meeting_id from join URL",
				zap.Int("row_id", rowID),
				zap.String("meeting_id", mid),
			)
		}
	}
	return nil
}

// reconcileGroup emits known video refs for one meeting and uploads missing
// recordings, bounded by the remaining upload budget.
func (e *Engine) reconcileGroup(ctx context.Context, token string, g *meetingGroup, remainingBudget int) ([]SyncedVideo, int, error) {
	if len(g.rows) == 0 {
		return nil, 0, nil
	}

	var rowWithPrimary, rowWithSecondary *models.ClassMeeting
	for _, row := range g.rows {
		if rowWithPrimary == nil && row.HasPrimary() {
			rowWithPrimary = row
		}
		if rowWithSecondary == nil && row.HasSecondary() {
			rowWithSecondary = row
		}
	}

	sorted := make([]graph.Recording, len(g.recordings))
	copy(sorted, g.recordings)
	sortRecordingsByCreated(sorted)

	createdAt := func(i int) string {
		if i < len(sorted) {
			return sorted[i].CreatedDateTime
		}
		if len(sorted) > 0 {
			return sorted[0].CreatedDateTime
		}
		return ""
	}

	// Fully synced: both slots already hold keys somewhere in the group.
	if rowWithPrimary != nil && rowWithSecondary != nil {
		return []SyncedVideo{
			e.videoRef(g.meetingID, *rowWithPrimary.VideoKey, createdAt(0), false),
			e.videoRef(g.meetingID, *rowWithSecondary.VideoKey2, createdAt(1), true),
		}, 0, nil
	}

	firstRecMs := int64(0)
	if len(sorted) > 0 {
		firstRecMs = parseCreatedMs(sorted[0].CreatedDateTime)
	}

	// Target row: keep filling a row that has a primary but no secondary;
	// otherwise the row whose start is closest to the earliest recording.
	targetRow := rowWithPrimary
	if targetRow == nil || targetRow.HasSecondary() {
		targetRow = pickClosestRow(g.rows, firstRecMs)
	}

	var synced []SyncedVideo
	primaryKey, secondaryKey := "", ""
	if rowWithPrimary != nil {
		primaryKey = *rowWithPrimary.VideoKey
		synced = append(synced, e.videoRef(g.meetingID, primaryKey, createdAt(0), false))
	}
	if rowWithSecondary != nil {
		secondaryKey = *rowWithSecondary.VideoKey2
		synced = append(synced, e.videoRef(g.meetingID, secondaryKey, createdAt(1), true))
	}

	uploads := 0
	for _, rec := range sorted {
		if primaryKey != "" && secondaryKey != "" {
			break
		}
		if uploads >= remainingBudget {
			break
		}
		if rec.RecordingContentURL == "" {
			continue
		}

		videoKey, ok := e.uploadRecording(ctx, token, g.meetingID, rec)
		if !ok {
			continue
		}
		uploads++

		fillSecondary := primaryKey != ""
		stored, err := e.storeVideoKey(ctx, targetRow.ID, videoKey, fillSecondary)
		if err != nil {
			return synced, uploads, err
		}
		if !stored {
			// A concurrent pass filled the slot first: our row snapshot is
			// stale. Stop filling this meeting; the next pass re-reads.
			e.logger.Warn("video slot already filled, stopping fill for meeting",
				zap.String("meeting_id", g.meetingID),
				zap.Int("row_id", targetRow.ID),
				zap.Bool("secondary", fillSecondary),
			)
			break
		}
		if fillSecondary {
			secondaryKey = videoKey
			targetRow.VideoKey2 = &secondaryKey
		} else {
			primaryKey = videoKey
			targetRow.VideoKey = &primaryKey
		}
		synced = append(synced, e.videoRef(g.meetingID, videoKey, rec.CreatedDateTime, fillSecondary))
	}

	return synced, uploads, nil
}

// uploadRecording streams one recording into object storage. Failures are
// logged and reported as a skip, never an error, so the rest of the batch
// proceeds.
func (e *Engine) uploadRecording(ctx context.Context, token, meetingID string, rec graph.Recording) (string, bool) {
	dlCtx, cancel := context.WithTimeout(ctx, e.downloadTimeout)
	defer cancel()

	body, contentType, contentLength, err := e.source.OpenRecording(dlCtx, token, rec.RecordingContentURL)
	if err != nil {
		e.logger.Warn("recording download failed, skipping",
			zap.String("meeting_id", meetingID),
			zap.Error(err),
		)
		return "", false
	}
	defer body.Close()

	videoKey := e.uploader.NewVideoKey()
	e.logger.Info("uploading recording",
		zap.String("meeting_id", meetingID),
		zap.String("video_key", videoKey),
	)
	if _, err := e.uploader.UploadVideo(dlCtx, videoKey, contentType, body, contentLength); err != nil {
		e.logger.Warn("recording upload failed, skipping",
			zap.String("meeting_id", meetingID),
			zap.String("video_key", videoKey),
			zap.Error(err),
		)
		return "", false
	}
	return videoKey, true
}

func (e *Engine) storeVideoKey(ctx context.Context, rowID int, videoKey string, secondary bool) (bool, error) {
	var stored bool
	err := retry.Do(ctx, e.logger, "store video key", func(ctx context.Context) error {
		var err error
		if secondary {
			stored, err = e.store.SetSecondaryVideoKey(ctx, rowID, videoKey)
		} else {
			stored, err = e.store.SetPrimaryVideoKey(ctx, rowID, videoKey)
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store video key for row %d: %w", rowID, err)
	}
	return stored, nil
}

func (e *Engine) videoRef(meetingID, videoKey, createdAt string, secondary bool) SyncedVideo {
	return SyncedVideo{
		MeetingID:   meetingID,
		VideoKey:    videoKey,
		VideoURL:    e.uploader.PublicVideoURL(videoKey),
		CreatedAt:   createdAt,
		IsSecondary: secondary,
	}
}

// sortRecordingsByCreated orders by creation time ascending; missing
// timestamps sort first (epoch 0). Insertion order breaks ties.
func sortRecordingsByCreated(recs []graph.Recording) {
	// Stable insertion sort: groups are tiny (expected cardinality 1-2).
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && parseCreatedMs(recs[j].CreatedDateTime) < parseCreatedMs(recs[j-1].CreatedDateTime); j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}

// pickClosestRow returns the row whose start time is numerically closest to
// recTimeMs. Rows without a start time are infinitely far. A zero recTimeMs
// (unknown recording time) picks the first row.
func pickClosestRow(rows []*models.ClassMeeting, recTimeMs int64) *models.ClassMeeting {
	if recTimeMs == 0 {
		return rows[0]
	}
	best := rows[0]
	bestDist := rowDistance(best, recTimeMs)
	for _, row := range rows[1:] {
		if d := rowDistance(row, recTimeMs); d < bestDist {
			best, bestDist = row, d
		}
	}
	return best
}

func rowDistance(row *models.ClassMeeting, recTimeMs int64) float64 {
	if row.StartDateTime == nil {
		return math.Inf(1)
	}
	return math.Abs(float64(row.StartDateTime.UnixMilli() - recTimeMs))
}

// dedupSynced collapses refs by (meetingID, videoKey), keeping first
// occurrence order.
func dedupSynced(synced []SyncedVideo) []SyncedVideo {
	out := make([]SyncedVideo, 0, len(synced))
	seen := make(map[string]struct{}, len(synced))
	for _, s := range synced {
		k := s.MeetingID + "|" + s.VideoKey
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}

// hasMore reports whether another pass is needed: some meeting with rows
// still lacks a primary key, or has multiple recordings but no secondary.
func hasMore(groups []*meetingGroup) bool {
	for _, g := range groups {
		if len(g.rows) == 0 {
			continue
		}
		hasPrimary, hasSecondary := false, false
		for _, row := range g.rows {
			if row.HasPrimary() {
				hasPrimary = true
			}
			if row.HasSecondary() {
				hasSecondary = true
			}
		}
		if !hasPrimary {
			return true
		}
		if len(g.recordings) > 1 && !hasSecondary {
			return true
		}
	}
	return false
}
