package videosync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/artiefy/classroom-backend/internal/graph"
	"github.com/artiefy/classroom-backend/internal/models"
)

// encodeMeetingID builds the opaque base64 id Graph returns, embedding the
// raw thread identifier the way real recording ids do.
func encodeMeetingID(raw string) string {
	blob := "1*xyz*0**" + raw + "**extra"
	return base64.StdEncoding.EncodeToString([]byte(blob))
}

type fakeStore struct {
	mu         sync.Mutex
	rows       []models.ClassMeeting
	backfilled map[int]string
}

func newFakeStore(rows ...models.ClassMeeting) *fakeStore {
	return &fakeStore{rows: rows, backfilled: make(map[int]string)}
}

func (s *fakeStore) FindByMeetingIDs(ctx context.Context, ids []string) ([]models.ClassMeeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []models.ClassMeeting
	for _, row := range s.rows {
		if row.MeetingID == nil {
			continue
		}
		if _, ok := want[*row.MeetingID]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeStore) ListWithJoinURL(ctx context.Context, limit int) ([]models.ClassMeeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ClassMeeting
	for _, row := range s.rows {
		if row.JoinURL != nil {
			out = append(out, row)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) BackfillMeetingID(ctx context.Context, id int, meetingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == id {
			mid := meetingID
			s.rows[i].MeetingID = &mid
			s.backfilled[id] = meetingID
			return nil
		}
	}
	return fmt.Errorf("row %d not found", id)
}

func (s *fakeStore) SetPrimaryVideoKey(ctx context.Context, id int, videoKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == id {
			if s.rows[i].VideoKey != nil {
				return false, nil
			}
			k := videoKey
			s.rows[i].VideoKey = &k
			return true, nil
		}
	}
	return false, fmt.Errorf("row %d not found", id)
}

func (s *fakeStore) SetSecondaryVideoKey(ctx context.Context, id int, videoKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == id {
			if s.rows[i].VideoKey2 != nil {
				return false, nil
			}
			k := videoKey
			s.rows[i].VideoKey2 = &k
			return true, nil
		}
	}
	return false, fmt.Errorf("row %d not found", id)
}

func (s *fakeStore) row(id int) *models.ClassMeeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == id {
			cp := s.rows[i]
			return &cp
		}
	}
	return nil
}

type fakeSource struct {
	recordings  []graph.Recording
	failURLs    map[string]bool
	tokenErr    error
	listErr     error
	downloadLog []string
}

func (s *fakeSource) Token(ctx context.Context) (string, error) {
	if s.tokenErr != nil {
		return "", s.tokenErr
	}
	return "tok", nil
}

func (s *fakeSource) ListAllRecordings(ctx context.Context, token, organizerID string) ([]graph.Recording, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.recordings, nil
}

func (s *fakeSource) OpenRecording(ctx context.Context, token, contentURL string) (io.ReadCloser, string, int64, error) {
	s.downloadLog = append(s.downloadLog, contentURL)
	if s.failURLs[contentURL] {
		return nil, "", 0, errors.New("connection refused")
	}
	return io.NopCloser(strings.NewReader("video-bytes")), "video/mp4", 11, nil
}

type fakeUploader struct {
	nextKey int
	uploads []string
	failAll bool
}

func (u *fakeUploader) NewVideoKey() string {
	u.nextKey++
	return fmt.Sprintf("key-%d.mp4", u.nextKey)
}

func (u *fakeUploader) PublicVideoURL(videoKey string) string {
	return "https://s3.us-east-2.amazonaws.com/artiefy-upload/video_clase/" + videoKey
}

func (u *fakeUploader) UploadVideo(ctx context.Context, videoKey, contentType string, body io.Reader, contentLength int64) (string, error) {
	if u.failAll {
		return "", errors.New("upload failed")
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	u.uploads = append(u.uploads, videoKey)
	return u.PublicVideoURL(videoKey), nil
}

func newTestEngine(store *fakeStore, source *fakeSource, uploader *fakeUploader) *Engine {
	return NewEngine(store, source, uploader, time.Second, nil)
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

var baseTime = time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)

func iso(t time.Time) string { return t.Format(time.RFC3339) }

func TestDecodeMeetingID(t *testing.T) {
	raw := "19:meeting_YWJjZGVm@thread.v2"
	if got := DecodeMeetingID(encodeMeetingID(raw)); got != raw {
		t.Fatalf("expected %q, got %q", raw, got)
	}
	// Not base64: fall back to the raw value.
	if got := DecodeMeetingID("!!!not-base64!!!"); got != "!!!not-base64!!!" {
		t.Fatalf("expected passthrough, got %q", got)
	}
	// Valid base64 without the embedded pattern: fall back too.
	plain := base64.StdEncoding.EncodeToString([]byte("no meeting here"))
	if got := DecodeMeetingID(plain); got != plain {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestClampMaxUploads(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 3}, {-2, 1}, {1, 1}, {5, 5}, {10, 10}, {99, 10},
	}
	for _, tc := range cases {
		if got := ClampMaxUploads(tc.in); got != tc.want {
			t.Errorf("ClampMaxUploads(%d): expected %d, got %d", tc.in, tc.want, got)
		}
	}
}

func TestSyncFillsPrimaryThenSecondary(t *testing.T) {
	mid := "19:meeting_abc@thread.v2"
	store := newFakeStore(models.ClassMeeting{
		ID:            1,
		Title:         "Algebra",
		MeetingID:     strPtr(mid),
		StartDateTime: timePtr(baseTime),
	})
	source := &fakeSource{recordings: []graph.Recording{
		{MeetingID: encodeMeetingID(mid), RecordingContentURL: "https://g/rec2", CreatedDateTime: iso(baseTime.Add(time.Hour))},
		{MeetingID: encodeMeetingID(mid), RecordingContentURL: "https://g/rec1", CreatedDateTime: iso(baseTime)},
	}}
	uploader := &fakeUploader{}

	res, err := newTestEngine(store, source, uploader).Sync(context.Background(), "org", 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.UploadsStarted != 2 {
		t.Fatalf("expected 2 uploads, got %d", res.UploadsStarted)
	}
	if res.TotalRecordings != 2 {
		t.Fatalf("expected 2 total recordings, got %d", res.TotalRecordings)
	}
	if len(res.Synced) != 2 {
		t.Fatalf("expected 2 synced refs, got %d", len(res.Synced))
	}
	// Earliest recording (rec1) lands in the primary slot.
	if source.downloadLog[0] != "https://g/rec1" {
		t.Fatalf("expected earliest recording first, downloads: %v", source.downloadLog)
	}
	if res.Synced[0].IsSecondary || !res.Synced[1].IsSecondary {
		t.Fatalf("expected primary then secondary, got %+v", res.Synced)
	}
	row := store.row(1)
	if !row.HasPrimary() || !row.HasSecondary() {
		t.Fatalf("expected both slots filled, got %+v", row)
	}
	if res.HasMore {
		t.Fatal("expected hasMore=false after both slots fill")
	}
}

func TestSyncIdempotent(t *testing.T) {
	mid := "19:meeting_rep@thread.v2"
	store := newFakeStore(models.ClassMeeting{
		ID:            1,
		MeetingID:     strPtr(mid),
		StartDateTime: timePtr(baseTime),
	})
	source := &fakeSource{recordings: []graph.Recording{
		{MeetingID: encodeMeetingID(mid), RecordingContentURL: "https://g/r1", CreatedDateTime: iso(baseTime)},
		{MeetingID: encodeMeetingID(mid), RecordingContentURL: "https://g/r2", CreatedDateTime: iso(baseTime.Add(time.Hour))},
	}}
	uploader := &fakeUploader{}
	engine := newTestEngine(store, source, uploader)

	first, err := engine.Sync(context.Background(), "org", 0)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	second, err := engine.Sync(context.Background(), "org", 0)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.UploadsStarted != 0 {
		t.Fatalf("expected 0 uploads on second run, got %d", second.UploadsStarted)
	}
	if len(first.Synced) != len(second.Synced) {
		t.Fatalf("expected stable synced set, got %d then %d", len(first.Synced), len(second.Synced))
	}
	seen := make(map[string]bool)
	for _, s := range second.Synced {
		k := s.MeetingID + "|" + s.VideoKey
		if seen[k] {
			t.Fatalf("duplicate synced ref %s", k)
		}
		seen[k] = true
	}
}

func TestTargetRowSelectionClosestStart(t *testing.T) {
	mid := "19:meeting_close@thread.v2"
	recTime := baseTime // earliest recording
	store := newFakeStore(
		models.ClassMeeting{ID: 1, MeetingID: strPtr(mid), StartDateTime: timePtr(baseTime.Add(5 * time.Hour))},
		models.ClassMeeting{ID: 2, MeetingID: strPtr(mid), StartDateTime: timePtr(baseTime.Add(50 * time.Minute))},
		models.ClassMeeting{ID: 3, MeetingID: strPtr(mid)}, // no start: infinitely far
	)
	source := &fakeSource{recordings: []graph.Recording{
		{MeetingID: encodeMeetingID(mid), RecordingContentURL: "https://g/r1", CreatedDateTime: iso(recTime)},
	}}
	uploader := &fakeUploader{}

	if _, err := newTestEngine(store, source, uploader).Sync(context.Background(), "org", 0); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !store.row(2).HasPrimary() {
		t.Fatalf("expected closest row (id=2) to receive the key, rows: %+v %+v %+v",
			store.row(1), store.row(2), store.row(3))
	}
	if store.row(1).HasPrimary() || store.row(3).HasPrimary() {
		t.Fatal("expected only the closest row to be written")
	}
}

func TestSyncSkipsFailedDownload(t *testing.T) {
	mid := "19:meeting_skip@thread.v2"
	store := newFakeStore(models.ClassMeeting{ID: 1, MeetingID: strPtr(mid), StartDateTime: timePtr(baseTime)})
	source := &fakeSource{
		recordings: []graph.Recording{
			{MeetingID: encodeMeetingID(mid), RecordingContentURL: "https://g/bad", CreatedDateTime: iso(baseTime)},
			{MeetingID: encodeMeetingID(mid), RecordingContentURL: "https://g/good", CreatedDateTime: iso(baseTime.Add(time.Hour))},
		},
		failURLs: map[string]bool{"https://g/bad": true},
	}
	uploader := &fakeUploader{}

	res, err := newTestEngine(store, source, uploader).Sync(context.Background(), "org", 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.UploadsStarted != 1 {
		t.Fatalf("expected 1 upload after skipping the failed one, got %d", res.UploadsStarted)
	}
	if !store.row(1).HasPrimary() {
		t.Fatal("expected surviving recording in the primary slot")
	}
}

func TestSyncRespectsUploadBudget(t *testing.T) {
	midA := "19:meeting_a@thread.v2"
	midB := "19:meeting_b@thread.v2"
	store := newFakeStore(
		models.ClassMeeting{ID: 1, MeetingID: strPtr(midA), StartDateTime: timePtr(baseTime)},
		models.ClassMeeting{ID: 2, MeetingID: strPtr(midB), StartDateTime: timePtr(baseTime.Add(time.Hour))},
	)
	source := &fakeSource{recordings: []graph.Recording{
		{MeetingID: encodeMeetingID(midA), RecordingContentURL: "https://g/a1", CreatedDateTime: iso(baseTime)},
		{MeetingID: encodeMeetingID(midB), RecordingContentURL: "https://g/b1", CreatedDateTime: iso(baseTime.Add(time.Hour))},
	}}
	uploader := &fakeUploader{}

	res, err := newTestEngine(store, source, uploader).Sync(context.Background(), "org", 1)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.UploadsStarted != 1 {
		t.Fatalf("expected budget to cap at 1 upload, got %d", res.UploadsStarted)
	}
	if !res.HasMore {
		t.Fatal("expected hasMore=true when budget exhausted before all groups filled")
	}
}

func TestSyncBackfillsMeetingIDFromJoinURL(t *testing.T) {
	mid := "19:meeting_join@thread.v2"
	joinURL := "https://teams.microsoft.com/l/meetup-join/" + strings.ReplaceAll(mid, ":", "%3A") + "/0"
	store := newFakeStore(models.ClassMeeting{
		ID:            1,
		JoinURL:       strPtr(joinURL),
		StartDateTime: timePtr(baseTime),
	})
	source := &fakeSource{recordings: []graph.Recording{
		{MeetingID: encodeMeetingID(mid), RecordingContentURL: "https://g/r1", CreatedDateTime: iso(baseTime)},
	}}
	uploader := &fakeUploader{}

	res, err := newTestEngine(store, source, uploader).Sync(context.Background(), "org", 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := store.backfilled[1]; got != mid {
		t.Fatalf("expected meeting_id backfilled to %q, got %q", mid, got)
	}
	if res.UploadsStarted != 1 {
		t.Fatalf("expected the backfilled row to receive an upload, got %d", res.UploadsStarted)
	}
}

func TestSyncAlreadyFullySynced(t *testing.T) {
	mid := "19:meeting_done@thread.v2"
	store := newFakeStore(models.ClassMeeting{
		ID:        1,
		MeetingID: strPtr(mid),
		VideoKey:  strPtr("old-1.mp4"),
		VideoKey2: strPtr("old-2.mp4"),
	})
	source := &fakeSource{recordings: []graph.Recording{
		{MeetingID: encodeMeetingID(mid), RecordingContentURL: "https://g/r1", CreatedDateTime: iso(baseTime)},
		{MeetingID: encodeMeetingID(mid), RecordingContentURL: "https://g/r2", CreatedDateTime: iso(baseTime.Add(time.Hour))},
	}}
	uploader := &fakeUploader{}

	res, err := newTestEngine(store, source, uploader).Sync(context.Background(), "org", 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.UploadsStarted != 0 {
		t.Fatalf("expected no uploads for fully synced meeting, got %d", res.UploadsStarted)
	}
	if len(res.Synced) != 2 {
		t.Fatalf("expected both existing refs emitted, got %d", len(res.Synced))
	}
	if len(source.downloadLog) != 0 {
		t.Fatalf("expected no downloads, got %v", source.downloadLog)
	}
	if res.HasMore {
		t.Fatal("expected hasMore=false")
	}
}

func TestSyncGroupWithoutRowsIsSkipped(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{recordings: []graph.Recording{
		{MeetingID: encodeMeetingID("19:meeting_orphan@thread.v2"), RecordingContentURL: "https://g/r1"},
	}}
	uploader := &fakeUploader{}

	res, err := newTestEngine(store, source, uploader).Sync(context.Background(), "org", 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.UploadsStarted != 0 || len(res.Synced) != 0 {
		t.Fatalf("expected nothing synced for orphan recordings, got %+v", res)
	}
	if res.HasMore {
		t.Fatal("groups without rows must not flag hasMore")
	}
}

func TestSyncEmptyListing(t *testing.T) {
	res, err := newTestEngine(newFakeStore(), &fakeSource{}, &fakeUploader{}).Sync(context.Background(), "org", 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(res.Synced) != 0 || res.UploadsStarted != 0 || res.HasMore || res.TotalRecordings != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestSyncGraphAuthFailure(t *testing.T) {
	source := &fakeSource{tokenErr: errors.New("invalid_client")}
	if _, err := newTestEngine(newFakeStore(), source, &fakeUploader{}).Sync(context.Background(), "org", 0); err == nil {
		t.Fatal("expected error when graph auth fails")
	}
}

// contestedStore fills the slot with a rival key right before every primary
// write, so the engine's conditional update always loses the race.
type contestedStore struct {
	*fakeStore
}

func (s *contestedStore) SetPrimaryVideoKey(ctx context.Context, id int, videoKey string) (bool, error) {
	if _, err := s.fakeStore.SetPrimaryVideoKey(ctx, id, "rival.mp4"); err != nil {
		return false, err
	}
	return s.fakeStore.SetPrimaryVideoKey(ctx, id, videoKey)
}

func TestSyncStopsWhenSlotFilledConcurrently(t *testing.T) {
	mid := "19:meeting_race@thread.v2"
	inner := newFakeStore(models.ClassMeeting{ID: 1, MeetingID: strPtr(mid), StartDateTime: timePtr(baseTime)})
	store := &contestedStore{fakeStore: inner}
	source := &fakeSource{recordings: []graph.Recording{
		{MeetingID: encodeMeetingID(mid), RecordingContentURL: "https://g/r1", CreatedDateTime: iso(baseTime)},
	}}
	uploader := &fakeUploader{}
	engine := NewEngine(store, source, uploader, time.Second, nil)

	res, err := engine.Sync(context.Background(), "org", 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	// The upload ran, but the lost write must not be reported as synced and
	// the rival's key must survive in the slot.
	if res.UploadsStarted != 1 {
		t.Fatalf("expected 1 upload attempt, got %d", res.UploadsStarted)
	}
	if len(res.Synced) != 0 {
		t.Fatalf("expected no synced refs after losing the slot, got %+v", res.Synced)
	}
	if got := inner.row(1).VideoKey; got == nil || *got != "rival.mp4" {
		t.Fatalf("expected the rival key kept, got %v", got)
	}
	if !res.HasMore {
		t.Fatal("expected hasMore=true so the next pass re-reads the row")
	}

	// The next pass sees the winner's key and reports it instead.
	res2, err := engine.Sync(context.Background(), "org", 0)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(res2.Synced) == 0 || res2.Synced[0].VideoKey != "rival.mp4" {
		t.Fatalf("expected the stored key emitted on the next pass, got %+v", res2.Synced)
	}
	if res2.HasMore {
		t.Fatal("expected hasMore=false once the row reflects the stored key")
	}
}

func TestSyncContinuesFillingRowWithPrimary(t *testing.T) {
	mid := "19:meeting_half@thread.v2"
	store := newFakeStore(
		// Row 1 already holds the primary; row 2 is closer to the recording
		// but must not be picked: the half-filled row continues filling.
		models.ClassMeeting{ID: 1, MeetingID: strPtr(mid), VideoKey: strPtr("existing.mp4"), StartDateTime: timePtr(baseTime.Add(10 * time.Hour))},
		models.ClassMeeting{ID: 2, MeetingID: strPtr(mid), StartDateTime: timePtr(baseTime)},
	)
	source := &fakeSource{recordings: []graph.Recording{
		{MeetingID: encodeMeetingID(mid), RecordingContentURL: "https://g/r1", CreatedDateTime: iso(baseTime)},
		{MeetingID: encodeMeetingID(mid), RecordingContentURL: "https://g/r2", CreatedDateTime: iso(baseTime.Add(time.Hour))},
	}}
	uploader := &fakeUploader{}

	res, err := newTestEngine(store, source, uploader).Sync(context.Background(), "org", 0)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.UploadsStarted != 1 {
		t.Fatalf("expected exactly 1 upload (secondary), got %d", res.UploadsStarted)
	}
	if !store.row(1).HasSecondary() {
		t.Fatal("expected secondary slot filled on the row that held the primary")
	}
	if store.row(2).HasPrimary() || store.row(2).HasSecondary() {
		t.Fatal("expected the other row untouched")
	}
	// Existing primary plus the new secondary, unique by (meeting, key).
	if len(res.Synced) != 2 {
		t.Fatalf("expected 2 synced refs, got %+v", res.Synced)
	}
}
