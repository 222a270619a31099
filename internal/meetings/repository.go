package meetings

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artiefy/classroom-backend/internal/models"
)

const meetingColumns = `id, course_id, title, join_url, meeting_id, video_key, video_key_2, start_date_time, end_date_time, created_at`

// Repository handles class meeting persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a meetings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanMeeting(row pgx.Row) (*models.ClassMeeting, error) {
	var m models.ClassMeeting
	err := row.Scan(&m.ID, &m.CourseID, &m.Title, &m.JoinURL, &m.MeetingID,
		&m.VideoKey, &m.VideoKey2, &m.StartDateTime, &m.EndDateTime, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a scheduled meeting.
func (r *Repository) Create(ctx context.Context, m *models.ClassMeeting) error {
	const q = `INSERT INTO class_meetings (course_id, title, join_url, meeting_id, start_date_time, end_date_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, m.CourseID, m.Title, m.JoinURL, m.MeetingID, m.StartDateTime, m.EndDateTime).
		Scan(&m.ID, &m.CreatedAt)
}

// GetByID returns a meeting by ID, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id int) (*models.ClassMeeting, error) {
	m, err := scanMeeting(r.pool.QueryRow(ctx, `SELECT `+meetingColumns+` FROM class_meetings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// ListByCourse returns meetings for a course, soonest first.
func (r *Repository) ListByCourse(ctx context.Context, courseID int) ([]models.ClassMeeting, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+meetingColumns+` FROM class_meetings WHERE course_id = $1 ORDER BY start_date_time ASC NULLS LAST, id ASC`,
		courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMeetings(rows)
}

// FindByMeetingIDs returns all rows whose meeting_id matches one of ids.
func (r *Repository) FindByMeetingIDs(ctx context.Context, ids []string) ([]models.ClassMeeting, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+meetingColumns+` FROM class_meetings WHERE meeting_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMeetings(rows)
}

// ListWithJoinURL returns rows that have a join URL, for meeting_id backfill.
func (r *Repository) ListWithJoinURL(ctx context.Context, limit int) ([]models.ClassMeeting, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+meetingColumns+` FROM class_meetings WHERE join_url IS NOT NULL LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMeetings(rows)
}

// BackfillMeetingID sets meeting_id on a row matched via its join URL.
func (r *Repository) BackfillMeetingID(ctx context.Context, id int, meetingID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE class_meetings SET meeting_id = $1 WHERE id = $2`, meetingID, id)
	return err
}

// SetPrimaryVideoKey fills the primary slot only when it is still empty and
// reports whether the write took effect. A false return means another pass
// filled the slot first.
func (r *Repository) SetPrimaryVideoKey(ctx context.Context, id int, videoKey string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE class_meetings SET video_key = $1 WHERE id = $2 AND video_key IS NULL`, videoKey, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetSecondaryVideoKey fills the secondary slot only when it is still empty.
func (r *Repository) SetSecondaryVideoKey(ctx context.Context, id int, videoKey string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE class_meetings SET video_key_2 = $1 WHERE id = $2 AND video_key_2 IS NULL`, videoKey, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func collectMeetings(rows pgx.Rows) ([]models.ClassMeeting, error) {
	var list []models.ClassMeeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}
