package access

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artiefy/classroom-backend/internal/models"
)

const logColumns = `id, user_id, entry_time, exit_time, subscription_status, esp32_status, created_at`

// Repository handles access log persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an access log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanLog(row pgx.Row) (*models.AccessLog, error) {
	var l models.AccessLog
	err := row.Scan(&l.ID, &l.UserID, &l.EntryTime, &l.ExitTime,
		&l.SubscriptionStatus, &l.ESP32Status, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateEntry inserts a new open access log for an entry.
func (r *Repository) CreateEntry(ctx context.Context, l *models.AccessLog) error {
	const q = `INSERT INTO access_logs (user_id, entry_time, subscription_status, esp32_status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, l.UserID, l.EntryTime, l.SubscriptionStatus, l.ESP32Status).
		Scan(&l.ID, &l.CreatedAt)
}

// LatestOpen returns the newest log for the user with no exit time, or nil.
func (r *Repository) LatestOpen(ctx context.Context, userID uuid.UUID) (*models.AccessLog, error) {
	l, err := scanLog(r.pool.QueryRow(ctx,
		`SELECT `+logColumns+` FROM access_logs
		 WHERE user_id = $1 AND exit_time IS NULL
		 ORDER BY entry_time DESC LIMIT 1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

// CloseExit stamps the exit time and dispatcher status on an open log.
func (r *Repository) CloseExit(ctx context.Context, id int, exitTime time.Time, esp32Status string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE access_logs SET exit_time = $2, esp32_status = $3 WHERE id = $1`,
		id, exitTime, esp32Status)
	return err
}

// ListByUser returns the user's most recent logs, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.AccessLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+logColumns+` FROM access_logs
		 WHERE user_id = $1 ORDER BY entry_time DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AccessLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}
