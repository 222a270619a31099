package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessLog records one door entry, closed later by the matching exit.
// ESP32Status stores the dispatcher reason for the entry (or exit) attempt.
type AccessLog struct {
	ID                 int        `json:"id"`
	UserID             uuid.UUID  `json:"user_id"`
	EntryTime          time.Time  `json:"entry_time"`
	ExitTime           *time.Time `json:"exit_time,omitempty"`
	SubscriptionStatus string     `json:"subscription_status"`
	ESP32Status        *string    `json:"esp32_status,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}
