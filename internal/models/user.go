package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the user role for authorization.
type Role string

const (
	RoleStudent    Role = "student"
	RoleEducator   Role = "educator"
	RoleSuperAdmin Role = "super-admin"
)

// Subscription statuses.
const (
	SubscriptionActive   = "active"
	SubscriptionInactive = "inactive"
)

// User is a platform user with subscription state for door access.
type User struct {
	ID                  uuid.UUID  `json:"id"`
	Email               string     `json:"email"`
	Password            string     `json:"-"`
	Name                string     `json:"name"`
	Role                Role       `json:"role"`
	SubscriptionStatus  string     `json:"subscription_status"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// SubscriptionActiveAt reports whether the subscription allows access at t:
// status must be active and the end date in the future.
func (u *User) SubscriptionActiveAt(t time.Time) bool {
	return u.SubscriptionStatus == SubscriptionActive &&
		u.SubscriptionEndDate != nil &&
		u.SubscriptionEndDate.After(t)
}

// UserPublic is the user shape returned by the API (no password hash).
type UserPublic struct {
	ID                 uuid.UUID `json:"id"`
	Email              string    `json:"email"`
	Name               string    `json:"name"`
	Role               Role      `json:"role"`
	SubscriptionStatus string    `json:"subscription_status"`
	CreatedAt          time.Time `json:"created_at"`
}

// Public strips private fields.
func (u *User) Public() UserPublic {
	return UserPublic{
		ID:                 u.ID,
		Email:              u.Email,
		Name:               u.Name,
		Role:               u.Role,
		SubscriptionStatus: u.SubscriptionStatus,
		CreatedAt:          u.CreatedAt,
	}
}
