package access

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/artiefy/classroom-backend/internal/esp32"
	"github.com/artiefy/classroom-backend/internal/models"
)

// Action is the requested door movement direction.
type Action string

const (
	ActionEntry Action = "entry"
	ActionExit  Action = "exit"
)

var (
	// ErrUserNotFound means the user id matches no account.
	ErrUserNotFound = errors.New("user not found")
	// ErrNoOpenEntry means an exit was requested without a prior open entry.
	ErrNoOpenEntry = errors.New("no open entry for user")
	// ErrSubscriptionInactive means the subscription does not allow entry.
	ErrSubscriptionInactive = errors.New("subscription inactive")
)

// UserStore looks up users for access checks.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// LogStore persists access logs (implemented by Repository).
type LogStore interface {
	CreateEntry(ctx context.Context, l *models.AccessLog) error
	LatestOpen(ctx context.Context, userID uuid.UUID) (*models.AccessLog, error)
	CloseExit(ctx context.Context, id int, exitTime time.Time, esp32Status string) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.AccessLog, error)
}

// DoorDispatcher sends door decisions to the device (implemented by
// esp32.Client).
type DoorDispatcher interface {
	SendDoorDecision(ctx context.Context, active bool) esp32.Result
	CheckHealth(ctx context.Context) esp32.Result
}

// RegisterResult is the outcome of one access registration.
type RegisterResult struct {
	Log  *models.AccessLog `json:"log"`
	Door esp32.Result      `json:"door"`
}

// Service runs the door access workflow: subscription check, device
// dispatch, log bookkeeping.
type Service struct {
	users  UserStore
	logs   LogStore
	door   DoorDispatcher
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates an access service.
func NewService(users UserStore, logs LogStore, door DoorDispatcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{users: users, logs: logs, door: door, logger: logger, now: time.Now}
}

// Register handles one entry or exit request for a user.
func (s *Service) Register(ctx context.Context, userID uuid.UUID, action Action) (*RegisterResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	now := s.now()
	active := user.SubscriptionActiveAt(now)

	switch action {
	case ActionEntry:
		return s.registerEntry(ctx, user, active, now)
	case ActionExit:
		return s.registerExit(ctx, user, active, now)
	default:
		return nil, errors.New("unknown action")
	}
}

func (s *Service) registerEntry(ctx context.Context, user *models.User, active bool, now time.Time) (*RegisterResult, error) {
	if !active {
		// No dispatch and no log row: the door stays closed.
		return nil, ErrSubscriptionInactive
	}

	door := s.door.SendDoorDecision(ctx, true)
	s.logger.Info("door entry dispatched",
		zap.String("user_id", user.ID.String()),
		zap.String("reason", string(door.Reason)),
	)

	reason := string(door.Reason)
	log := &models.AccessLog{
		UserID:             user.ID,
		EntryTime:          now,
		SubscriptionStatus: user.SubscriptionStatus,
		ESP32Status:        &reason,
	}
	if err := s.logs.CreateEntry(ctx, log); err != nil {
		return nil, err
	}
	return &RegisterResult{Log: log, Door: door}, nil
}

func (s *Service) registerExit(ctx context.Context, user *models.User, active bool, now time.Time) (*RegisterResult, error) {
	open, err := s.logs.LatestOpen(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, ErrNoOpenEntry
	}

	var door esp32.Result
	if active {
		door = s.door.SendDoorDecision(ctx, true)
	} else {
		// Inactive users still get out; the device is never contacted.
		door = esp32.Result{OK: false, Reason: esp32.ReasonInactive}
	}
	s.logger.Info("door exit dispatched",
		zap.String("user_id", user.ID.String()),
		zap.String("reason", string(door.Reason)),
	)

	if err := s.logs.CloseExit(ctx, open.ID, now, string(door.Reason)); err != nil {
		return nil, err
	}
	open.ExitTime = &now
	reason := string(door.Reason)
	open.ESP32Status = &reason
	return &RegisterResult{Log: open, Door: door}, nil
}

// Logs returns the user's recent access logs, newest first.
func (s *Service) Logs(ctx context.Context, userID uuid.UUID, limit int) ([]models.AccessLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.logs.ListByUser(ctx, userID, limit)
}

// DoorHealth pings the device.
func (s *Service) DoorHealth(ctx context.Context) esp32.Result {
	return s.door.CheckHealth(ctx)
}
