package retry

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"
)

type fakeTransient struct{ transient bool }

func (e fakeTransient) Error() string   { return "upstream failure" }
func (e fakeTransient) Transient() bool { return e.transient }

func TestTransientClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"deadline", context.DeadlineExceeded, true},
		{"self-classified transient", fakeTransient{transient: true}, true},
		{"self-classified terminal", fakeTransient{transient: false}, false},
		{"wrapped reset", errors.Join(errors.New("query"), syscall.ECONNRESET), true},
	}
	for _, tc := range cases {
		if got := Transient(tc.err); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestDoRetriesOnlyTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return syscall.ECONNRESET
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnTerminalError(t *testing.T) {
	terminal := errors.New("constraint violation")
	calls := 0
	err := Do(context.Background(), nil, "test", func(ctx context.Context) error {
		calls++
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, "test", func(ctx context.Context) error {
		calls++
		return syscall.ECONNREFUSED
	})
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Fatalf("expected ECONNREFUSED, got %v", err)
	}
	if calls != Attempts {
		t.Fatalf("expected %d calls, got %d", Attempts, calls)
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, nil, "test", func(ctx context.Context) error {
		return syscall.ECONNRESET
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
