package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestRetryConfig_Delay(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 35 * time.Millisecond, BackoffFactor: 2}

	for attempt, want := range map[int]time.Duration{
		2: 10 * time.Millisecond,
		3: 20 * time.Millisecond,
		4: 35 * time.Millisecond,
		5: 35 * time.Millisecond,
	} {
		if got := cfg.delay(attempt); got != want {
			t.Fatalf("delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestRetryConfig_Normalized(t *testing.T) {
	cfg := RetryConfig{}.normalized()
	def := DefaultRetryConfig()
	if cfg.MaxAttempts != def.MaxAttempts || cfg.MaxDelay != def.MaxDelay || cfg.BackoffFactor != def.BackoffFactor {
		t.Fatalf("unexpected normalized config: %+v", cfg)
	}
}

func TestIsSerializationConflict(t *testing.T) {
	for code, want := range map[string]bool{
		sqlStateSerializationFailure: true,
		sqlStateDeadlockDetected:     true,
		sqlStateUniqueViolation:      false,
	} {
		err := fmt.Errorf("update booking: %w", &pgconn.PgError{Code: code})
		if got := isSerializationConflict(err); got != want {
			t.Fatalf("code %s: got %v, want %v", code, got, want)
		}
	}
	if isSerializationConflict(errors.New("plain")) {
		t.Fatal("plain error is not a serialization conflict")
	}
	if !isUniqueViolation(&pgconn.PgError{Code: sqlStateUniqueViolation}) {
		t.Fatal("expected unique violation")
	}
}

func TestSleep_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
