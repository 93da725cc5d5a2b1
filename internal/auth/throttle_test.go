package auth

import (
	"errors"
	"testing"
	"time"
)

type movableClock struct {
	at time.Time
}

func (c *movableClock) now() time.Time          { return c.at }
func (c *movableClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func TestThrottleLocksAfterLimit(t *testing.T) {
	clock := &movableClock{at: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	throttle := NewLoginThrottle(3, 5*time.Minute, clock.now)

	for i := 0; i < 3; i++ {
		if err := throttle.BeforeAttempt("trillian"); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		throttle.OnFailure("trillian")
	}
	if err := throttle.BeforeAttempt("trillian"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	// Other principals are unaffected.
	if err := throttle.BeforeAttempt("marvin"); err != nil {
		t.Fatalf("unrelated principal locked: %v", err)
	}
}

func TestThrottleWindowReset(t *testing.T) {
	clock := &movableClock{at: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	throttle := NewLoginThrottle(3, 5*time.Minute, clock.now)

	for i := 0; i < 3; i++ {
		_ = throttle.BeforeAttempt("trillian")
		throttle.OnFailure("trillian")
	}
	if err := throttle.BeforeAttempt("trillian"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected lock, got %v", err)
	}

	clock.advance(5 * time.Minute)
	if err := throttle.BeforeAttempt("trillian"); err != nil {
		t.Fatalf("expected window reset, got %v", err)
	}
}

func TestThrottleLockedRetryKeepsLockFresh(t *testing.T) {
	clock := &movableClock{at: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	throttle := NewLoginThrottle(3, 5*time.Minute, clock.now)

	for i := 0; i < 3; i++ {
		_ = throttle.BeforeAttempt("trillian")
		throttle.OnFailure("trillian")
	}
	// Hammering a locked account restarts the window on every attempt.
	for i := 0; i < 10; i++ {
		clock.advance(4 * time.Minute)
		if err := throttle.BeforeAttempt("trillian"); !errors.Is(err, ErrAccountLocked) {
			t.Fatalf("attempt %d: expected lock to stay fresh, got %v", i, err)
		}
	}
}

func TestThrottleSuccessClearsState(t *testing.T) {
	clock := &movableClock{at: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	throttle := NewLoginThrottle(3, 5*time.Minute, clock.now)

	_ = throttle.BeforeAttempt("trillian")
	throttle.OnFailure("trillian")
	throttle.OnFailure("trillian")
	throttle.OnSuccess("trillian")

	for i := 0; i < 3; i++ {
		if err := throttle.BeforeAttempt("trillian"); err != nil {
			t.Fatalf("attempt %d after success: %v", i, err)
		}
		throttle.OnFailure("trillian")
	}
	if err := throttle.BeforeAttempt("trillian"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected lock after fresh failures, got %v", err)
	}
}

func TestThrottleDisabled(t *testing.T) {
	clock := &movableClock{at: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	for _, throttle := range []*LoginThrottle{
		NewLoginThrottle(0, 5*time.Minute, clock.now),
		NewLoginThrottle(3, 0, clock.now),
	} {
		for i := 0; i < 100; i++ {
			if err := throttle.BeforeAttempt("trillian"); err != nil {
				t.Fatalf("disabled throttle locked: %v", err)
			}
			throttle.OnFailure("trillian")
		}
	}
}
