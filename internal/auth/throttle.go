package auth

import (
	"sync"
	"time"

	"gitforge.org/internal/obs"
)

// LoginThrottle locks an account after too many failed login attempts
// within a window. A locked account stays locked while attempts keep
// coming, because every rejected attempt refreshes the window.
type LoginThrottle struct {
	limit  int
	window time.Duration
	now    func() time.Time

	attempts sync.Map // principal -> *loginAttempt
}

type loginAttempt struct {
	mu    sync.Mutex
	count int
	last  time.Time
}

// NewLoginThrottle constructs a throttle. A non-positive limit or window
// disables throttling entirely. A nil clock defaults to time.Now.
func NewLoginThrottle(limit int, window time.Duration, now func() time.Time) *LoginThrottle {
	if now == nil {
		now = time.Now
	}
	return &LoginThrottle{limit: limit, window: window, now: now}
}

func (t *LoginThrottle) disabled() bool {
	return t.limit <= 0 || t.window <= 0
}

// BeforeAttempt returns ErrAccountLocked when the principal has reached
// the failure limit inside the window. Called before credentials are even
// checked, so a locked account leaks nothing about password validity.
func (t *LoginThrottle) BeforeAttempt(principal string) error {
	if t.disabled() {
		return nil
	}
	entry := t.entry(principal)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := t.now()
	if !entry.last.IsZero() && now.Sub(entry.last) >= t.window {
		entry.count = 0
	}
	if entry.count >= t.limit {
		entry.count++
		entry.last = now
		obs.LoginLockout()
		return ErrAccountLocked
	}
	return nil
}

// OnSuccess clears the failure state of the principal.
func (t *LoginThrottle) OnSuccess(principal string) {
	if t.disabled() {
		return
	}
	t.attempts.Delete(principal)
}

// OnFailure records a failed attempt.
func (t *LoginThrottle) OnFailure(principal string) {
	if t.disabled() {
		return
	}
	entry := t.entry(principal)
	entry.mu.Lock()
	entry.count++
	entry.last = t.now()
	entry.mu.Unlock()
}

func (t *LoginThrottle) entry(principal string) *loginAttempt {
	if v, ok := t.attempts.Load(principal); ok {
		return v.(*loginAttempt)
	}
	v, _ := t.attempts.LoadOrStore(principal, &loginAttempt{})
	return v.(*loginAttempt)
}
