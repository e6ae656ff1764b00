package callstate

import (
	"sync"
	"time"
)

// DefaultCooldown is how long after a hangup only a move to ready is honored.
const DefaultCooldown = 3 * time.Second

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Machine owns the authoritative Status. Set is the only way to change it.
type Machine struct {
	mu            sync.Mutex
	status        Status
	lastErr       string
	cooldownStart time.Time
	cooldown      time.Duration
	clock         Clock
	listeners     []func(Change)
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the time source for the machine.
func WithClock(c Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithCooldown overrides DefaultCooldown.
func WithCooldown(d time.Duration) Option {
	return func(m *Machine) { m.cooldown = d }
}

// New creates a Machine in StatusIdle.
func New(opts ...Option) *Machine {
	m := &Machine{
		status:   StatusIdle,
		cooldown: DefaultCooldown,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnChange registers fn to receive every applied Change. Listeners run
// synchronously after the machine lock is released.
func (m *Machine) OnChange(fn func(Change)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastError returns the message recorded by Fail while the status is
// StatusError, and is empty otherwise.
func (m *Machine) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// BeginCooldown opens the post-hangup window. It is never cleared; it
// expires once the cooldown duration has elapsed.
func (m *Machine) BeginCooldown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldownStart = m.clock()
}

// InCooldown reports whether the post-hangup window is open.
func (m *Machine) InCooldown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inCooldownLocked()
}

func (m *Machine) inCooldownLocked() bool {
	if m.cooldownStart.IsZero() {
		return false
	}
	return m.clock().Sub(m.cooldownStart) < m.cooldown
}

// Set moves to the given status if the cooldown window and the transition
// table allow it. It returns whether the status changed.
func (m *Machine) Set(to Status, reason string) bool {
	return m.set(to, reason, "")
}

// Fail records err and moves to StatusError through the same guard.
func (m *Machine) Fail(err error, reason string) bool {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return m.set(StatusError, reason, msg)
}

func (m *Machine) set(to Status, reason, errMsg string) bool {
	m.mu.Lock()
	if m.inCooldownLocked() && to != StatusReady {
		m.mu.Unlock()
		return false
	}
	if !Allowed(m.status, to) {
		m.mu.Unlock()
		return false
	}

	change := Change{
		From:      m.status,
		To:        to,
		Reason:    reason,
		Timestamp: m.clock(),
	}
	m.status = to
	switch {
	case errMsg != "":
		m.lastErr = errMsg
		change.Err = errMsg
	case to != StatusError:
		m.lastErr = ""
	}
	listeners := make([]func(Change), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
	return true
}
