package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sweeney/softphone-bridge/internal/callstate"
)

// Answer re-runs the inbound-call path on request. Unlike a detected
// signal it is not debounced and always starts the click loop.
func (e *Engine) Answer(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	if e.incomingLocked(true, "answer requested") {
		return nil
	}
	if e.machine.InCooldown() {
		return ErrSuppressed
	}
	return fmt.Errorf("%w (status %s)", ErrNotReady, e.machine.Status())
}

// incomingLocked handles an inbound call: debounce, reset the attempt
// counter, move to ringing and schedule the first click attempt. It reports
// whether the trigger was accepted.
func (e *Engine) incomingLocked(manual bool, reason string) bool {
	now := e.clock.Now()
	if !manual && !e.lastIncoming.IsZero() && now.Sub(e.lastIncoming) < e.settings.Debounce {
		e.log.Debug("incoming signal debounced")
		return false
	}

	if st := e.machine.Status(); st != callstate.StatusRinging {
		e.machine.Set(callstate.StatusRinging, reason)
	}
	if st := e.machine.Status(); st != callstate.StatusRinging {
		e.log.Debug("incoming signal ignored", zap.String("status", string(st)))
		return false
	}

	e.lastIncoming = now
	e.attempts = 0
	e.done = false
	e.incoming = true
	e.gen++

	if !manual && !e.settings.AutoAnswer {
		return true
	}
	gen := e.gen
	e.clock.AfterFunc(e.settings.FirstAttemptDelay, func() { e.attempt(gen) })
	return true
}

// attempt is one pass of the auto-answer loop. It stops on its own once the
// call is active or back to ready, once a click succeeded, or once
// MaxAttempts passes found nothing.
func (e *Engine) attempt(gen int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed || gen != e.gen || e.done {
		return
	}
	if st := e.machine.Status(); st == callstate.StatusActive || st == callstate.StatusReady {
		e.done = true
		return
	}

	e.attempts++
	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	if m, ok, _ := e.answerLoc.Locate(ctx, e.page, false); ok {
		err := m.Element.Click(ctx)
		if err == nil {
			e.done = true
			e.log.Info("answered inbound call",
				zap.String("strategy", m.Strategy),
				zap.String("selector", m.Selector),
				zap.Int("attempt", e.attempts))
			return
		}
		e.log.Debug("answer click failed", zap.Error(err))
	}

	if e.attempts < e.settings.MaxAttempts {
		e.clock.AfterFunc(e.settings.AttemptInterval, func() { e.attempt(gen) })
		return
	}

	// Out of attempts: try a suppressed control, then ask the frames.
	if m, ok, _ := e.answerLoc.Locate(ctx, e.page, true); ok && m.Hidden {
		if err := m.Element.Click(ctx); err == nil {
			e.done = true
			e.log.Info("answered inbound call through hidden control",
				zap.String("strategy", m.Strategy),
				zap.String("selector", m.Selector))
		}
	}
	if err := e.page.PostMessage(ctx, map[string]string{"type": "answer"}); err != nil {
		e.log.Debug("answer broadcast failed", zap.Error(err))
	}
	if !e.done {
		e.log.Debug("auto-answer abandoned", zap.Int("attempts", e.attempts))
	}
}

// Hangup ends the current call. The cooldown window opens before anything
// else so signals racing the hangup cannot revive the call. It always leaves
// the engine in ready and is safe to call repeatedly.
func (e *Engine) Hangup(ctx context.Context) {
	e.machine.BeginCooldown()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = false
	e.incoming = false
	e.attempts = 0
	e.gen++

	if !e.disposed {
		if m, ok, _ := e.hangupLoc.Locate(ctx, e.page, true); ok {
			if err := m.Element.Click(ctx); err != nil {
				e.log.Debug("hangup click failed", zap.Error(err))
			} else {
				e.log.Debug("clicked hangup control",
					zap.String("selector", m.Selector),
					zap.Bool("hidden", m.Hidden))
			}
		}
		if err := e.page.PostMessage(ctx, map[string]string{"type": "hangup"}); err != nil {
			e.log.Debug("hangup broadcast failed", zap.Error(err))
		}
	}
	e.machine.Set(callstate.StatusReady, "hangup")
}

// AttemptState reports the auto-answer counter and flags.
func (e *Engine) AttemptState() (attempts int, done, incoming bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts, e.done, e.incoming
}
