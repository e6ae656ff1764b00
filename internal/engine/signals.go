package engine

import (
	"go.uber.org/zap"

	"github.com/sweeney/softphone-bridge/internal/callstate"
	"github.com/sweeney/softphone-bridge/internal/signal"
)

// HandleSignal classifies one observed line and applies it. Lines from the
// three channels arrive in no particular order; each check-and-set happens
// under the engine lock.
func (e *Engine) HandleSignal(l signal.Line) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}

	kind := e.classifier.Classify(l.Text)
	if kind == signal.None {
		return
	}
	e.log.Debug("signal",
		zap.String("source", l.Source),
		zap.Stringer("kind", kind),
		zap.String("text", l.Text))

	st := e.machine.Status()
	switch kind {
	case signal.Incoming:
		e.incomingLocked(false, "incoming signal ("+l.Source+")")

	case signal.Confirmed:
		// "confirmed" style phrases also show up while the line re-registers,
		// so they only count while a call is being set up.
		if st != callstate.StatusCalling && st != callstate.StatusRinging {
			return
		}
		if e.machine.Set(callstate.StatusActive, "call confirmed ("+l.Source+")") {
			e.done = true
		}

	case signal.Terminated:
		// Any status may end in ready; the machine drops the repeat from ready.
		if e.machine.Set(callstate.StatusReady, "call terminated ("+l.Source+")") {
			e.done = true
			e.incoming = false
			if e.fallback != nil {
				e.fallback.Stop()
				e.fallback = nil
			}
		}

	case signal.Registered:
		if st != callstate.StatusLoading {
			return
		}
		if e.machine.Set(callstate.StatusReady, "line registered ("+l.Source+")") && e.fallback != nil {
			e.fallback.Stop()
			e.fallback = nil
		}
	}
}
