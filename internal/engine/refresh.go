package engine

import (
	"go.uber.org/zap"
)

// scheduleRefreshLocked arms the next credential refresh: after
// RefreshInterval, or earlier when the current credential expires first.
func (e *Engine) scheduleRefreshLocked() {
	d := e.settings.RefreshInterval
	if d <= 0 {
		return
	}
	if exp := e.cred.ExpiresAt; !exp.IsZero() {
		until := exp.Sub(e.clock.Now()) - e.settings.RefreshMargin
		if until < d {
			d = max(until, minRefresh)
		}
	}
	if e.refresh != nil {
		e.refresh.Stop()
	}
	e.refresh = e.clock.AfterFunc(d, e.refreshCredential)
	e.log.Debug("credential refresh scheduled", zap.Duration("in", d))
}

// refreshCredential re-provisions and re-bootstraps the widget without
// touching the call status. A failure is logged; the session keeps running
// on the old credential and the next cycle tries again.
func (e *Engine) refreshCredential() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.mu.Unlock()

	cred, err := e.keys.Provision(ctx, e.settings.Tenant, e.settings.Line)
	if err != nil {
		e.log.Warn("credential refresh failed", zap.Error(err))
		e.rescheduleRefresh()
		return
	}

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.cred = cred
	e.mu.Unlock()

	if err := e.bootstrap(ctx, cred); err != nil {
		e.log.Warn("re-bootstrap after refresh failed", zap.Error(err))
	} else {
		e.log.Info("credential refreshed", zap.Time("key_expires", cred.ExpiresAt))
	}
	e.rescheduleRefresh()
}

func (e *Engine) rescheduleRefresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	e.scheduleRefreshLocked()
}
