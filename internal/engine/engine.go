// Package engine reconciles the signals of an opaque softphone widget into
// a single call status and drives the widget's controls on the user's behalf.
package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/softphone-bridge/internal/callstate"
	"github.com/sweeney/softphone-bridge/internal/clock"
	"github.com/sweeney/softphone-bridge/internal/keys"
	"github.com/sweeney/softphone-bridge/internal/loader"
	"github.com/sweeney/softphone-bridge/internal/locator"
	"github.com/sweeney/softphone-bridge/internal/page"
	"github.com/sweeney/softphone-bridge/internal/signal"
	"github.com/sweeney/softphone-bridge/internal/suppress"
)

// Provisioner issues widget credentials.
type Provisioner interface {
	Provision(ctx context.Context, tenant, line string) (keys.Credential, error)
}

// Event kinds delivered to OnEvent listeners.
const (
	EventDial = "dial"
)

// DialEventName is the CustomEvent dispatched on the host window for a dial.
const DialEventName = "softphone:dial"

// Event is an application-level notification raised by the engine.
type Event struct {
	Kind      string    `json:"kind"`
	Number    string    `json:"number,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the engine's observable output.
type Snapshot struct {
	Status    callstate.Status `json:"status"`
	Ready     bool             `json:"ready"`
	LastError string           `json:"error,omitempty"`
	Line      string           `json:"line"`
}

// Engine owns one widget session. Every status change goes through its
// callstate.Machine; everything else it tracks is guarded by mu.
type Engine struct {
	settings   Settings
	page       page.Page
	keys       Provisioner
	clock      clock.Clock
	log        *zap.Logger
	console    io.Writer
	machine    *callstate.Machine
	loader     *loader.Loader
	suppressor *suppress.Suppressor
	answerLoc  *locator.Locator
	hangupLoc  *locator.Locator

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	disposed   bool
	classifier *signal.Classifier
	extra      []signal.Source
	stops      []func()
	listening  bool
	cred       keys.Credential
	refresh    clock.Timer
	fallback   clock.Timer
	eventFns   []func(Event)

	// Auto-answer bookkeeping. gen identifies the current retry loop so a
	// superseded loop stops at its next attempt.
	lastIncoming time.Time
	attempts     int
	done         bool
	incoming     bool
	gen          int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for timers and the cooldown window.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithConsoleSink sets where widget console output is written after the
// engine has inspected it.
func WithConsoleSink(w io.Writer) Option {
	return func(e *Engine) { e.console = w }
}

// WithSources adds signal sources beyond the page's own channels.
func WithSources(srcs ...signal.Source) Option {
	return func(e *Engine) { e.extra = append(e.extra, srcs...) }
}

// New creates an Engine for p. Nothing touches the page until Init.
func New(p page.Page, kp Provisioner, s Settings, opts ...Option) *Engine {
	e := &Engine{
		settings: s,
		page:     p,
		keys:     kp,
		clock:    clock.Real(),
		log:      zap.NewNop(),
		console:  io.Discard,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.settings.MaxAttempts <= 0 {
		e.settings.MaxAttempts = 1
	}

	e.machine = callstate.New(
		callstate.WithClock(e.clock.Now),
		callstate.WithCooldown(s.Cooldown),
	)
	e.machine.OnChange(func(c callstate.Change) {
		e.log.Info("status changed",
			zap.String("from", string(c.From)),
			zap.String("to", string(c.To)),
			zap.String("reason", c.Reason))
	})
	e.loader = loader.New(p)
	e.suppressor = suppress.New(p, s.Fragments, e.log.Named("suppress"))
	e.answerLoc = locator.New(s.Answer...)
	e.hangupLoc = locator.New(s.Hangup...)
	e.classifier = signal.NewClassifier(s.Phrases)
	return e
}

// OnChange registers fn to receive every status change.
func (e *Engine) OnChange(fn func(callstate.Change)) { e.machine.OnChange(fn) }

// OnEvent registers fn to receive application-level events such as dials.
func (e *Engine) OnEvent(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventFns = append(e.eventFns, fn)
}

// Status returns the current call status.
func (e *Engine) Status() callstate.Status { return e.machine.Status() }

// Ready reports whether the line can place a call.
func (e *Engine) Ready() bool { return e.machine.Status() == callstate.StatusReady }

// LastError returns the message of the last provisioning or load failure.
func (e *Engine) LastError() string { return e.machine.LastError() }

// Snapshot returns the observable output in one value.
func (e *Engine) Snapshot() Snapshot {
	st := e.machine.Status()
	return Snapshot{
		Status:    st,
		Ready:     st == callstate.StatusReady,
		LastError: e.machine.LastError(),
		Line:      e.settings.Line,
	}
}

// SetPhrases swaps the classifier. The state machine is untouched.
func (e *Engine) SetPhrases(p signal.Phrases) {
	c := signal.NewClassifier(p)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.classifier = c
}

// Init provisions a credential, loads the widget, starts the signal
// adapters and bootstraps the widget. Failures leave the engine in
// StatusError with the message recorded; a later Init may recover.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	if e.ctx == nil {
		e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	if st := e.machine.Status(); !e.machine.Set(callstate.StatusLoading, "init") {
		e.mu.Unlock()
		return fmt.Errorf("%w (status %s)", ErrBusy, st)
	}
	e.stopTimersLocked()
	life := e.ctx
	e.mu.Unlock()

	cred, err := e.keys.Provision(ctx, e.settings.Tenant, e.settings.Line)
	if err != nil {
		return e.fail(fmt.Errorf("provisioning widget key: %w", err), "provision")
	}
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	e.cred = cred
	e.mu.Unlock()

	if err := e.loader.LoadAll(ctx, e.settings.Widget.Scripts...); err != nil {
		return e.fail(err, "load")
	}
	if err := e.suppressor.Install(ctx); err != nil {
		return e.fail(err, "load")
	}
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	e.suppressor.Observe(life)
	e.listenLocked()
	e.mu.Unlock()

	if err := e.waitForBootstrap(ctx); err != nil {
		return e.fail(err, "load")
	}
	if err := e.bootstrap(ctx, cred); err != nil {
		return e.fail(err, "load")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	e.armFallbackLocked()
	e.scheduleRefreshLocked()
	e.log.Info("widget bootstrapped",
		zap.String("line", e.settings.Line),
		zap.Time("key_expires", cred.ExpiresAt))
	return nil
}

func (e *Engine) fail(err error, reason string) error {
	e.log.Error("softphone initialization failed", zap.String("stage", reason), zap.Error(err))
	e.machine.Fail(err, reason)
	return err
}

// listenLocked attaches the three page channels and any extra sources once.
func (e *Engine) listenLocked() {
	if e.listening {
		return
	}
	e.listening = true

	tap := signal.NewLogTap(e.console)
	msgs := signal.NewMessageSource(e.page)
	muts := signal.NewMutationSource(e.page)
	e.stops = append(e.stops, e.page.OnConsole(tap.WriteLine), msgs.Close, muts.Close)

	for _, src := range append([]signal.Source{tap, msgs, muts}, e.extra...) {
		e.stops = append(e.stops, src.Listen(e.HandleSignal))
	}
}

func (e *Engine) waitForBootstrap(ctx context.Context) error {
	name := e.settings.Widget.BootstrapFunc
	deadline := e.clock.Now().Add(e.settings.BootstrapTimeout)
	for {
		ok, err := e.page.HasFunction(ctx, name)
		if err == nil && ok {
			return nil
		}
		if !e.clock.Now().Before(deadline) {
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrBootstrapUnavailable, name, err)
			}
			return fmt.Errorf("%w: %s not defined after %s", ErrBootstrapUnavailable, name, e.settings.BootstrapTimeout)
		}

		wake := make(chan struct{})
		t := e.clock.AfterFunc(e.settings.BootstrapPoll, func() { close(wake) })
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-wake:
		}
	}
}

func (e *Engine) bootstrap(ctx context.Context, cred keys.Credential) error {
	w := e.settings.Widget
	if err := e.page.Call(ctx, w.BootstrapFunc,
		cred.Token, cred.Line, w.Style, w.Locale, w.Visible, w.Position,
	); err != nil {
		return fmt.Errorf("calling %s: %w", w.BootstrapFunc, err)
	}
	return nil
}

func (e *Engine) armFallbackLocked() {
	if e.settings.ReadyFallback <= 0 {
		e.machine.Set(callstate.StatusReady, "bootstrapped")
		return
	}
	e.fallback = e.clock.AfterFunc(e.settings.ReadyFallback, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.disposed || e.machine.Status() != callstate.StatusLoading {
			return
		}
		e.log.Debug("no registration signal seen, assuming ready")
		e.machine.Set(callstate.StatusReady, "ready fallback")
	})
}

func (e *Engine) stopTimersLocked() {
	if e.refresh != nil {
		e.refresh.Stop()
		e.refresh = nil
	}
	if e.fallback != nil {
		e.fallback.Stop()
		e.fallback = nil
	}
}

// Dial asks the widget to call number. It is only permitted in ready.
func (e *Engine) Dial(ctx context.Context, number string) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return ErrEmptyNumber
	}

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	st := e.machine.Status()
	if st != callstate.StatusReady {
		e.mu.Unlock()
		e.log.Warn("dial rejected", zap.String("status", string(st)))
		return fmt.Errorf("%w (status %s)", ErrNotReady, st)
	}
	if e.machine.InCooldown() {
		e.mu.Unlock()
		e.log.Warn("dial rejected during hangup cooldown")
		return ErrSuppressed
	}

	ev := Event{Kind: EventDial, Number: number, RequestID: uuid.NewString(), Timestamp: e.clock.Now()}
	detail := map[string]string{"number": number, "request_id": ev.RequestID}
	if err := e.page.Dispatch(ctx, DialEventName, detail); err != nil {
		e.log.Debug("dial event dispatch failed", zap.Error(err))
	}
	if err := e.page.PostMessage(ctx, map[string]string{
		"type": "dial", "number": number, "request_id": ev.RequestID,
	}); err != nil {
		e.log.Debug("dial broadcast failed", zap.Error(err))
	}
	if !e.machine.Set(callstate.StatusCalling, "dial") {
		e.mu.Unlock()
		return ErrSuppressed
	}
	fns := make([]func(Event), len(e.eventFns))
	copy(fns, e.eventFns)
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

// Dispose cancels the refresh and ready-fallback timers and detaches every
// listener. Retry attempts already scheduled find the engine disposed and
// do nothing. The status is left as it was.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	e.stopTimersLocked()
	stops := e.stops
	e.stops = nil
	cancel := e.cancel
	e.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	e.suppressor.Stop()
	if cancel != nil {
		cancel()
	}
}
