package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/softphone-bridge/internal/callstate"
	"github.com/sweeney/softphone-bridge/internal/engine"
	"github.com/sweeney/softphone-bridge/internal/publisher"
)

// controller is the part of the engine the bridge drives.
type controller interface {
	Init(ctx context.Context) error
	Dial(ctx context.Context, number string) error
	Hangup(ctx context.Context)
	Answer(ctx context.Context) error
	Snapshot() engine.Snapshot
}

// bridge publishes engine output to MQTT and turns MQTT commands into
// engine calls. Engine callbacks only enqueue; run does the publishing so a
// slow broker never stalls signal handling.
type bridge struct {
	eng    controller
	pub    publisher.Publisher
	prefix string
	line   string
	log    *zap.Logger
	out    chan outbound
	// spawn runs long commands off the delivery goroutine.
	spawn func(func())
}

type outbound struct {
	change *callstate.Change
	event  *engine.Event
}

func newBridge(eng controller, pub publisher.Publisher, prefix, line string, log *zap.Logger) *bridge {
	return &bridge{
		eng:    eng,
		pub:    pub,
		prefix: prefix,
		line:   line,
		log:    log,
		out:    make(chan outbound, 64),
		spawn:  func(f func()) { go f() },
	}
}

func (b *bridge) statusTopic() string  { return fmt.Sprintf("%s/line/%s/status", b.prefix, b.line) }
func (b *bridge) commandTopic() string { return fmt.Sprintf("%s/line/%s/command", b.prefix, b.line) }
func (b *bridge) eventTopic(kind string) string {
	return fmt.Sprintf("%s/line/%s/event/%s", b.prefix, b.line, kind)
}

// onChange and onEvent are registered with the engine.
func (b *bridge) onChange(c callstate.Change) { b.enqueue(outbound{change: &c}) }
func (b *bridge) onEvent(ev engine.Event)     { b.enqueue(outbound{event: &ev}) }

func (b *bridge) enqueue(o outbound) {
	select {
	case b.out <- o:
	default:
		b.log.Warn("outbound queue full, dropping update")
	}
}

// run publishes queued updates until ctx is done.
func (b *bridge) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-b.out:
			if err := b.publish(ctx, o); err != nil && ctx.Err() == nil {
				b.log.Warn("publish failed", zap.Error(err))
			}
		}
	}
}

func (b *bridge) publish(ctx context.Context, o outbound) error {
	switch {
	case o.change != nil:
		return b.publishChange(ctx, *o.change)
	case o.event != nil:
		return b.publishEvent(ctx, *o.event)
	}
	return nil
}

// statusPayload is the retained JSON document on the status topic.
type statusPayload struct {
	Status      string `json:"status"`
	Previous    string `json:"previous,omitempty"`
	Description string `json:"description"`
	Reason      string `json:"reason,omitempty"`
	Ready       bool   `json:"ready"`
	Error       string `json:"error,omitempty"`
	Timestamp   string `json:"timestamp"`
}

func (b *bridge) publishChange(ctx context.Context, c callstate.Change) error {
	payload := statusPayload{
		Status:      string(c.To),
		Previous:    string(c.From),
		Description: callstate.Descriptions[c.To],
		Reason:      c.Reason,
		Ready:       c.To == callstate.StatusReady,
		Error:       c.Err,
		Timestamp:   c.Timestamp.UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	b.log.Debug("publishing status", zap.String("topic", b.statusTopic()), zap.String("status", payload.Status))
	return b.pub.Publish(ctx, b.statusTopic(), data, true)
}

// publishSnapshot publishes the current status without a transition, used
// at startup so the retained document is never stale.
func (b *bridge) publishSnapshot(ctx context.Context, now time.Time) error {
	s := b.eng.Snapshot()
	return b.publishChange(ctx, callstate.Change{To: s.Status, Err: s.LastError, Timestamp: now})
}

type dialPayload struct {
	Number    string `json:"number"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

func (b *bridge) publishEvent(ctx context.Context, ev engine.Event) error {
	data, err := json.Marshal(dialPayload{
		Number:    ev.Number,
		RequestID: ev.RequestID,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return b.pub.Publish(ctx, b.eventTopic(ev.Kind), data, false)
}

type command struct {
	Action string `json:"action"`
	Number string `json:"number,omitempty"`
}

var errUnknownAction = errors.New("unknown action")

// handleCommand applies one command message. Errors are logged; the status
// topic carries the outcome.
func (b *bridge) handleCommand(ctx context.Context, payload []byte) error {
	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.log.Warn("malformed command", zap.ByteString("payload", payload), zap.Error(err))
		return fmt.Errorf("decoding command: %w", err)
	}

	log := b.log.With(zap.String("action", cmd.Action))
	var err error
	switch strings.ToLower(cmd.Action) {
	case "dial":
		err = b.eng.Dial(ctx, cmd.Number)
	case "hangup":
		b.eng.Hangup(ctx)
	case "answer":
		err = b.eng.Answer(ctx)
	case "reinit":
		b.spawn(func() {
			if err := b.eng.Init(ctx); err != nil {
				log.Warn("reinit failed", zap.Error(err))
			}
		})
	default:
		err = fmt.Errorf("%w %q", errUnknownAction, cmd.Action)
	}
	if err != nil {
		log.Warn("command rejected", zap.Error(err))
		return err
	}
	log.Info("command applied")
	return nil
}
