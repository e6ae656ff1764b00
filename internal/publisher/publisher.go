package publisher

import (
	"context"
	"strings"
)

// Handler receives messages for a subscription.
type Handler func(topic string, payload []byte)

// Publisher defines the broker operations the bridge needs: publishing
// status and events, and receiving commands.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
	Subscribe(ctx context.Context, filter string, h Handler) error
	Close() error
}

// Match reports whether topic matches an MQTT subscription filter with
// "+" and "#" wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
