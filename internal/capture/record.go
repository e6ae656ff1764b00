// Package capture reads and writes recorded widget signals. A capture is a
// sequence of "Key: Value" blocks separated by blank lines:
//
//	Session: 4f7c2a9e-...
//	Started: 2025-06-03T14:00:00Z
//
//	Channel: console
//	At: 2025-06-03T14:00:01.250Z
//	Text: [UA] Incoming call from +15551234
//
// A record whose text spans lines repeats the Text key once per line.
package capture

import (
	"strings"
	"time"

	"github.com/sweeney/softphone-bridge/internal/signal"
)

// TimeFormat is the layout of the At and Started keys.
const TimeFormat = time.RFC3339Nano

// Header keys.
const (
	KeySession = "Session"
	KeyStarted = "Started"
	KeyChannel = "Channel"
	KeyAt      = "At"
	KeyText    = "Text"
)

// Record is one observed line.
type Record struct {
	Channel string
	At      time.Time
	Text    string
}

// Line converts r to the form signal sources deliver.
func (r Record) Line() signal.Line {
	return signal.Line{Source: r.Channel, Text: r.Text, At: r.At}
}

// FromLine converts an observed line to a Record.
func FromLine(l signal.Line) Record {
	return Record{Channel: l.Source, At: l.At, Text: strings.TrimRight(l.Text, "\n")}
}

// Header identifies a capture session.
type Header struct {
	Session string
	Started time.Time
}

type field struct {
	Key   string
	Value string
}

// block is an ordered set of fields.
type block []field

func (b block) get(key string) string {
	for _, f := range b {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

func (b block) all(key string) []string {
	var out []string
	for _, f := range b {
		if f.Key == key {
			out = append(out, f.Value)
		}
	}
	return out
}

func (b block) record() (Record, bool) {
	ch := b.get(KeyChannel)
	if ch == "" {
		return Record{}, false
	}
	at, _ := time.Parse(TimeFormat, b.get(KeyAt))
	return Record{
		Channel: ch,
		At:      at,
		Text:    strings.Join(b.all(KeyText), "\n"),
	}, true
}

func (b block) header() (Header, bool) {
	id := b.get(KeySession)
	if id == "" {
		return Header{}, false
	}
	started, _ := time.Parse(TimeFormat, b.get(KeyStarted))
	return Header{Session: id, Started: started}, true
}
