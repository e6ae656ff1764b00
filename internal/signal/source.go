package signal

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sweeney/softphone-bridge/internal/page"
)

// Channel names used in Line.Source and in capture files.
const (
	ChannelConsole  = "console"
	ChannelMessage  = "message"
	ChannelMutation = "mutation"
)

// Line is one observation from a signal channel.
type Line struct {
	Source string
	Text   string
	At     time.Time
}

// Source is an observable stream of diagnostic text the engine does not
// control. Listen returns a function that detaches fn.
type Source interface {
	Name() string
	Listen(fn func(Line)) (stop func())
}

// feed fans a line out to its listeners.
type feed struct {
	name string
	mu   sync.RWMutex
	next int
	fns  map[int]func(Line)
}

func newFeed(name string) *feed {
	return &feed{name: name, fns: make(map[int]func(Line))}
}

func (f *feed) Name() string { return f.name }

func (f *feed) Listen(fn func(Line)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.fns[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.fns, id)
			f.mu.Unlock()
		})
	}
}

func (f *feed) emit(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	line := Line{Source: f.name, Text: text, At: time.Now()}
	f.mu.RLock()
	fns := make([]func(Line), 0, len(f.fns))
	for _, fn := range f.fns {
		fns = append(fns, fn)
	}
	f.mu.RUnlock()
	for _, fn := range fns {
		fn(line)
	}
}

// LogTap sits in front of a log sink. Every newline-terminated line written
// to it is passed through to the sink and announced to listeners.
type LogTap struct {
	*feed
	mu   sync.Mutex
	sink io.Writer
	buf  bytes.Buffer
}

// NewLogTap wraps sink. A nil sink discards output.
func NewLogTap(sink io.Writer) *LogTap {
	if sink == nil {
		sink = io.Discard
	}
	return &LogTap{feed: newFeed(ChannelConsole), sink: sink}
}

func (t *LogTap) Write(p []byte) (int, error) {
	t.mu.Lock()
	n, err := t.sink.Write(p)
	t.buf.Write(p)
	var lines []string
	for {
		i := bytes.IndexByte(t.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(t.buf.Next(i+1)))
	}
	t.mu.Unlock()

	for _, l := range lines {
		t.emit(l)
	}
	return n, err
}

// WriteLine writes text followed by a newline.
func (t *LogTap) WriteLine(text string) {
	_, _ = io.WriteString(t, strings.TrimRight(text, "\n")+"\n")
}

// MessageSource relays cross-frame message payloads as text.
type MessageSource struct {
	*feed
	stop func()
}

// NewMessageSource subscribes to obs. Close detaches it.
func NewMessageSource(obs page.Observer) *MessageSource {
	s := &MessageSource{feed: newFeed(ChannelMessage)}
	s.stop = obs.OnMessage(func(payload []byte) {
		s.emit(MessageText(payload))
	})
	return s
}

func (s *MessageSource) Close() { s.stop() }

// MessageText flattens a message payload: JSON strings are unquoted, other
// JSON values are compacted, anything else is used verbatim.
func MessageText(payload []byte) string {
	var str string
	if err := json.Unmarshal(payload, &str); err == nil {
		return str
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err == nil {
		return buf.String()
	}
	return string(payload)
}

// MutationSource relays inserted page nodes as text.
type MutationSource struct {
	*feed
	stop func()
}

// NewMutationSource subscribes to obs. Close detaches it.
func NewMutationSource(obs page.Observer) *MutationSource {
	s := &MutationSource{feed: newFeed(ChannelMutation)}
	s.stop = obs.OnMutation(func(m page.Mutation) {
		s.emit(MutationText(m))
	})
	return s
}

func (s *MutationSource) Close() { s.stop() }

// MutationText joins the descriptive fields of an inserted node.
func MutationText(m page.Mutation) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{m.Tag, m.ID, m.Class, m.Text} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}
