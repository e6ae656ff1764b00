// Package suppress keeps the vendor softphone widget out of sight.
package suppress

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sweeney/softphone-bridge/internal/page"
)

// StyleID is the id of the injected style element. Its presence marks the
// rule as installed for the page's lifetime.
const StyleID = "softphone-bridge-suppress"

// DefaultFragments are matched against element ids and classes.
var DefaultFragments = []string{"softphone", "webphone", "phone-widget", "call-widget", "voip-widget"}

// HiddenStyle is written inline onto late-inserted widget nodes.
var HiddenStyle = map[string]string{
	"position":       "fixed",
	"left":           "-10000px",
	"top":            "-10000px",
	"width":          "0px",
	"height":         "0px",
	"opacity":        "0",
	"overflow":       "hidden",
	"pointer-events": "none",
}

// Suppressor hides widget elements by CSS rule and by restyling nodes the
// widget inserts later.
type Suppressor struct {
	page      page.Page
	fragments []string
	log       *zap.Logger

	mu   sync.Mutex
	stop func()
}

// New creates a Suppressor for p. An empty fragments list uses DefaultFragments.
func New(p page.Page, fragments []string, log *zap.Logger) *Suppressor {
	if len(fragments) == 0 {
		fragments = DefaultFragments
	}
	if log == nil {
		log = zap.NewNop()
	}
	lower := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			lower = append(lower, f)
		}
	}
	return &Suppressor{page: p, fragments: lower, log: log}
}

// Install injects the hiding rule unless it is already present.
func (s *Suppressor) Install(ctx context.Context) error {
	added, err := s.page.InjectStyle(ctx, StyleID, Rule(s.fragments))
	if err != nil {
		return fmt.Errorf("injecting suppression style: %w", err)
	}
	if added {
		s.log.Debug("suppression style installed", zap.Strings("fragments", s.fragments))
	}
	return nil
}

// Observe starts restyling inserted nodes whose id or class matches a
// fragment. Calling it again is a no-op until Stop.
func (s *Suppressor) Observe(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = s.page.OnMutation(func(m page.Mutation) {
		s.handle(ctx, m)
	})
}

// Stop detaches the mutation observer.
func (s *Suppressor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

// Matches reports whether an id/class pair belongs to the widget.
func (s *Suppressor) Matches(id, class string) bool {
	ident := strings.ToLower(id + " " + class)
	for _, f := range s.fragments {
		if strings.Contains(ident, f) {
			return true
		}
	}
	return false
}

func (s *Suppressor) handle(ctx context.Context, m page.Mutation) {
	if m.Ref == "" || !s.Matches(m.ID, m.Class) {
		return
	}
	el, err := s.page.Lookup(ctx, m.Ref)
	if err != nil {
		s.log.Debug("inserted widget node vanished", zap.String("ref", m.Ref), zap.Error(err))
		return
	}
	if err := el.Hide(ctx, HiddenStyle); err != nil {
		s.log.Debug("restyling widget node failed", zap.String("id", m.ID), zap.Error(err))
	}
}

// Rule builds the CSS rule hiding every element whose id or class contains
// one of fragments.
func Rule(fragments []string) string {
	if len(fragments) == 0 {
		return ""
	}
	sels := make([]string, 0, 2*len(fragments))
	for _, f := range fragments {
		sels = append(sels, fmt.Sprintf(`[id*=%q]`, f), fmt.Sprintf(`[class*=%q]`, f))
	}

	keys := make([]string, 0, len(HiddenStyle))
	for k := range HiddenStyle {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	decls := make([]string, 0, len(keys))
	for _, k := range keys {
		decls = append(decls, fmt.Sprintf("%s: %s !important;", k, HiddenStyle[k]))
	}
	return strings.Join(sels, ",\n") + " {\n  " + strings.Join(decls, "\n  ") + "\n}\n"
}
