// Package locator finds interactive controls inside the foreign markup the
// softphone widget renders.
package locator

import (
	"context"
	"strings"

	"github.com/sweeney/softphone-bridge/internal/page"
)

// Querier runs a selector against the page and its same-origin frames.
type Querier interface {
	Query(ctx context.Context, selector string) ([]page.Element, error)
}

// Strategy is one named group of selectors. Elements whose id or class
// contains an Exclude fragment are never returned.
type Strategy struct {
	Name      string   `yaml:"name" toml:"name"`
	Selectors []string `yaml:"selectors" toml:"selectors"`
	Exclude   []string `yaml:"exclude" toml:"exclude"`
}

// Match is a located control.
type Match struct {
	Element  page.Element
	Strategy string
	Selector string
	Hidden   bool
}

// Locator searches strategies in order. A visible element always wins over
// a hidden one; a hidden element is only returned when the caller allows it.
type Locator struct {
	strategies []Strategy
}

// New creates a Locator over the given strategies.
func New(strategies ...Strategy) *Locator {
	return &Locator{strategies: strategies}
}

// Locate returns the first visible match. If none is visible and allowHidden
// is set, the first hidden match is returned instead. Query errors on one
// selector do not stop the search; the last one is returned when nothing
// matched.
func (l *Locator) Locate(ctx context.Context, q Querier, allowHidden bool) (Match, bool, error) {
	var (
		fallback    Match
		hasFallback bool
		lastErr     error
	)

	for _, s := range l.strategies {
		for _, sel := range s.Selectors {
			els, err := q.Query(ctx, sel)
			if err != nil {
				lastErr = err
				continue
			}
			for _, el := range els {
				if excluded(el, s.Exclude) {
					continue
				}
				m := Match{Element: el, Strategy: s.Name, Selector: sel, Hidden: el.Hidden()}
				if !m.Hidden {
					return m, true, nil
				}
				if !hasFallback {
					fallback, hasFallback = m, true
				}
			}
		}
	}

	if allowHidden && hasFallback {
		return fallback, true, nil
	}
	if ctx.Err() != nil {
		return Match{}, false, ctx.Err()
	}
	return Match{}, false, lastErr
}

func excluded(el page.Element, fragments []string) bool {
	if len(fragments) == 0 {
		return false
	}
	ident := strings.ToLower(el.ID() + " " + el.Class())
	for _, f := range fragments {
		if f != "" && strings.Contains(ident, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// DefaultAnswer returns the accept-control strategies. The vendor dial
// button shares class fragments with the accept button, hence the excludes.
func DefaultAnswer() []Strategy {
	exclude := []string{"dial", "outbound", "make-call"}
	return []Strategy{
		{
			Name: "answer-attribute",
			Selectors: []string{
				`button[data-action="answer"]`,
				`button[data-action="accept"]`,
				`[data-testid*="answer"]`,
			},
			Exclude: exclude,
		},
		{
			Name: "answer-label",
			Selectors: []string{
				`button[aria-label*="Answer" i]`,
				`button[aria-label*="Accept" i]`,
				`button[title*="Answer" i]`,
				`button[title*="Accept" i]`,
			},
			Exclude: exclude,
		},
		{
			Name: "answer-class",
			Selectors: []string{
				`.incoming-call-accept`,
				`.call-accept`,
				`[class*="answer-btn"]`,
				`[class*="accept-call"]`,
			},
			Exclude: exclude,
		},
	}
}

// DefaultHangup returns the hangup/reject-control strategies.
func DefaultHangup() []Strategy {
	return []Strategy{
		{
			Name: "hangup-attribute",
			Selectors: []string{
				`button[data-action="hangup"]`,
				`button[data-action="reject"]`,
				`[data-testid*="hangup"]`,
			},
		},
		{
			Name: "hangup-label",
			Selectors: []string{
				`button[aria-label*="Hang up" i]`,
				`button[aria-label*="End call" i]`,
				`button[aria-label*="Decline" i]`,
				`button[title*="Hang up" i]`,
			},
		},
		{
			Name: "hangup-class",
			Selectors: []string{
				`.call-hangup`,
				`[class*="hangup"]`,
				`[class*="reject-call"]`,
				`[class*="decline"]`,
			},
		},
	}
}
