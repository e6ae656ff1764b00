// Package loader injects the vendor widget scripts into the host page.
package loader

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/sweeney/softphone-bridge/internal/page"
)

// ScriptHost is the part of page.Page the loader needs.
type ScriptHost interface {
	HasScript(ctx context.Context, url string) (bool, error)
	AddScript(ctx context.Context, url string) error
}

var _ ScriptHost = (page.Page)(nil)

// LoadError reports a script that failed to load.
type LoadError struct {
	URL string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading script %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader injects each script at most once. Concurrent loads of the same URL
// share one injection.
type Loader struct {
	host  ScriptHost
	group singleflight.Group
}

// New creates a Loader for host.
func New(host ScriptHost) *Loader {
	return &Loader{host: host}
}

// Load resolves once a script tag for url exists and has loaded.
func (l *Loader) Load(ctx context.Context, url string) error {
	if url == "" {
		return &LoadError{URL: url, Err: fmt.Errorf("empty script url")}
	}
	_, err, _ := l.group.Do(url, func() (any, error) {
		present, err := l.host.HasScript(ctx, url)
		if err != nil {
			return nil, &LoadError{URL: url, Err: err}
		}
		if present {
			return nil, nil
		}
		if err := l.host.AddScript(ctx, url); err != nil {
			return nil, &LoadError{URL: url, Err: err}
		}
		return nil, nil
	})
	return err
}

// LoadAll loads urls in order and stops at the first failure.
func (l *Loader) LoadAll(ctx context.Context, urls ...string) error {
	for _, u := range urls {
		if err := l.Load(ctx, u); err != nil {
			return err
		}
	}
	return nil
}
