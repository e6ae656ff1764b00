// Package page describes the host page the softphone widget lives in.
package page

import "context"

// Mutation describes an element inserted into the page after load.
// Ref identifies the node for Lookup.
type Mutation struct {
	Ref   string `json:"ref"`
	Tag   string `json:"tag"`
	ID    string `json:"id"`
	Class string `json:"class"`
	Text  string `json:"text"`
}

// Observer exposes the page's three signal channels. Each On* call returns
// a function that detaches the handler.
type Observer interface {
	OnConsole(fn func(line string)) (cancel func())
	OnMessage(fn func(payload []byte)) (cancel func())
	OnMutation(fn func(Mutation)) (cancel func())
}

// Element is a control found in the page or one of its same-origin frames.
type Element interface {
	ID() string
	Class() string
	// Hidden reports whether the element is not rendered for the user,
	// including elements the visibility suppressor restyled.
	Hidden() bool
	// Click invokes the element's primary action.
	Click(ctx context.Context) error
	// Hide overwrites the inline style and marks the element hidden.
	Hide(ctx context.Context, style map[string]string) error
}

// Page is the host document.
type Page interface {
	Observer

	HasScript(ctx context.Context, url string) (bool, error)
	// AddScript injects a script tag and waits for its load event.
	AddScript(ctx context.Context, url string) error
	// InjectStyle adds a style element with the given id unless one exists.
	// It reports whether a new element was added.
	InjectStyle(ctx context.Context, id, css string) (bool, error)
	// Query returns elements matching selector in the top document and in
	// every same-origin frame. Cross-origin frames are skipped.
	Query(ctx context.Context, selector string) ([]Element, error)
	Lookup(ctx context.Context, ref string) (Element, error)
	// PostMessage sends payload to every embedded frame.
	PostMessage(ctx context.Context, payload any) error
	// Dispatch fires a CustomEvent on the window.
	Dispatch(ctx context.Context, name string, detail any) error
	HasFunction(ctx context.Context, name string) (bool, error)
	Call(ctx context.Context, name string, args ...any) error
}
