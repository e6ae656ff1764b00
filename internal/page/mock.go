package page

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockElement is an Element recorded by MockPage.
type MockElement struct {
	mu       sync.Mutex
	id       string
	class    string
	hidden   bool
	clicks   int
	style    map[string]string
	clickErr error
}

// NewMockElement creates an element with the given id and class.
func NewMockElement(id, class string) *MockElement {
	return &MockElement{id: id, class: class}
}

func (e *MockElement) ID() string    { return e.id }
func (e *MockElement) Class() string { return e.class }

func (e *MockElement) Hidden() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hidden
}

func (e *MockElement) Click(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clickErr != nil {
		return e.clickErr
	}
	e.clicks++
	return nil
}

func (e *MockElement) Hide(_ context.Context, style map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hidden = true
	e.style = make(map[string]string, len(style))
	for k, v := range style {
		e.style[k] = v
	}
	return nil
}

// SetHidden marks the element hidden without restyling it.
func (e *MockElement) SetHidden(h bool) *MockElement {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hidden = h
	return e
}

// SetClickError causes Click to fail with err.
func (e *MockElement) SetClickError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clickErr = err
}

// Clicks returns how many times Click succeeded.
func (e *MockElement) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Style returns a copy of the style applied by Hide.
func (e *MockElement) Style() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.style))
	for k, v := range e.style {
		out[k] = v
	}
	return out
}

// Call records an invocation of a page global.
type Call struct {
	Name string
	Args []any
}

// Event records a dispatched CustomEvent.
type Event struct {
	Name   string
	Detail any
}

// MockPage is an in-memory Page for tests.
type MockPage struct {
	mu         sync.Mutex
	scripts    []string
	scriptErrs map[string]error
	addCalls   map[string]int
	styles     map[string]string
	selectors  map[string][]*MockElement
	refs       map[string]*MockElement
	functions  map[string]bool
	calls      []Call
	messages   []any
	events     []Event

	nextID    int
	console   map[int]func(string)
	message   map[int]func([]byte)
	mutations map[int]func(Mutation)
}

// NewMockPage creates an empty MockPage.
func NewMockPage() *MockPage {
	return &MockPage{
		scriptErrs: make(map[string]error),
		addCalls:   make(map[string]int),
		styles:     make(map[string]string),
		selectors:  make(map[string][]*MockElement),
		refs:       make(map[string]*MockElement),
		functions:  make(map[string]bool),
		console:    make(map[int]func(string)),
		message:    make(map[int]func([]byte)),
		mutations:  make(map[int]func(Mutation)),
	}
}

// --- Setup ---

// AddElement registers el as a match for selector.
func (p *MockPage) AddElement(selector string, el *MockElement) *MockElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selectors[selector] = append(p.selectors[selector], el)
	return el
}

// RemoveElements drops every element registered for selector.
func (p *MockPage) RemoveElements(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.selectors, selector)
}

// DefineFunction makes name available to HasFunction and Call.
func (p *MockPage) DefineFunction(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.functions[name] = true
}

// FailScript makes AddScript fail for url.
func (p *MockPage) FailScript(url string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scriptErrs[url] = err
}

// PreloadScript records url as already present in the page.
func (p *MockPage) PreloadScript(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, url)
}

// --- Channel emitters ---

// EmitConsole delivers line to console handlers.
func (p *MockPage) EmitConsole(line string) {
	p.mu.Lock()
	fns := make([]func(string), 0, len(p.console))
	for _, fn := range p.console {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(line)
	}
}

// EmitMessage delivers a JSON-encoded payload to message handlers.
func (p *MockPage) EmitMessage(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	p.mu.Lock()
	fns := make([]func([]byte), 0, len(p.message))
	for _, fn := range p.message {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

// EmitMutation registers el under m.Ref and delivers m to mutation handlers.
func (p *MockPage) EmitMutation(m Mutation, el *MockElement) {
	p.mu.Lock()
	if el != nil {
		p.refs[m.Ref] = el
	}
	fns := make([]func(Mutation), 0, len(p.mutations))
	for _, fn := range p.mutations {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

// --- Observer ---

func (p *MockPage) OnConsole(fn func(string)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.console[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.console, id)
	}
}

func (p *MockPage) OnMessage(fn func([]byte)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.message[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.message, id)
	}
}

func (p *MockPage) OnMutation(fn func(Mutation)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.mutations[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.mutations, id)
	}
}

// Listeners returns the number of attached console, message and mutation handlers.
func (p *MockPage) Listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.console) + len(p.message) + len(p.mutations)
}

// --- Page ---

func (p *MockPage) HasScript(_ context.Context, url string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.scripts {
		if s == url {
			return true, nil
		}
	}
	return false, nil
}

func (p *MockPage) AddScript(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addCalls[url]++
	if err := p.scriptErrs[url]; err != nil {
		return err
	}
	p.scripts = append(p.scripts, url)
	return nil
}

func (p *MockPage) InjectStyle(_ context.Context, id, css string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.styles[id]; ok {
		return false, nil
	}
	p.styles[id] = css
	return true, nil
}

func (p *MockPage) Query(_ context.Context, selector string) ([]Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	els := p.selectors[selector]
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, el)
	}
	return out, nil
}

func (p *MockPage) Lookup(_ context.Context, ref string) (Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.refs[ref]
	if !ok {
		return nil, fmt.Errorf("no element with ref %q", ref)
	}
	return el, nil
}

func (p *MockPage) PostMessage(_ context.Context, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, payload)
	return nil
}

func (p *MockPage) Dispatch(_ context.Context, name string, detail any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Name: name, Detail: detail})
	return nil
}

func (p *MockPage) HasFunction(_ context.Context, name string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.functions[name], nil
}

func (p *MockPage) Call(_ context.Context, name string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.functions[name] {
		return fmt.Errorf("%s is not a function", name)
	}
	p.calls = append(p.calls, Call{Name: name, Args: args})
	return nil
}

// --- Recorded effects ---

// Scripts returns the scripts present in the page, in insertion order.
func (p *MockPage) Scripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.scripts))
	copy(out, p.scripts)
	return out
}

// AddScriptCalls returns how many times AddScript was called for url.
func (p *MockPage) AddScriptCalls(url string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addCalls[url]
}

// Styles returns the injected styles keyed by id.
func (p *MockPage) Styles() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.styles))
	for k, v := range p.styles {
		out[k] = v
	}
	return out
}

// Calls returns every Call invocation.
func (p *MockPage) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// Messages returns every payload passed to PostMessage.
func (p *MockPage) Messages() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]any, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events returns every dispatched CustomEvent.
func (p *MockPage) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
