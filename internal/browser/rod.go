// Package browser implements page.Page on a Chromium tab driven over the
// DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"go.uber.org/zap"

	"github.com/sweeney/softphone-bridge/internal/page"
)

// Names of the page bindings the hook script reports through.
const (
	messageBinding  = "__softphoneBridgeMessage"
	mutationBinding = "__softphoneBridgeMutation"

	refAttr    = "data-softphone-ref"
	hiddenAttr = "data-softphone-hidden"

	// frameDepth bounds the same-origin iframe search.
	frameDepth = 3
)

// refPattern matches the "<document>:<sequence>" refs hookJS assigns.
var refPattern = regexp.MustCompile(`^[A-Za-z0-9-]+:[0-9]+$`)

// hookJS relays window messages and inserted nodes to the Go side. It runs
// on every new document and once on the current one.
const hookJS = `() => {
	if (window.__softphoneBridgeHooked) return true;
	window.__softphoneBridgeHooked = true;

	window.addEventListener('message', (ev) => {
		let text;
		try { text = typeof ev.data === 'string' ? ev.data : JSON.stringify(ev.data); }
		catch (e) { text = String(ev.data); }
		if (typeof window.` + messageBinding + ` === 'function') window.` + messageBinding + `(text);
	});

	// Every frame runs this hook, so refs carry a per-document prefix.
	const doc = (window.crypto && typeof crypto.randomUUID === 'function')
		? crypto.randomUUID()
		: Date.now().toString(36) + '-' + Math.random().toString(36).slice(2);
	let seq = 0;
	const report = (node) => {
		if (node.nodeType !== 1 || typeof window.` + mutationBinding + ` !== 'function') return;
		const ref = doc + ':' + (++seq);
		node.setAttribute('` + refAttr + `', ref);
		window.` + mutationBinding + `({
			ref: ref,
			tag: node.tagName.toLowerCase(),
			id: node.id || '',
			class: typeof node.className === 'string' ? node.className : '',
			text: (node.textContent || '').slice(0, 300),
		});
	};
	const start = () => new MutationObserver((records) => {
		for (const r of records) r.addedNodes.forEach(report);
	}).observe(document.documentElement, { childList: true, subtree: true });

	if (document.documentElement) start();
	else document.addEventListener('DOMContentLoaded', start);
	return true;
}`

const describeJS = `() => {
	const s = getComputedStyle(this);
	const r = this.getBoundingClientRect();
	return {
		id: this.id || '',
		class: typeof this.className === 'string' ? this.className : '',
		hidden: this.hasAttribute('` + hiddenAttr + `') || s.display === 'none' ||
			s.visibility === 'hidden' || s.opacity === '0' || r.width === 0 || r.height === 0,
	};
}`

// Options configures Launch.
type Options struct {
	// ControlURL connects to a running browser instead of launching one.
	ControlURL string
	Bin        string
	Headless   bool
	// URL is the host page that embeds the widget.
	URL         string
	LoadTimeout time.Duration
	Logger      *zap.Logger
}

// Page is a page.Page backed by a rod page.
type Page struct {
	rod      *rod.Page
	browser  *rod.Browser
	launcher *launcher.Launcher
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	stops    []func() error

	mu        sync.Mutex
	nextID    int
	console   map[int]func(string)
	message   map[int]func([]byte)
	mutations map[int]func(page.Mutation)
}

var _ page.Page = (*Page)(nil)

// Launch connects to or starts Chromium, opens opts.URL and installs the
// console, message and mutation hooks.
func Launch(ctx context.Context, opts Options) (*Page, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var l *launcher.Launcher
	controlURL := opts.ControlURL
	if controlURL == "" {
		l = launcher.New().Headless(opts.Headless)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chromium: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}

	rp, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("open tab: %w", err)
	}

	lctx, cancel := context.WithCancel(ctx)
	p := &Page{
		rod:       rp,
		browser:   b,
		launcher:  l,
		log:       log,
		ctx:       lctx,
		cancel:    cancel,
		console:   make(map[int]func(string)),
		message:   make(map[int]func([]byte)),
		mutations: make(map[int]func(page.Mutation)),
	}
	if err := p.install(); err != nil {
		p.Close()
		return nil, err
	}

	if opts.URL != "" {
		nav := rp
		if opts.LoadTimeout > 0 {
			nav = rp.Timeout(opts.LoadTimeout)
		}
		if err := nav.Navigate(opts.URL); err != nil {
			p.Close()
			return nil, fmt.Errorf("navigate to %s: %w", opts.URL, err)
		}
		if err := nav.WaitLoad(); err != nil {
			p.Close()
			return nil, fmt.Errorf("waiting for %s: %w", opts.URL, err)
		}
	}
	return p, nil
}

// install exposes the bindings, registers the hook for future documents and
// starts the console event loop.
func (p *Page) install() error {
	stopMsg, err := p.rod.Expose(messageBinding, func(j gson.JSON) (interface{}, error) {
		p.emitMessage([]byte(j.Str()))
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("expose %s: %w", messageBinding, err)
	}
	p.stops = append(p.stops, stopMsg)

	stopMut, err := p.rod.Expose(mutationBinding, func(j gson.JSON) (interface{}, error) {
		p.emitMutation(page.Mutation{
			Ref:   j.Get("ref").Str(),
			Tag:   j.Get("tag").Str(),
			ID:    j.Get("id").Str(),
			Class: j.Get("class").Str(),
			Text:  j.Get("text").Str(),
		})
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("expose %s: %w", mutationBinding, err)
	}
	p.stops = append(p.stops, stopMut)

	remove, err := p.rod.EvalOnNewDocument("(" + hookJS + ")()")
	if err != nil {
		return fmt.Errorf("register page hook: %w", err)
	}
	p.stops = append(p.stops, remove)
	if _, err := p.rod.Eval(hookJS); err != nil {
		return fmt.Errorf("install page hook: %w", err)
	}

	wait := p.rod.Context(p.ctx).EachEvent(func(ev *proto.RuntimeConsoleAPICalled) {
		p.emitConsole(consoleText(ev.Args))
	})
	go wait()
	return nil
}

// Close detaches the hooks and shuts the browser down if Launch started it.
func (p *Page) Close() {
	p.cancel()
	for _, stop := range p.stops {
		if err := stop(); err != nil {
			p.log.Debug("removing page hook", zap.Error(err))
		}
	}
	p.stops = nil
	if err := p.browser.Close(); err != nil {
		p.log.Debug("closing browser", zap.Error(err))
	}
	if p.launcher != nil {
		p.launcher.Kill()
	}
}

func consoleText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

// --- Observer ---

func (p *Page) OnConsole(fn func(string)) func() {
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

func (p *Page) OnMessage(fn func([]byte)) func() {
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

func (p *Page) OnMutation(fn func(page.Mutation)) func() {
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

func (p *Page) emitConsole(line string) {
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

func (p *Page) emitMessage(payload []byte) {
	p.mu.Lock()
	fns := make([]func([]byte), 0, len(p.message))
	for _, fn := range p.message {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}

func (p *Page) emitMutation(m page.Mutation) {
	p.mu.Lock()
	fns := make([]func(page.Mutation), 0, len(p.mutations))
	for _, fn := range p.mutations {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

// --- Page ---

func (p *Page) HasScript(ctx context.Context, url string) (bool, error) {
	res, err := p.rod.Context(ctx).Eval(
		`(u) => Array.from(document.scripts).some((s) => s.src === u)`, url)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (p *Page) AddScript(ctx context.Context, url string) error {
	return p.rod.Context(ctx).AddScriptTag(url, "")
}

func (p *Page) InjectStyle(ctx context.Context, id, css string) (bool, error) {
	res, err := p.rod.Context(ctx).Eval(`(id, css) => {
		if (document.getElementById(id)) return false;
		const s = document.createElement('style');
		s.id = id;
		s.textContent = css;
		(document.head || document.documentElement).appendChild(s);
		return true;
	}`, id, css)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (p *Page) Query(ctx context.Context, selector string) ([]page.Element, error) {
	return p.query(ctx, p.rod, selector, frameDepth)
}

func (p *Page) query(ctx context.Context, doc *rod.Page, selector string, depth int) ([]page.Element, error) {
	doc = doc.Context(ctx)
	els, err := doc.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	out := make([]page.Element, 0, len(els))
	for _, el := range els {
		e, err := describe(el)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	if depth == 0 {
		return out, nil
	}

	frames, err := doc.Elements("iframe")
	if err != nil {
		return out, nil
	}
	for _, f := range frames {
		res, err := f.Eval(`() => { try { return !!this.contentDocument; } catch (e) { return false; } }`)
		if err != nil || !res.Value.Bool() {
			continue
		}
		fp, err := f.Frame()
		if err != nil {
			continue
		}
		inner, err := p.query(ctx, fp, selector, depth-1)
		if err != nil {
			continue
		}
		out = append(out, inner...)
	}
	return out, nil
}

func (p *Page) Lookup(ctx context.Context, ref string) (page.Element, error) {
	if !refPattern.MatchString(ref) {
		return nil, fmt.Errorf("invalid element ref %q", ref)
	}
	els, err := p.Query(ctx, `[`+refAttr+`="`+ref+`"]`)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("no element with ref %s", ref)
	}
	return els[0], nil
}

func (p *Page) PostMessage(ctx context.Context, payload any) error {
	_, err := p.rod.Context(ctx).Eval(`(msg) => {
		for (let i = 0; i < window.frames.length; i++) {
			try { window.frames[i].postMessage(msg, '*'); } catch (e) {}
		}
	}`, payload)
	return err
}

func (p *Page) Dispatch(ctx context.Context, name string, detail any) error {
	_, err := p.rod.Context(ctx).Eval(
		`(name, detail) => { window.dispatchEvent(new CustomEvent(name, { detail: detail })); }`,
		name, detail)
	return err
}

func (p *Page) HasFunction(ctx context.Context, name string) (bool, error) {
	res, err := p.rod.Context(ctx).Eval(`(n) => typeof window[n] === 'function'`, name)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (p *Page) Call(ctx context.Context, name string, args ...any) error {
	ok, err := p.HasFunction(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s is not a function", name)
	}
	_, err = p.rod.Context(ctx).Eval(
		`(n, ...args) => { window[n](...args); }`,
		append([]any{name}, args...)...)
	return err
}

// element is a page.Element described once at query time.
type element struct {
	el     *rod.Element
	id     string
	class  string
	hidden bool
}

func describe(el *rod.Element) (*element, error) {
	res, err := el.Eval(describeJS)
	if err != nil {
		return nil, err
	}
	v := res.Value
	return &element{
		el:     el,
		id:     v.Get("id").Str(),
		class:  v.Get("class").Str(),
		hidden: v.Get("hidden").Bool(),
	}, nil
}

func (e *element) ID() string    { return e.id }
func (e *element) Class() string { return e.class }
func (e *element) Hidden() bool  { return e.hidden }

// Click calls HTMLElement.click so controls the suppressor moved off-screen
// still receive the event.
func (e *element) Click(ctx context.Context) error {
	if _, err := e.el.Context(ctx).Eval(`() => this.click()`); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

func (e *element) Hide(ctx context.Context, style map[string]string) error {
	if len(style) == 0 {
		return errors.New("empty style")
	}
	_, err := e.el.Context(ctx).Eval(`(style, attr) => {
		for (const [k, v] of Object.entries(style)) this.style.setProperty(k, v, 'important');
		this.setAttribute(attr, '');
	}`, style, hiddenAttr)
	if err != nil {
		return fmt.Errorf("hide: %w", err)
	}
	e.hidden = true
	return nil
}
