// internal/browser/dom/domtest/page.go
package domtest

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
)

// Page is an in-memory dom.Page backed by a parsed HTML document. Layout is
// not computed: tests place elements explicitly with SetRect and override
// computed styles with SetStyle or inline style attributes.
type Page struct {
	mu sync.Mutex

	doc   *html.Node
	keys  map[*html.Node]dom.NodeKey
	nodes map[dom.NodeKey]*html.Node
	next  dom.NodeKey

	rects    map[*html.Node][]dom.Rect
	styles   map[*html.Node]map[string]string
	values   map[*html.Node]string
	scroll   map[*html.Node]dom.ScrollMetrics
	markers  map[*html.Node]dom.Marker
	masks    map[*html.Node]dom.Mask
	viewport dom.Viewport

	selectors map[string]cascadia.Selector

	events    []Dispatched
	calls     []string
	streams   map[*stream]struct{}
	focused   *html.Node
	selection *html.Node

	// RequestSubmitUnsupported makes RequestSubmit report dom.ErrUnsupported,
	// as on pages without HTMLFormElement.requestSubmit.
	RequestSubmitUnsupported bool
}

// Dispatched is one event observed on the page.
type Dispatched struct {
	Target dom.NodeKey
	Tag    string
	Event  dom.Event
	// Native is set for the click event produced by HTMLElement.click().
	Native bool
}

// DefaultViewport is a 1280x720 window over a page that does not scroll.
var DefaultViewport = dom.Viewport{
	InnerWidth:       1280,
	InnerHeight:      720,
	BodyScrollHeight: 720,
	BodyOffsetHeight: 720,
	HTMLClientHeight: 720,
	HTMLScrollHeight: 720,
	HTMLOffsetHeight: 720,
}

var _ dom.Page = (*Page)(nil)

// New parses src into a fake page.
func New(src string) (*Page, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	p := &Page{
		doc:       doc,
		keys:      make(map[*html.Node]dom.NodeKey),
		nodes:     make(map[dom.NodeKey]*html.Node),
		rects:     make(map[*html.Node][]dom.Rect),
		styles:    make(map[*html.Node]map[string]string),
		values:    make(map[*html.Node]string),
		scroll:    make(map[*html.Node]dom.ScrollMetrics),
		markers:   make(map[*html.Node]dom.Marker),
		masks:     make(map[*html.Node]dom.Mask),
		viewport:  DefaultViewport,
		selectors: make(map[string]cascadia.Selector),
		streams:   make(map[*stream]struct{}),
	}
	p.seedValues(doc)
	return p, nil
}

// MustParse is New for tests and panics on malformed input.
func MustParse(src string) *Page {
	p, err := New(src)
	if err != nil {
		panic(err)
	}
	return p
}

// Load replaces the document with src, as a navigation would. Handles from the
// previous document stop resolving and new elements get fresh keys. Recorded
// events and calls are kept.
func (p *Page) Load(src string) error {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("parsing document: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = doc
	p.keys = make(map[*html.Node]dom.NodeKey)
	p.nodes = make(map[dom.NodeKey]*html.Node)
	p.rects = make(map[*html.Node][]dom.Rect)
	p.styles = make(map[*html.Node]map[string]string)
	p.values = make(map[*html.Node]string)
	p.scroll = make(map[*html.Node]dom.ScrollMetrics)
	p.markers = make(map[*html.Node]dom.Marker)
	p.masks = make(map[*html.Node]dom.Mask)
	p.focused = nil
	p.selection = nil
	p.seedValues(doc)
	return nil
}

// -- Node handles --

type node struct {
	key dom.NodeKey
	tag string
	ns  dom.Namespace
}

func (n node) Key() dom.NodeKey         { return n.key }
func (n node) TagName() string          { return n.tag }
func (n node) Namespace() dom.Namespace { return n.ns }
func (n node) String() string           { return fmt.Sprintf("<%s #%d>", n.tag, n.key) }

func (p *Page) wrap(h *html.Node) dom.Node {
	if h == nil {
		return nil
	}
	key, ok := p.keys[h]
	if !ok {
		p.next++
		key = p.next
		p.keys[h] = key
		p.nodes[key] = h
	}
	ns := dom.NamespaceHTML
	switch h.Namespace {
	case "":
	case "svg":
		ns = dom.NamespaceSVG
	default:
		ns = dom.NamespaceOther
	}
	return node{key: key, tag: strings.ToLower(h.Data), ns: ns}
}

func (p *Page) wrapAll(hs []*html.Node) []dom.Node {
	out := make([]dom.Node, 0, len(hs))
	for _, h := range hs {
		out = append(out, p.wrap(h))
	}
	return out
}

func (p *Page) resolve(n dom.Node) (*html.Node, error) {
	if n == nil {
		return nil, dom.NotFound("resolve", "<nil>")
	}
	h, ok := p.nodes[n.Key()]
	if !ok {
		return nil, dom.NotFound("resolve", fmt.Sprintf("node %d", n.Key()))
	}
	return h, nil
}

func (p *Page) compile(selector string) (cascadia.Selector, error) {
	if sel, ok := p.selectors[selector]; ok {
		return sel, nil
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	p.selectors[selector] = sel
	return sel, nil
}

func (p *Page) findElement(a atom.Atom) *html.Node {
	var walk func(*html.Node) *html.Node
	walk = func(h *html.Node) *html.Node {
		if h.Type == html.ElementNode && h.DataAtom == a {
			return h
		}
		for c := h.FirstChild; c != nil; c = c.NextSibling {
			if found := walk(c); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(p.doc)
}

func (p *Page) body() *html.Node { return p.findElement(atom.Body) }
func (p *Page) root() *html.Node { return p.findElement(atom.Html) }

func (p *Page) connected(h *html.Node) bool {
	for cur := h; cur != nil; cur = cur.Parent {
		if cur == p.doc {
			return true
		}
	}
	return false
}

func (p *Page) inBody(h *html.Node) bool {
	b := p.body()
	for cur := h; cur != nil; cur = cur.Parent {
		if cur == b {
			return true
		}
	}
	return false
}

func parentElement(h *html.Node) *html.Node {
	if h.Parent == nil || h.Parent.Type != html.ElementNode {
		return nil
	}
	return h.Parent
}

func attr(h *html.Node, name string) (string, bool) {
	for _, a := range h.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(h *html.Node, name, value string) {
	for i, a := range h.Attr {
		if a.Namespace == "" && a.Key == name {
			h.Attr[i].Val = value
			return
		}
	}
	h.Attr = append(h.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(h *html.Node, name string) {
	out := h.Attr[:0]
	for _, a := range h.Attr {
		if a.Namespace == "" && a.Key == name {
			continue
		}
		out = append(out, a)
	}
	h.Attr = out
}

func textOf(h *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(h)
	return b.String()
}

// -- dom.Tree --

func (p *Page) Body(ctx context.Context) (dom.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wrap(p.body()), nil
}

func (p *Page) DocumentElement(ctx context.Context) (dom.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wrap(p.root()), nil
}

func (p *Page) Parent(ctx context.Context, n dom.Node) (dom.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return nil, err
	}
	return p.wrap(parentElement(h)), nil
}

func (p *Page) Children(ctx context.Context, n dom.Node) ([]dom.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return nil, err
	}
	var out []dom.Node
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, p.wrap(c))
		}
	}
	return out, nil
}

func (p *Page) QueryAll(ctx context.Context, scope dom.Node, selector string) ([]dom.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.compile(selector)
	if err != nil {
		return nil, err
	}
	root := p.doc
	if scope != nil {
		if root, err = p.resolve(scope); err != nil {
			return nil, err
		}
	}
	found := goquery.NewDocumentFromNode(root).FindMatcher(sel)
	return p.wrapAll(found.Nodes), nil
}

func (p *Page) Matches(ctx context.Context, n dom.Node, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return false, err
	}
	sel, err := p.compile(selector)
	if err != nil {
		return false, err
	}
	return sel.Match(h), nil
}

func (p *Page) IsConnected(ctx context.Context, n dom.Node) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.nodes[n.Key()]
	if !ok {
		return false, nil
	}
	return p.connected(h), nil
}

func (p *Page) TextContent(ctx context.Context, n dom.Node) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return "", err
	}
	return textOf(h), nil
}

// -- dom.Attributes --

func (p *Page) Attribute(ctx context.Context, n dom.Node, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return "", false, err
	}
	v, ok := attr(h, name)
	return v, ok, nil
}

func (p *Page) Attributes(ctx context.Context, n dom.Node) ([]dom.Attr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return nil, err
	}
	out := make([]dom.Attr, 0, len(h.Attr))
	for _, a := range h.Attr {
		name := a.Key
		if a.Namespace != "" {
			name = a.Namespace + ":" + a.Key
		}
		out = append(out, dom.Attr{Name: name, Value: a.Val})
	}
	return out, nil
}

func (p *Page) SetAttribute(ctx context.Context, n dom.Node, name, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return err
	}
	setAttr(h, name, value)
	return nil
}

func (p *Page) RemoveAttribute(ctx context.Context, n dom.Node, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return err
	}
	removeAttr(h, name)
	return nil
}

// -- dom.Forms --

func (p *Page) seedValues(root *html.Node) {
	var walk func(*html.Node)
	walk = func(h *html.Node) {
		if h.Type == html.ElementNode && h.Namespace == "" {
			switch h.DataAtom {
			case atom.Input, atom.Option:
				if v, ok := attr(h, "value"); ok {
					p.values[h] = v
				} else if h.DataAtom == atom.Option {
					p.values[h] = strings.TrimSpace(textOf(h))
				}
			case atom.Textarea:
				p.values[h] = textOf(h)
			}
		}
		for c := h.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

func (p *Page) options(h *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Option {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(h)
	return out
}

func (p *Page) value(h *html.Node) string {
	if h.DataAtom == atom.Select {
		if v, ok := p.values[h]; ok {
			return v
		}
		opts := p.options(h)
		for _, o := range opts {
			if _, ok := attr(o, "selected"); ok {
				return p.values[o]
			}
		}
		if len(opts) > 0 {
			return p.values[opts[0]]
		}
		return ""
	}
	return p.values[h]
}

func (p *Page) Value(ctx context.Context, n dom.Node) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return "", err
	}
	return p.value(h), nil
}

func (p *Page) SetNativeValue(ctx context.Context, n dom.Node, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return err
	}
	if !dom.IsFormComponent(p.wrap(h)) {
		return &dom.TargetError{Op: "set value", Target: h.Data, Err: dom.ErrUnsupported}
	}
	p.values[h] = value
	p.calls = append(p.calls, "setValue:"+value)
	return nil
}

func (p *Page) RequestSubmit(ctx context.Context, form dom.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.resolve(form); err != nil {
		return err
	}
	if p.RequestSubmitUnsupported {
		return dom.ErrUnsupported
	}
	p.calls = append(p.calls, "requestSubmit")
	return nil
}

func (p *Page) Submit(ctx context.Context, form dom.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.resolve(form); err != nil {
		return err
	}
	p.calls = append(p.calls, "submit")
	return nil
}

// -- dom.Input --

func (p *Page) DispatchEvent(ctx context.Context, n dom.Node, ev dom.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return err
	}
	p.events = append(p.events, Dispatched{Target: n.Key(), Tag: h.Data, Event: ev})
	return nil
}

func (p *Page) Click(ctx context.Context, n dom.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return err
	}
	if h.Namespace != "" {
		return dom.ErrUnsupported
	}
	p.calls = append(p.calls, "click")
	p.events = append(p.events, Dispatched{
		Target: n.Key(),
		Tag:    h.Data,
		Event:  dom.Event{Type: "click", Class: dom.ClassMouseEvent, Bubbles: true},
		Native: true,
	})
	return nil
}

func (p *Page) Focus(ctx context.Context, n dom.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return err
	}
	p.focused = h
	p.calls = append(p.calls, "focus")
	return nil
}

func (p *Page) SelectContents(ctx context.Context, n dom.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return err
	}
	p.selection = h
	p.calls = append(p.calls, "selectContents")
	return nil
}

// ExecCommand understands "delete" (clears the selected contents) and
// "insertText" (appends to the focused element).
func (p *Page) ExecCommand(ctx context.Context, command, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "execCommand:"+command)
	switch command {
	case "delete":
		if p.selection != nil {
			for c := p.selection.FirstChild; c != nil; {
				next := c.NextSibling
				p.selection.RemoveChild(c)
				c = next
			}
			p.notify(p.selection)
		}
	case "insertText":
		target := p.focused
		if target == nil {
			target = p.selection
		}
		if target != nil {
			target.AppendChild(&html.Node{Type: html.TextNode, Data: value})
			p.notify(target)
		}
	default:
		return fmt.Errorf("execCommand %q: %w", command, dom.ErrUnsupported)
	}
	return nil
}

// -- test helpers --

// MustNode returns the first element matching selector and panics if there
// is none.
func (p *Page) MustNode(selector string) dom.Node {
	nodes, err := p.QueryAll(context.Background(), nil, selector)
	if err != nil {
		panic(err)
	}
	if len(nodes) == 0 {
		panic(fmt.Sprintf("domtest: no element matches %q", selector))
	}
	return nodes[0]
}

// SetRect places n at the given client rects. The bounding rect is their union.
func (p *Page) SetRect(n dom.Node, rects ...dom.Rect) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		panic(err)
	}
	p.rects[h] = append([]dom.Rect(nil), rects...)
}

// SetStyle overrides one computed style property of n.
func (p *Page) SetStyle(n dom.Node, prop, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		panic(err)
	}
	if p.styles[h] == nil {
		p.styles[h] = make(map[string]string)
	}
	p.styles[h][prop] = value
}

// SetViewport replaces the window metrics.
func (p *Page) SetViewport(v dom.Viewport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewport = v
}

// SetScrollMetrics sets the vertical scroll state of n.
func (p *Page) SetScrollMetrics(n dom.Node, m dom.ScrollMetrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		panic(err)
	}
	p.scroll[h] = m
}

// Events returns every dispatched event in order.
func (p *Page) Events() []Dispatched {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Dispatched(nil), p.events...)
}

// EventTypes lists the event types dispatched on n in order.
func (p *Page) EventTypes(n dom.Node) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.Target == n.Key() {
			out = append(out, e.Event.Type)
		}
	}
	return out
}

// Calls returns the primitive calls recorded so far ("click", "focus",
// "setValue:<v>", "requestSubmit", "execCommand:<cmd>", ...).
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Markers returns the markers currently attached to the document.
func (p *Page) Markers() []dom.Marker {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []dom.Marker
	var walk func(*html.Node)
	walk = func(h *html.Node) {
		if m, ok := p.markers[h]; ok {
			out = append(out, m)
		}
		for c := h.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(p.doc)
	return out
}

// Masks returns the masks currently attached to the document.
func (p *Page) Masks() []dom.Mask {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []dom.Mask
	for h, m := range p.masks {
		if p.connected(h) {
			out = append(out, m)
		}
	}
	return out
}

// Append parses markup as children of parent and reports a childList mutation.
func (p *Page) Append(parent dom.Node, markup string) ([]dom.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(parent)
	if err != nil {
		return nil, err
	}
	frag, err := html.ParseFragment(strings.NewReader(markup), h)
	if err != nil {
		return nil, fmt.Errorf("parsing fragment: %w", err)
	}
	var added []*html.Node
	for _, c := range frag {
		h.AppendChild(c)
		p.seedValues(c)
		if c.Type == html.ElementNode {
			added = append(added, c)
		}
	}
	p.notify(h)
	return p.wrapAll(added), nil
}

// Remove detaches n and reports a childList mutation on its parent.
func (p *Page) Remove(n dom.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return err
	}
	parent := h.Parent
	if parent == nil {
		return nil
	}
	parent.RemoveChild(h)
	p.notify(parent)
	return nil
}

// Mutate reports a childList mutation targeted at n without changing the tree.
func (p *Page) Mutate(n dom.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		panic(err)
	}
	p.notify(h)
}

// Scroll reports a window scroll event.
func (p *Page) Scroll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emit(dom.Activity{Kind: dom.ActivityScroll})
}

// Text returns the text content of n.
func (p *Page) Text(n dom.Node) string {
	s, err := p.TextContent(context.Background(), n)
	if err != nil {
		panic(err)
	}
	return s
}

// HTML renders the current document.
func (p *Page) HTML() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, p.doc); err != nil {
		panic(err)
	}
	return buf.String()
}

func zIndexOf(v string) (int, bool) {
	z, err := strconv.Atoi(strings.TrimSpace(v))
	return z, err == nil
}
