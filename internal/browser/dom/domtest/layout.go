// internal/browser/dom/domtest/layout.go
package domtest

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
)

// inherited properties fall back to the parent's computed value.
var inherited = map[string]bool{
	"cursor":         true,
	"pointer-events": true,
	"visibility":     true,
}

var initial = map[string]string{
	"cursor":         "auto",
	"pointer-events": "auto",
	"visibility":     "visible",
	"z-index":        "auto",
	"overflow-y":     "visible",
	"display":        "inline",
	"position":       "static",
}

var hiddenByDefault = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Title:    true,
	atom.Meta:     true,
	atom.Link:     true,
	atom.Template: true,
}

func inlineStyle(h *html.Node) map[string]string {
	raw, ok := attr(h, "style")
	if !ok {
		return nil
	}
	out := make(map[string]string)
	for _, decl := range strings.Split(raw, ";") {
		name, value, found := strings.Cut(decl, ":")
		if !found {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "!important"))
		if name == "overflow" {
			out["overflow-y"] = value
			continue
		}
		out[name] = value
	}
	return out
}

// computed resolves prop for h: overrides, then inline style, then
// user-agent defaults, then inheritance.
func (p *Page) computed(h *html.Node, prop string) string {
	if v, ok := p.styles[h][prop]; ok {
		return v
	}
	if v, ok := inlineStyle(h)[prop]; ok && v != "inherit" {
		return v
	}
	switch prop {
	case "display":
		if _, hidden := attr(h, "hidden"); hidden || hiddenByDefault[h.DataAtom] {
			return "none"
		}
	case "cursor":
		if h.DataAtom == atom.A && h.Namespace == "" {
			if _, ok := attr(h, "href"); ok {
				return "pointer"
			}
		}
	}
	if inherited[prop] {
		if parent := parentElement(h); parent != nil {
			return p.computed(parent, prop)
		}
	}
	return initial[prop]
}

func (p *Page) rendered(h *html.Node) bool {
	for cur := h; cur != nil; cur = parentElement(cur) {
		if p.computed(cur, "display") == "none" {
			return false
		}
	}
	return p.computed(h, "visibility") != "hidden"
}

func (p *Page) stackLevel(h *html.Node) int {
	level := 0
	for cur := h; cur != nil; cur = parentElement(cur) {
		if z, ok := zIndexOf(p.computed(cur, "z-index")); ok && z > level {
			level = z
		}
	}
	return level
}

func (p *Page) Viewport(ctx context.Context) (dom.Viewport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport, nil
}

func (p *Page) ComputedStyles(ctx context.Context, nodes []dom.Node, props ...string) ([]map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]map[string]string, 0, len(nodes))
	for _, n := range nodes {
		h, err := p.resolve(n)
		if err != nil {
			return nil, err
		}
		style := make(map[string]string, len(props))
		for _, prop := range props {
			style[prop] = p.computed(h, prop)
		}
		out = append(out, style)
	}
	return out, nil
}

func (p *Page) ClientRects(ctx context.Context, n dom.Node) ([]dom.Rect, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return nil, err
	}
	return append([]dom.Rect(nil), p.rects[h]...), nil
}

func (p *Page) BoundingRect(ctx context.Context, n dom.Node) (dom.Rect, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return dom.Rect{}, err
	}
	return union(p.rects[h]), nil
}

func union(rects []dom.Rect) dom.Rect {
	if len(rects) == 0 {
		return dom.Rect{}
	}
	left, top := rects[0].Left(), rects[0].Top()
	right, bottom := rects[0].Right(), rects[0].Bottom()
	for _, r := range rects[1:] {
		left = min(left, r.Left())
		top = min(top, r.Top())
		right = max(right, r.Right())
		bottom = max(bottom, r.Bottom())
	}
	return dom.Rect{X: left, Y: top, Width: right - left, Height: bottom - top}
}

func (p *Page) ScrollMetrics(ctx context.Context, n dom.Node) (dom.ScrollMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.resolve(n)
	if err != nil {
		return dom.ScrollMetrics{}, err
	}
	if m, ok := p.scroll[h]; ok {
		return m, nil
	}
	if h == p.root() {
		return dom.ScrollMetrics{
			ScrollTop:    p.viewport.DocScrollTop,
			ClientHeight: p.viewport.HTMLClientHeight,
			ScrollHeight: p.viewport.HTMLScrollHeight,
		}, nil
	}
	return dom.ScrollMetrics{}, nil
}

// ElementFromPoint returns the rendered, hit-testable element whose client
// rect contains the point, preferring higher z-index and then later
// document order.
func (p *Page) ElementFromPoint(ctx context.Context, x, y float64) (dom.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var (
		best      *html.Node
		bestLevel int
	)
	var walk func(*html.Node)
	walk = func(h *html.Node) {
		if h.Type == html.ElementNode && p.hit(h, x, y) {
			if level := p.stackLevel(h); best == nil || level >= bestLevel {
				best, bestLevel = h, level
			}
		}
		for c := h.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(p.doc)
	if best == nil {
		return nil, nil
	}
	return p.wrap(best), nil
}

func (p *Page) hit(h *html.Node, x, y float64) bool {
	if p.computed(h, "pointer-events") == "none" || !p.rendered(h) {
		return false
	}
	for _, r := range p.rects[h] {
		if r.Contains(x, y) {
			return true
		}
	}
	return false
}

// ScrollTo moves the window and reports a scroll event.
func (p *Page) ScrollTo(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewport.ScrollX = x
	p.viewport.ScrollY = y
	p.viewport.DocScrollTop = y
	p.calls = append(p.calls, "scrollTo")
	p.emit(dom.Activity{Kind: dom.ActivityScroll})
	return nil
}
