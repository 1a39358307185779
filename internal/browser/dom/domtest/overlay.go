// internal/browser/dom/domtest/overlay.go
package domtest

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
)

func (p *Page) byID(id string) *html.Node {
	var walk func(*html.Node) *html.Node
	walk = func(h *html.Node) *html.Node {
		if h.Type == html.ElementNode {
			if v, ok := attr(h, "id"); ok && v == id {
				return h
			}
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

func (p *Page) InjectStyle(ctx context.Context, id, css string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byID(id) != nil {
		return nil
	}
	parent := p.findElement(atom.Head)
	if parent == nil {
		parent = p.root()
	}
	style := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Style,
		Data:     "style",
		Attr:     []html.Attribute{{Key: "id", Val: id}},
	}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: css})
	parent.AppendChild(style)
	p.calls = append(p.calls, "injectStyle:"+id)
	return nil
}

// AppendMarker adds a div to <body> carrying the marker class and attribute.
// Marker nodes are not hit-testable.
func (p *Page) AppendMarker(ctx context.Context, m dom.Marker) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	body := p.body()
	if body == nil {
		return fmt.Errorf("append marker: %w", dom.ErrTargetNotFound)
	}
	div := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Div,
		Data:     "div",
		Attr: []html.Attribute{
			{Key: "class", Val: m.Class},
			{Key: m.Attr, Val: m.ID},
			{Key: "style", Val: fmt.Sprintf("top: %spx; left: %spx; width: %spx; height: %spx; z-index: %s",
				px(m.Top), px(m.Left), px(m.Width), px(m.Height), m.ZIndex)},
		},
	}
	body.AppendChild(div)
	p.styles[div] = map[string]string{"pointer-events": "none", "position": "absolute"}
	p.markers[div] = m
	p.notify(body)
	return nil
}

// AppendMask adds a canvas with the mask id to <body>.
func (p *Page) AppendMask(ctx context.Context, m dom.Mask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	body := p.body()
	if body == nil {
		return fmt.Errorf("append mask: %w", dom.ErrTargetNotFound)
	}
	canvas := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Canvas,
		Data:     "canvas",
		Attr: []html.Attribute{
			{Key: "id", Val: m.ID},
			{Key: "width", Val: px(m.Width)},
			{Key: "height", Val: px(m.Height)},
		},
	}
	body.AppendChild(canvas)
	p.styles[canvas] = map[string]string{"pointer-events": "none", "position": "fixed"}
	p.masks[canvas] = m
	p.notify(body)
	return nil
}

func (p *Page) RemoveAll(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.compile(selector)
	if err != nil {
		return err
	}
	for _, h := range sel.MatchAll(p.doc) {
		parent := h.Parent
		if parent == nil {
			continue
		}
		parent.RemoveChild(h)
		delete(p.markers, h)
		delete(p.masks, h)
		p.notify(parent)
	}
	return nil
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
