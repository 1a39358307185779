// internal/browser/cdp/ax.go
package cdp

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
	"github.com/xkilldash9x/pagegrounder/internal/grounding/a11y"
)

var _ a11y.Source = (*Page)(nil)

// Reasons Chrome gives for leaving a node out of the accessibility tree that
// also hide it from users. Other reasons (presentational roles, uninteresting
// generics) still leave the element reachable.
var hiddenReasons = map[string]bool{
	"ariaHiddenElement": true,
	"ariaHiddenSubtree": true,
	"notRendered":       true,
	"notVisible":        true,
	"inertElement":      true,
	"inertSubtree":      true,
}

// axNode fetches the browser's accessibility node for n.
func (p *Page) axNode(ctx context.Context, n dom.Node) (*accessibility.Node, error) {
	if err := p.enableAccessibility(ctx); err != nil {
		return nil, err
	}
	obj, err := p.element(ctx, n)
	if err != nil {
		return nil, err
	}
	defer p.release(obj)

	var found []*accessibility.Node
	err = p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		found, err = accessibility.GetPartialAXTree().
			WithObjectID(obj.ObjectID).
			WithFetchRelatives(false).
			Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("fetching accessibility node for <%s>: %w", n.TagName(), err)
	}
	if len(found) == 0 {
		return nil, dom.NotFound("accessibility node", n.TagName())
	}
	return found[0], nil
}

func (p *Page) enableAccessibility(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.axEnabled {
		return nil
	}
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return accessibility.Enable().Do(c)
	}))
	if err != nil {
		return fmt.Errorf("enabling accessibility domain: %w", err)
	}
	p.axEnabled = true
	return nil
}

func axString(v *accessibility.Value) string {
	if v == nil || len(v.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(v.Value), &s); err != nil {
		return ""
	}
	return s
}

func axBool(v *accessibility.Value) bool {
	if v == nil || len(v.Value) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal([]byte(v.Value), &b); err != nil {
		return false
	}
	return b
}

func property(node *accessibility.Node, name accessibility.PropertyName) (*accessibility.Value, bool) {
	for _, prop := range node.Properties {
		if prop.Name == name {
			return prop.Value, true
		}
	}
	return nil, false
}

func (p *Page) Role(ctx context.Context, n dom.Node) (string, bool, error) {
	node, err := p.axNode(ctx, n)
	if err != nil {
		return "", false, err
	}
	role := axString(node.Role)
	switch role {
	case "", "generic", "none":
		return "", false, nil
	}
	return role, true, nil
}

func (p *Page) Name(ctx context.Context, n dom.Node) (string, error) {
	node, err := p.axNode(ctx, n)
	if err != nil {
		return "", err
	}
	return axString(node.Name), nil
}

func (p *Page) Description(ctx context.Context, n dom.Node) (string, error) {
	node, err := p.axNode(ctx, n)
	if err != nil {
		return "", err
	}
	return axString(node.Description), nil
}

func (p *Page) Disabled(ctx context.Context, n dom.Node) (bool, error) {
	node, err := p.axNode(ctx, n)
	if err != nil {
		return false, err
	}
	v, ok := property(node, accessibility.PropertyNameDisabled)
	return ok && axBool(v), nil
}

func (p *Page) Inaccessible(ctx context.Context, n dom.Node) (bool, error) {
	node, err := p.axNode(ctx, n)
	if err != nil {
		return false, err
	}
	if v, ok := property(node, accessibility.PropertyNameHidden); ok && axBool(v) {
		return true, nil
	}
	if !node.Ignored {
		return false, nil
	}
	for _, reason := range node.IgnoredReasons {
		if hiddenReasons[string(reason.Name)] {
			return true, nil
		}
	}
	return false, nil
}
