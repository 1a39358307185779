// internal/grounding/detect/detect.go
package detect

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
	"github.com/xkilldash9x/pagegrounder/internal/grounding/a11y"
	"github.com/xkilldash9x/pagegrounder/internal/grounding/geometry"
)

// DefaultSelector matches natively interactive elements and the common ARIA
// widget roles.
const DefaultSelector = `a, button, input, textarea, summary, select, [role="button"], [role="tab"], [role="link"], [role="checkbox"], [role="menuitem"], [role="menuitemcheckbox"], [role="menuitemradio"], [role="radio"], [role="combobox"], [role="option"], [role="searchbox"], [role="textbox"], [contenteditable]`

// DefaultZeroAreaAllowlist keeps the hidden text surface of Monaco editors,
// which has no area but receives all keyboard input.
var DefaultZeroAreaAllowlist = []string{"textarea.monaco-mouse-cursor-text"}

// Page is the capability subset detection needs.
type Page interface {
	dom.Tree
	dom.Attributes
	dom.Layout
}

// Detector enumerates the elements a user could interact with.
type Detector struct {
	page      Page
	source    a11y.Source
	selector  string
	allowlist []string
	logger    *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithSelector replaces the base-set selector.
func WithSelector(selector string) Option {
	return func(d *Detector) {
		if selector != "" {
			d.selector = selector
		}
	}
}

// WithZeroAreaAllowlist replaces the selectors exempt from visibility checks.
func WithZeroAreaAllowlist(selectors ...string) Option {
	return func(d *Detector) {
		d.allowlist = append([]string(nil), selectors...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New builds a Detector over page, consulting source for names and states.
func New(page Page, source a11y.Source, opts ...Option) *Detector {
	d := &Detector{
		page:      page,
		source:    source,
		selector:  DefaultSelector,
		allowlist: DefaultZeroAreaAllowlist,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("detector")
	return d
}

// Selector returns the base-set selector in use.
func (d *Detector) Selector() string { return d.selector }

// Detect returns the interactive elements in document order and stamps each
// with its 0-based index in the marker attribute. The result is
// deterministic for a given DOM state.
func (d *Detector) Detect(ctx context.Context) ([]dom.Node, error) {
	anc := dom.NewAncestry(d.page)

	clickable, err := d.clickable(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting clickable elements: %w", err)
	}
	if clickable, err = dom.InnerMost(ctx, anc, clickable); err != nil {
		return nil, err
	}

	base, err := d.base(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting base elements: %w", err)
	}
	if base, err = d.collapse(ctx, base); err != nil {
		return nil, err
	}
	if clickable, err = crossFilter(ctx, anc, base, clickable); err != nil {
		return nil, err
	}

	candidates := dom.Unique(append(append([]dom.Node(nil), base...), clickable...))
	d.logger.Debug("Collected candidates.",
		zap.Int("base", len(base)),
		zap.Int("clickable", len(clickable)),
		zap.Int("candidates", len(candidates)))

	targets, err := d.filter(ctx, candidates)
	if err != nil {
		return nil, err
	}
	for i, n := range targets {
		if err := d.page.SetAttribute(ctx, n, dom.MarkerAttr, strconv.Itoa(i)); err != nil {
			return nil, fmt.Errorf("assigning marker id %d: %w", i, err)
		}
	}
	d.logger.Debug("Detected interactive elements.", zap.Int("count", len(targets)))
	return targets, nil
}

// -- Candidate sets --

// clickable returns elements styled as pointer targets that carry an
// accessible name or description. SVG parts are replaced by their <svg>.
func (d *Detector) clickable(ctx context.Context) ([]dom.Node, error) {
	all, err := d.page.QueryAll(ctx, nil, "*")
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	styles, err := d.page.ComputedStyles(ctx, all, "cursor", "pointer-events")
	if err != nil {
		return nil, err
	}
	var out []dom.Node
	for i, n := range all {
		if styles[i]["cursor"] != "pointer" || styles[i]["pointer-events"] == "none" {
			continue
		}
		ok, err := d.hasA11yInfo(ctx, n)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if n.Namespace() == dom.NamespaceSVG {
			svg, err := dom.NearestOfType(ctx, d.page, n, isSVGRoot)
			if err != nil {
				return nil, err
			}
			if svg != nil {
				n = svg
			}
		}
		out = append(out, n)
	}
	return dom.Unique(out), nil
}

func isSVGRoot(n dom.Node) bool {
	return n.Namespace() == dom.NamespaceSVG && n.TagName() == "svg"
}

func (d *Detector) hasA11yInfo(ctx context.Context, n dom.Node) (bool, error) {
	name, err := d.source.Name(ctx, n)
	if err != nil {
		return false, err
	}
	if name != "" {
		return true, nil
	}
	desc, err := d.source.Description(ctx, n)
	return desc != "", err
}

// base returns selector matches, dropping those inside a closed <details>
// other than <summary> elements.
func (d *Detector) base(ctx context.Context) ([]dom.Node, error) {
	matched, err := d.page.QueryAll(ctx, nil, d.selector)
	if err != nil {
		return nil, err
	}
	out := make([]dom.Node, 0, len(matched))
	for _, n := range matched {
		if n.Namespace() == dom.NamespaceHTML && n.TagName() == "summary" {
			out = append(out, n)
			continue
		}
		details, err := dom.NearestOfType(ctx, d.page, n, dom.HasTag("details"))
		if err != nil {
			return nil, err
		}
		if details != nil {
			_, open, err := d.page.Attribute(ctx, details, "open")
			if err != nil {
				return nil, err
			}
			if !open {
				continue
			}
		}
		out = append(out, n)
	}
	return out, nil
}

// collapse drops base elements whose only element child is also a base
// element, keeping the more specific inner node.
func (d *Detector) collapse(ctx context.Context, base []dom.Node) ([]dom.Node, error) {
	inBase := make(map[dom.NodeKey]bool, len(base))
	for _, n := range base {
		inBase[n.Key()] = true
	}
	out := make([]dom.Node, 0, len(base))
	for _, n := range base {
		children, err := d.page.Children(ctx, n)
		if err != nil {
			return nil, err
		}
		if len(children) == 1 && inBase[children[0].Key()] {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// crossFilter drops clickable elements that are ancestors or descendants of
// a base element.
func crossFilter(ctx context.Context, anc *dom.Ancestry, base, clickable []dom.Node) ([]dom.Node, error) {
	out := make([]dom.Node, 0, len(clickable))
	for _, c := range clickable {
		related := false
		for _, b := range base {
			up, err := anc.Contains(ctx, c, b)
			if err != nil {
				return nil, err
			}
			down, err := anc.Contains(ctx, b, c)
			if err != nil {
				return nil, err
			}
			if up || down {
				related = true
				break
			}
		}
		if !related {
			out = append(out, c)
		}
	}
	return out, nil
}

// -- Filters --

func (d *Detector) filter(ctx context.Context, candidates []dom.Node) ([]dom.Node, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	vp, err := d.page.Viewport(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading viewport: %w", err)
	}
	root, err := d.page.DocumentElement(ctx)
	if err != nil {
		return nil, err
	}
	body, err := d.page.Body(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]dom.Node, 0, len(candidates))
	for _, n := range candidates {
		keep, err := d.keep(ctx, n, vp, root, body)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, n)
		}
	}
	return out, nil
}

func (d *Detector) keep(ctx context.Context, n dom.Node, vp dom.Viewport, root, body dom.Node) (bool, error) {
	disabled, err := d.source.Disabled(ctx, n)
	if err != nil || disabled {
		return false, err
	}
	hidden, err := d.source.Inaccessible(ctx, n)
	if err != nil || hidden {
		return false, err
	}

	for _, sel := range d.allowlist {
		ok, err := d.page.Matches(ctx, n, sel)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	bounding, err := d.page.BoundingRect(ctx, n)
	if err != nil {
		return false, err
	}
	if bounding.Empty() {
		return false, nil
	}

	scroller, err := geometry.ScrollableParent(ctx, d.page, n)
	if err != nil {
		return false, err
	}
	if scroller != nil && !sameNode(scroller, root) && !sameNode(scroller, body) {
		return true, nil
	}

	if !geometry.InViewport(bounding, vp) {
		return false, nil
	}
	return geometry.IsVisibleForUser(ctx, d.page, n)
}

func sameNode(a, b dom.Node) bool {
	return a != nil && b != nil && a.Key() == b.Key()
}
