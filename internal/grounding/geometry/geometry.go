// internal/grounding/geometry/geometry.go
package geometry

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
)

// ZIndexAuto is reported when no ancestor carries a numeric z-index.
const ZIndexAuto = "auto"

// occlusionSlices splits the diagonal into 5 sample points (0, .25, .5, .75, 1).
const occlusionSlices = 4

// -- Scroll --

// ScrollTop is the document's vertical scroll offset, corrected for the root
// border.
func ScrollTop(ctx context.Context, page dom.Layout) (float64, error) {
	vp, err := page.Viewport(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading viewport: %w", err)
	}
	return scrollTop(vp), nil
}

func scrollTop(vp dom.Viewport) float64 {
	top := vp.ScrollY
	if top == 0 {
		top = vp.DocScrollTop
	}
	return top - vp.ClientTop
}

// Page is the capability subset geometry needs.
type Page interface {
	dom.Tree
	dom.Layout
}

// IsScrollable reports whether n can scroll further down. The document
// element always counts as an overflow container.
func IsScrollable(ctx context.Context, page Page, n dom.Node) (bool, error) {
	root, err := page.DocumentElement(ctx)
	if err != nil {
		return false, err
	}
	canScroll := root != nil && root.Key() == n.Key()
	if !canScroll {
		style, err := dom.Style(ctx, page, n, "overflow-y")
		if err != nil {
			return false, err
		}
		switch style["overflow-y"] {
		case "scroll", "auto":
			canScroll = true
		}
	}
	if !canScroll {
		return false, nil
	}
	m, err := page.ScrollMetrics(ctx, n)
	if err != nil {
		return false, err
	}
	return m.ScrollTop+m.ClientHeight < m.ScrollHeight, nil
}

// ScrollableParent returns the nearest inclusive ancestor of n that can
// scroll, or nil.
func ScrollableParent(ctx context.Context, page Page, n dom.Node) (dom.Node, error) {
	for cur := n; cur != nil; {
		ok, err := IsScrollable(ctx, page, cur)
		if err != nil {
			return nil, err
		}
		if ok {
			return cur, nil
		}
		if cur, err = page.Parent(ctx, cur); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// PageHeight is the tallest of the body and root height metrics.
func PageHeight(vp dom.Viewport) float64 {
	return max(vp.BodyScrollHeight, vp.BodyOffsetHeight, vp.HTMLClientHeight, vp.HTMLScrollHeight, vp.HTMLOffsetHeight)
}

// IsScrollablePage reports whether the window can scroll down by at least
// part of a viewport.
func IsScrollablePage(ctx context.Context, page Page) (bool, error) {
	body, err := page.Body(ctx)
	if err != nil {
		return false, err
	}
	if body == nil {
		return false, nil
	}
	parent, err := ScrollableParent(ctx, page, body)
	if err != nil {
		return false, err
	}
	if parent == nil {
		return false, nil
	}
	vp, err := page.Viewport(ctx)
	if err != nil {
		return false, err
	}
	return math.Ceil(scrollTop(vp)+vp.InnerHeight) < PageHeight(vp), nil
}

// ScrollPageDown advances the window by one viewport height.
func ScrollPageDown(ctx context.Context, page dom.Layout) error {
	vp, err := page.Viewport(ctx)
	if err != nil {
		return fmt.Errorf("reading viewport: %w", err)
	}
	return page.ScrollTo(ctx, vp.ScrollX, scrollTop(vp)+vp.InnerHeight)
}

// -- Stacking --

// ZIndex is the largest numeric z-index on n and its ancestors below <body>,
// or ZIndexAuto when none is numeric.
func ZIndex(ctx context.Context, page Page, n dom.Node) (string, error) {
	body, err := page.Body(ctx)
	if err != nil {
		return "", err
	}
	var chain []dom.Node
	for cur := n; cur != nil; {
		if body != nil && cur.Key() == body.Key() {
			break
		}
		chain = append(chain, cur)
		if cur, err = page.Parent(ctx, cur); err != nil {
			return "", err
		}
	}
	if len(chain) == 0 {
		return ZIndexAuto, nil
	}
	styles, err := page.ComputedStyles(ctx, chain, "z-index")
	if err != nil {
		return "", err
	}
	var (
		best  int
		found bool
	)
	for _, s := range styles {
		z, err := strconv.Atoi(strings.TrimSpace(s["z-index"]))
		if err != nil {
			continue
		}
		if !found || z > best {
			best, found = z, true
		}
	}
	if !found {
		return ZIndexAuto, nil
	}
	return strconv.Itoa(best), nil
}

// -- Visibility --

// InViewport reports whether r intersects the window.
func InViewport(r dom.Rect, vp dom.Viewport) bool {
	return r.Top() < vp.InnerHeight && r.Bottom() > 0 && r.Left() < vp.InnerWidth && r.Right() > 0
}

// IsVisibleForUser samples 5 points along the diagonal of each client rect
// and reports whether any of them hit-tests to n or a descendant of n. It is
// a heuristic: non-rectangular hit regions (clip-path, masks) are not handled.
func IsVisibleForUser(ctx context.Context, page Page, n dom.Node) (bool, error) {
	rects, err := page.ClientRects(ctx, n)
	if err != nil {
		return false, err
	}
	anc := dom.NewAncestry(page)
	for _, r := range rects {
		for i := 0; i <= occlusionSlices; i++ {
			x := r.Left() + r.Width*float64(i)/occlusionSlices
			y := r.Top() + r.Height*float64(i)/occlusionSlices
			top, err := page.ElementFromPoint(ctx, x, y)
			if err != nil {
				return false, err
			}
			if top == nil {
				continue
			}
			ok, err := anc.Contains(ctx, n, top)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}
