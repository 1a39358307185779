// internal/grounding/annotate/annotate.go
package annotate

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
	"github.com/xkilldash9x/pagegrounder/internal/grounding/geometry"
)

const (
	ClassName = "lc-marker"
	StyleID   = "lc-style"
	MaskID    = "lc-mask"
)

// MarkerCSS styles marker boxes and their id badges.
const MarkerCSS = `
.lc-marker {
  position: absolute;
  border: 2px solid var(--bg-color);
  pointer-events: none;
  box-sizing: border-box;
  z-index: 1073741825;
}

.lc-marker::before {
  content: attr(data-marker-id);
  position: absolute;
  top: 0;
  left: 0;
  padding: 0px 2px;
  color: var(--text-color);
  background-color: var(--bg-color);
  font-size: 12px;
}
`

// Page is the capability subset annotation needs.
type Page interface {
	dom.Tree
	dom.Attributes
	dom.Layout
	dom.Overlay
}

// Annotator draws and removes the visual overlay.
type Annotator struct {
	page   Page
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Annotator.
type Option func(*Annotator)

// WithRand sets the source used for marker colours.
func WithRand(rng *rand.Rand) Option {
	return func(a *Annotator) {
		if rng != nil {
			a.rng = rng
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Annotator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func New(page Page, opts ...Option) *Annotator {
	a := &Annotator{
		page:   page,
		logger: zap.NewNop(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("annotator")
	return a
}

// Mark draws one box per non-empty client rect of n, labelled with id.
func (a *Annotator) Mark(ctx context.Context, n dom.Node, id int, brightness int) error {
	if err := a.page.InjectStyle(ctx, StyleID, MarkerCSS); err != nil {
		return fmt.Errorf("injecting marker style: %w", err)
	}
	top, err := geometry.ScrollTop(ctx, a.page)
	if err != nil {
		return fmt.Errorf("reading scroll position: %w", err)
	}
	rects, err := a.page.ClientRects(ctx, n)
	if err != nil {
		return fmt.Errorf("reading client rects: %w", err)
	}
	zIndex, err := geometry.ZIndex(ctx, a.page, n)
	if err != nil {
		return fmt.Errorf("resolving z-index: %w", err)
	}

	vars := map[string]string{
		"--bg-color":   a.color(brightness),
		"--text-color": textColor(brightness),
	}
	for _, r := range rects {
		if r.Empty() {
			continue
		}
		m := dom.Marker{
			Class:  ClassName,
			Attr:   dom.MarkerAttr,
			ID:     strconv.Itoa(id),
			Top:    top + r.Top(),
			Left:   r.Left(),
			Width:  r.Width,
			Height: r.Height,
			ZIndex: zIndex,
			Vars:   vars,
		}
		if err := a.page.AppendMarker(ctx, m); err != nil {
			return fmt.Errorf("appending marker %d: %w", id, err)
		}
	}
	return nil
}

// MarkAll marks nodes with their index as id.
func (a *Annotator) MarkAll(ctx context.Context, nodes []dom.Node, brightness int) error {
	for i, n := range nodes {
		if err := a.Mark(ctx, n, i, brightness); err != nil {
			return err
		}
	}
	a.logger.Debug("Marked elements.", zap.Int("count", len(nodes)), zap.Int("brightness", brightness))
	return nil
}

// Mask covers the viewport with an opaque canvas, leaving nodes uncovered.
func (a *Annotator) Mask(ctx context.Context, nodes []dom.Node) error {
	vp, err := a.page.Viewport(ctx)
	if err != nil {
		return fmt.Errorf("reading viewport: %w", err)
	}
	mask := dom.Mask{ID: MaskID, Width: vp.InnerWidth, Height: vp.InnerHeight}
	for _, n := range nodes {
		rects, err := a.page.ClientRects(ctx, n)
		if err != nil {
			return fmt.Errorf("reading client rects: %w", err)
		}
		mask.Holes = append(mask.Holes, rects...)
	}
	return a.page.AppendMask(ctx, mask)
}

// Clear removes the mask, every marker box and every marker attribute.
// Clearing an unannotated page is a no-op.
func (a *Annotator) Clear(ctx context.Context) error {
	if err := a.page.RemoveAll(ctx, "#"+MaskID); err != nil {
		return fmt.Errorf("removing mask: %w", err)
	}
	if err := a.page.RemoveAll(ctx, "."+ClassName); err != nil {
		return fmt.Errorf("removing markers: %w", err)
	}
	marked, err := a.page.QueryAll(ctx, nil, "["+dom.MarkerAttr+"]")
	if err != nil {
		return fmt.Errorf("finding marked elements: %w", err)
	}
	for _, n := range marked {
		if err := a.page.RemoveAttribute(ctx, n, dom.MarkerAttr); err != nil {
			return fmt.Errorf("clearing marker id: %w", err)
		}
	}
	return nil
}

func (a *Annotator) color(brightness int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	hue := a.rng.Intn(360)
	sat := a.rng.Intn(100)
	return fmt.Sprintf("hsl(%d, %d%%, %d%%)", hue, sat, RandomBrightness(a.rng, brightness))
}

// textColor pairs with the box lightness from BrightnessBand, not with the
// page: dark pages get light boxes, so their badge text is #000. Light pages
// get #fff.
func textColor(brightness int) string {
	if IsDark(brightness) {
		return "#000"
	}
	return "#fff"
}
