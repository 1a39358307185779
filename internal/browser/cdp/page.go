// internal/browser/cdp/page.go
package cdp

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
)

//go:embed helpers.js
var helpersScript string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	staleMarker     = "pagegrounder: stale node"
	missingMarker   = "pagegrounder: not installed"
	releaseTimeout  = 5 * time.Second
	activityBinding = "__pagegrounderActivity"
)

// Page drives a live Chrome tab through the DevTools protocol. Every DOM
// primitive is a call into the helpers installed on the document, which keep
// a stable integer key per element.
type Page struct {
	tab    context.Context
	logger *zap.Logger

	mu        sync.Mutex
	bound     bool
	axEnabled bool
	streams   map[int64]*stream
	nextToken int64
}

var _ dom.Page = (*Page)(nil)

// NewPage wraps a chromedp tab context. The context must already carry a
// target, as returned by chromedp.NewContext.
func NewPage(tab context.Context, logger *zap.Logger) *Page {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Page{
		tab:     tab,
		logger:  logger.Named("cdp_page"),
		streams: make(map[int64]*stream),
	}
}

// Install registers the helpers for every future document in the tab and
// evaluates them in the current one.
func Install() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if _, err := page.AddScriptToEvaluateOnNewDocument(helpersScript).Do(ctx); err != nil {
			return fmt.Errorf("could not register page helpers: %w", err)
		}
		return chromedp.Evaluate(helpersScript, nil).Do(ctx)
	})
}

// -- Evaluation --

// run executes actions against the tab, cancelled by either the tab or ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func expression(fn string, args []any) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encoding argument %d of %s: %w", i, fn, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf(`(() => {
  const g = globalThis.__pagegrounder;
  if (!g) throw new Error(%q);
  return g.%s(%s);
})()`, missingMarker, fn, strings.Join(encoded, ", ")), nil
}

// call invokes a helper. out is nil, *[]byte, **runtime.RemoteObject, or any
// value the JSON result decodes into.
func (p *Page) call(ctx context.Context, fn string, out any, args ...any) error {
	expr, err := expression(fn, args)
	if err != nil {
		return err
	}

	var raw []byte
	var target any
	switch out.(type) {
	case nil:
	case **runtime.RemoteObject:
		target = out
	default:
		target = &raw
	}

	for attempt := 0; ; attempt++ {
		err = p.run(ctx, chromedp.Evaluate(expr, target))
		if err == nil || attempt > 0 || !strings.Contains(err.Error(), missingMarker) {
			break
		}
		p.logger.Debug("Page helpers missing, installing.", zap.String("fn", fn))
		if err := p.run(ctx, chromedp.Evaluate(helpersScript, nil)); err != nil {
			return fmt.Errorf("installing page helpers: %w", err)
		}
	}
	if err != nil {
		if strings.Contains(err.Error(), staleMarker) {
			return fmt.Errorf("%s: %w", fn, dom.ErrTargetNotFound)
		}
		return fmt.Errorf("%s: %w", fn, err)
	}

	if target == nil || target == out {
		return nil
	}
	if ptr, ok := out.(*[]byte); ok {
		*ptr = raw
		return nil
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", fn, err)
	}
	return nil
}

// -- Node Handles --

type nodeRef struct {
	K int64  `json:"k"`
	T string `json:"t"`
	N string `json:"n"`
}

type node struct {
	key dom.NodeKey
	tag string
	ns  dom.Namespace
}

func (n node) Key() dom.NodeKey         { return n.key }
func (n node) TagName() string          { return n.tag }
func (n node) Namespace() dom.Namespace { return n.ns }

func (r *nodeRef) node() dom.Node {
	if r == nil {
		return nil
	}
	ns := dom.NamespaceOther
	switch r.N {
	case "html":
		ns = dom.NamespaceHTML
	case "svg":
		ns = dom.NamespaceSVG
	}
	return node{key: dom.NodeKey(r.K), tag: r.T, ns: ns}
}

func nodes(refs []*nodeRef) []dom.Node {
	out := make([]dom.Node, 0, len(refs))
	for _, r := range refs {
		if n := r.node(); n != nil {
			out = append(out, n)
		}
	}
	return out
}

func key(n dom.Node) int64 { return int64(n.Key()) }

func (p *Page) single(ctx context.Context, fn string, args ...any) (dom.Node, error) {
	var ref *nodeRef
	if err := p.call(ctx, fn, &ref, args...); err != nil {
		return nil, err
	}
	return ref.node(), nil
}

func (p *Page) many(ctx context.Context, fn string, args ...any) ([]dom.Node, error) {
	var refs []*nodeRef
	if err := p.call(ctx, fn, &refs, args...); err != nil {
		return nil, err
	}
	return nodes(refs), nil
}

// -- Tree --

func (p *Page) Body(ctx context.Context) (dom.Node, error) {
	return p.single(ctx, "body")
}

func (p *Page) DocumentElement(ctx context.Context) (dom.Node, error) {
	return p.single(ctx, "root")
}

func (p *Page) Parent(ctx context.Context, n dom.Node) (dom.Node, error) {
	return p.single(ctx, "parent", key(n))
}

func (p *Page) Children(ctx context.Context, n dom.Node) ([]dom.Node, error) {
	return p.many(ctx, "children", key(n))
}

func (p *Page) QueryAll(ctx context.Context, scope dom.Node, selector string) ([]dom.Node, error) {
	var k any
	if scope != nil {
		k = key(scope)
	}
	return p.many(ctx, "queryAll", k, selector)
}

func (p *Page) Matches(ctx context.Context, n dom.Node, selector string) (bool, error) {
	var ok bool
	err := p.call(ctx, "matches", &ok, key(n), selector)
	return ok, err
}

func (p *Page) IsConnected(ctx context.Context, n dom.Node) (bool, error) {
	var ok bool
	err := p.call(ctx, "connected", &ok, key(n))
	return ok, err
}

func (p *Page) TextContent(ctx context.Context, n dom.Node) (string, error) {
	var s string
	err := p.call(ctx, "text", &s, key(n))
	return s, err
}

// -- Attributes --

func (p *Page) Attribute(ctx context.Context, n dom.Node, name string) (string, bool, error) {
	var res struct {
		V  string `json:"v"`
		OK bool   `json:"ok"`
	}
	if err := p.call(ctx, "attr", &res, key(n), name); err != nil {
		return "", false, err
	}
	return res.V, res.OK, nil
}

func (p *Page) Attributes(ctx context.Context, n dom.Node) ([]dom.Attr, error) {
	var res []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := p.call(ctx, "attrs", &res, key(n)); err != nil {
		return nil, err
	}
	attrs := make([]dom.Attr, len(res))
	for i, a := range res {
		attrs[i] = dom.Attr{Name: a.Name, Value: a.Value}
	}
	return attrs, nil
}

func (p *Page) SetAttribute(ctx context.Context, n dom.Node, name, value string) error {
	return p.call(ctx, "setAttr", nil, key(n), name, value)
}

func (p *Page) RemoveAttribute(ctx context.Context, n dom.Node, name string) error {
	return p.call(ctx, "removeAttr", nil, key(n), name)
}

// -- Layout --

func (p *Page) Viewport(ctx context.Context) (dom.Viewport, error) {
	var v dom.Viewport
	err := p.call(ctx, "viewport", &v)
	return v, err
}

func (p *Page) ComputedStyles(ctx context.Context, ns []dom.Node, props ...string) ([]map[string]string, error) {
	keys := make([]int64, len(ns))
	for i, n := range ns {
		keys[i] = key(n)
	}
	if props == nil {
		props = []string{}
	}
	var styles []map[string]string
	if err := p.call(ctx, "styles", &styles, keys, props); err != nil {
		return nil, err
	}
	if len(styles) != len(ns) {
		return nil, fmt.Errorf("styles: got %d results for %d nodes", len(styles), len(ns))
	}
	return styles, nil
}

func (p *Page) ClientRects(ctx context.Context, n dom.Node) ([]dom.Rect, error) {
	var rects []dom.Rect
	err := p.call(ctx, "clientRects", &rects, key(n))
	return rects, err
}

func (p *Page) BoundingRect(ctx context.Context, n dom.Node) (dom.Rect, error) {
	var r dom.Rect
	err := p.call(ctx, "bounding", &r, key(n))
	return r, err
}

func (p *Page) ScrollMetrics(ctx context.Context, n dom.Node) (dom.ScrollMetrics, error) {
	var m dom.ScrollMetrics
	err := p.call(ctx, "scrollMetrics", &m, key(n))
	return m, err
}

func (p *Page) ElementFromPoint(ctx context.Context, x, y float64) (dom.Node, error) {
	return p.single(ctx, "fromPoint", x, y)
}

func (p *Page) ScrollTo(ctx context.Context, x, y float64) error {
	return p.call(ctx, "scrollTo", nil, x, y)
}

// -- Overlay --

func (p *Page) InjectStyle(ctx context.Context, id, css string) error {
	return p.call(ctx, "injectStyle", nil, id, css)
}

func (p *Page) AppendMarker(ctx context.Context, m dom.Marker) error {
	return p.call(ctx, "appendMarker", nil, m)
}

func (p *Page) AppendMask(ctx context.Context, m dom.Mask) error {
	if m.Holes == nil {
		m.Holes = []dom.Rect{}
	}
	return p.call(ctx, "appendMask", nil, m)
}

func (p *Page) RemoveAll(ctx context.Context, selector string) error {
	return p.call(ctx, "removeAll", nil, selector)
}

// -- Forms --

func (p *Page) Value(ctx context.Context, n dom.Node) (string, error) {
	var s string
	err := p.call(ctx, "value", &s, key(n))
	return s, err
}

func (p *Page) SetNativeValue(ctx context.Context, n dom.Node, value string) error {
	return p.call(ctx, "setNativeValue", nil, key(n), value)
}

func (p *Page) RequestSubmit(ctx context.Context, form dom.Node) error {
	var ok bool
	if err := p.call(ctx, "requestSubmit", &ok, key(form)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("requestSubmit: %w", dom.ErrUnsupported)
	}
	return nil
}

func (p *Page) Submit(ctx context.Context, form dom.Node) error {
	return p.call(ctx, "submit", nil, key(form))
}

// -- Input --

func (p *Page) DispatchEvent(ctx context.Context, n dom.Node, ev dom.Event) error {
	return p.call(ctx, "dispatch", nil, key(n), ev)
}

func (p *Page) Click(ctx context.Context, n dom.Node) error {
	var ok bool
	if err := p.call(ctx, "click", &ok, key(n)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("click on <%s>: %w", n.TagName(), dom.ErrUnsupported)
	}
	return nil
}

func (p *Page) Focus(ctx context.Context, n dom.Node) error {
	return p.call(ctx, "focus", nil, key(n))
}

func (p *Page) SelectContents(ctx context.Context, n dom.Node) error {
	return p.call(ctx, "selectContents", nil, key(n))
}

func (p *Page) ExecCommand(ctx context.Context, command, value string) error {
	return p.call(ctx, "execCommand", nil, command, value)
}

// element returns a remote handle for n. The caller releases it.
func (p *Page) element(ctx context.Context, n dom.Node) (*runtime.RemoteObject, error) {
	var obj *runtime.RemoteObject
	if err := p.call(ctx, "element", &obj, key(n)); err != nil {
		return nil, err
	}
	if obj == nil || obj.ObjectID == "" {
		return nil, dom.NotFound("element", n.TagName())
	}
	return obj, nil
}

func (p *Page) release(obj *runtime.RemoteObject) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return runtime.ReleaseObject(obj.ObjectID).Do(c)
	}))
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Debug("Failed to release remote object.", zap.Error(err))
	}
}
