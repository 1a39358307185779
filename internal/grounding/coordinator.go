// internal/grounding/coordinator.go
package grounding

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagegrounder/api/schemas"
	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
	"github.com/xkilldash9x/pagegrounder/internal/execution/observer"
	"github.com/xkilldash9x/pagegrounder/internal/execution/synthetic"
	"github.com/xkilldash9x/pagegrounder/internal/grounding/a11y"
	"github.com/xkilldash9x/pagegrounder/internal/grounding/annotate"
	"github.com/xkilldash9x/pagegrounder/internal/grounding/detect"
	"github.com/xkilldash9x/pagegrounder/internal/grounding/geometry"
)

// SnapshotResult is one perception cycle. Elements and Records are parallel;
// AddedIDs lists the ids whose element was absent from the previous snapshot.
type SnapshotResult struct {
	Elements []dom.Node
	Records  []schemas.ElementRecord
	AddedIDs []string
}

// Response drops the live handles, leaving the wire payload.
func (r *SnapshotResult) Response() schemas.SnapshotResponse {
	return schemas.SnapshotResponse{ElementsAsJSON: r.Records, AddedIDs: r.AddedIDs}
}

type settings struct {
	selector   string
	allowlist  []string
	allowSet   bool
	source     a11y.Source
	logger     *zap.Logger
	observer   observer.Options
	inputDelay time.Duration
	delaySet   bool
	sleep      synthetic.SleepFunc
	rng        *rand.Rand
	hrefMax    int
}

// Option configures a Coordinator.
type Option func(*settings)

func WithSelector(selector string) Option {
	return func(s *settings) { s.selector = selector }
}

func WithZeroAreaAllowlist(selectors ...string) Option {
	return func(s *settings) {
		s.allowlist = selectors
		s.allowSet = true
	}
}

// WithAccessibilitySource overrides role and name computation.
func WithAccessibilitySource(src a11y.Source) Option {
	return func(s *settings) { s.source = src }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserverTimings sets the default stability watch bounds.
func WithObserverTimings(maxTimeout, quietPeriod time.Duration) Option {
	return func(s *settings) {
		s.observer.MaxTimeout = maxTimeout
		s.observer.QuietPeriod = quietPeriod
	}
}

// WithInputDelay sets the settle delay used by fill, select and enter.
func WithInputDelay(d time.Duration) Option {
	return func(s *settings) {
		s.inputDelay = d
		s.delaySet = true
	}
}

// WithSleep replaces the input pause implementation.
func WithSleep(fn synthetic.SleepFunc) Option {
	return func(s *settings) { s.sleep = fn }
}

// WithRand seeds marker colours.
func WithRand(rng *rand.Rand) Option {
	return func(s *settings) { s.rng = rng }
}

func WithHrefMaxLength(n int) Option {
	return func(s *settings) { s.hrefMax = n }
}

// Coordinator runs perception cycles against one page and addresses the
// elements of the latest cycle by id.
//
// Callers are expected to serialise calls. The mutex only protects the
// coordinator's own state; overlapping snapshots still produce interleaved
// markers on the page.
type Coordinator struct {
	page      dom.Page
	detector  *detect.Detector
	describer *a11y.Describer
	annotator *annotate.Annotator
	input     *synthetic.Dispatcher
	observer  observer.Options
	logger    *zap.Logger

	mu    sync.Mutex
	prev  []dom.Node
	watch *observer.Watch
}

// New wires the grounding pipeline over page. When page also implements
// a11y.Source it is used for roles and names.
func New(page dom.Page, opts ...Option) *Coordinator {
	s := settings{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}
	if s.source == nil {
		if src, ok := page.(a11y.Source); ok {
			s.source = src
		} else {
			s.source = a11y.NewComputed(page)
		}
	}

	detectOpts := []detect.Option{detect.WithSelector(s.selector), detect.WithLogger(s.logger)}
	if s.allowSet {
		detectOpts = append(detectOpts, detect.WithZeroAreaAllowlist(s.allowlist...))
	}
	inputOpts := []synthetic.Option{synthetic.WithLogger(s.logger), synthetic.WithSleep(s.sleep)}
	if s.delaySet {
		inputOpts = append(inputOpts, synthetic.WithDelay(s.inputDelay))
	}
	s.observer.Logger = s.logger

	return &Coordinator{
		page:      page,
		detector:  detect.New(page, s.source, detectOpts...),
		describer: a11y.NewDescriber(page, s.source, a11y.WithLogger(s.logger), a11y.WithHrefMaxLength(s.hrefMax)),
		annotator: annotate.New(page, annotate.WithLogger(s.logger), annotate.WithRand(s.rng)),
		input:     synthetic.New(page, inputOpts...),
		observer:  s.observer,
		logger:    s.logger.Named("coordinator"),
	}
}

// -- Perception --

// Snapshot clears the previous overlay, detects interactive elements, marks
// and describes each one and reports which of them are new. An undecodable
// screenshot fails the snapshot with annotate.ErrImageDecode.
func (c *Coordinator) Snapshot(ctx context.Context, screenshot string) (*SnapshotResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.annotator.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clearing previous markers: %w", err)
	}
	nodes, err := c.detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting elements: %w", err)
	}
	brightness, err := annotate.PageBrightness(screenshot)
	if err != nil {
		return nil, err
	}

	seen := make(map[dom.NodeKey]struct{}, len(c.prev))
	for _, n := range c.prev {
		seen[n.Key()] = struct{}{}
	}

	result := &SnapshotResult{
		Elements: nodes,
		Records:  make([]schemas.ElementRecord, 0, len(nodes)),
		AddedIDs: []string{},
	}
	for i, n := range nodes {
		if err := c.annotator.Mark(ctx, n, i, brightness); err != nil {
			return nil, err
		}
		id, ok, err := c.page.Attribute(ctx, n, dom.MarkerAttr)
		if err != nil {
			return nil, fmt.Errorf("reading marker id: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("element %d (%s) lost its marker id: %w", i, n.TagName(), dom.ErrTargetNotFound)
		}
		if _, ok := seen[n.Key()]; !ok {
			result.AddedIDs = append(result.AddedIDs, id)
		}
		rec, err := c.describer.Describe(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("describing element %s: %w", id, err)
		}
		result.Records = append(result.Records, rec)
	}
	c.prev = nodes

	c.logger.Info("Snapshot taken.",
		zap.Int("elements", len(nodes)),
		zap.Int("added", len(result.AddedIDs)),
		zap.Int("brightness", brightness))
	return result, nil
}

// ElementByID resolves an id from the latest snapshot. A detached element is
// looked up again by its marker attribute, which frameworks often carry over
// to the replacement node.
func (c *Coordinator) ElementByID(ctx context.Context, id string) (dom.Node, error) {
	c.mu.Lock()
	prev := c.prev
	c.mu.Unlock()

	// Only the canonical spelling of an index names a marker: "01" and "+1" do not.
	if i, err := strconv.Atoi(id); err == nil && strconv.Itoa(i) == id && i >= 0 && i < len(prev) {
		connected, err := c.page.IsConnected(ctx, prev[i])
		if err != nil {
			return nil, fmt.Errorf("checking element %s: %w", id, err)
		}
		if connected {
			return prev[i], nil
		}
	}

	selector := fmt.Sprintf("[%s=%s]:not(.%s)", dom.MarkerAttr, dom.CSSString(id), annotate.ClassName)
	found, err := c.page.QueryAll(ctx, nil, selector)
	if err != nil {
		return nil, fmt.Errorf("looking up element %s: %w", id, err)
	}
	if len(found) == 0 {
		return nil, dom.NotFound("element", id)
	}
	return found[0], nil
}

// -- Interaction --

func (c *Coordinator) Click(ctx context.Context, id string) error {
	n, err := c.ElementByID(ctx, id)
	if err != nil {
		return err
	}
	return c.input.Click(ctx, n)
}

func (c *Coordinator) Fill(ctx context.Context, id, value string) error {
	n, err := c.ElementByID(ctx, id)
	if err != nil {
		return err
	}
	return c.input.Fill(ctx, n, value)
}

func (c *Coordinator) Select(ctx context.Context, id, value string) error {
	n, err := c.ElementByID(ctx, id)
	if err != nil {
		return err
	}
	return c.input.Select(ctx, n, value)
}

func (c *Coordinator) Enter(ctx context.Context, id string) error {
	n, err := c.ElementByID(ctx, id)
	if err != nil {
		return err
	}
	return c.input.Enter(ctx, n)
}

// -- Overlay --

// AddBboxes redraws markers for the current interactive elements without
// touching the snapshot state.
func (c *Coordinator) AddBboxes(ctx context.Context, screenshot string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.annotator.Clear(ctx); err != nil {
		return err
	}
	nodes, err := c.detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detecting elements: %w", err)
	}
	brightness, err := annotate.PageBrightness(screenshot)
	if err != nil {
		return err
	}
	return c.annotator.MarkAll(ctx, nodes, brightness)
}

func (c *Coordinator) ClearBboxes(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.annotator.Clear(ctx)
}

// AddMask blacks out everything except the latest snapshot's elements.
func (c *Coordinator) AddMask(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.annotator.Mask(ctx, c.prev)
}

// -- Scrolling --

func (c *Coordinator) IsScrollable(ctx context.Context) (bool, error) {
	return geometry.IsScrollablePage(ctx, c.page)
}

func (c *Coordinator) ScrollPageDown(ctx context.Context) error {
	return geometry.ScrollPageDown(ctx, c.page)
}

// -- Stability --

// InitObserver starts a fresh stability watch, replacing any previous one.
// A positive maxTimeout overrides the configured bound. The watch is not
// tied to ctx's cancellation so it can span several calls.
func (c *Coordinator) InitObserver(ctx context.Context, maxTimeout time.Duration) error {
	opts := c.observer
	if maxTimeout > 0 {
		opts.MaxTimeout = maxTimeout
	}

	c.mu.Lock()
	old := c.watch
	c.watch = nil
	c.mu.Unlock()
	if old != nil {
		old.Disconnect()
	}

	w, err := observer.Start(context.WithoutCancel(ctx), c.page, opts)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.watch = w
	c.mu.Unlock()
	return nil
}

// AwaitSettled blocks until the current watch settles. Without a watch it
// returns immediately.
func (c *Coordinator) AwaitSettled(ctx context.Context) error {
	c.mu.Lock()
	w := c.watch
	c.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Wait(ctx)
}

// DOMChanged reports whether the current watch has seen a DOM change.
func (c *Coordinator) DOMChanged() bool {
	c.mu.Lock()
	w := c.watch
	c.mu.Unlock()
	return w != nil && w.Changed()
}

// Close stops any running watch.
func (c *Coordinator) Close() {
	c.mu.Lock()
	w := c.watch
	c.watch = nil
	c.mu.Unlock()
	if w != nil {
		w.Disconnect()
	}
}
