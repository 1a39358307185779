// internal/execution/synthetic/synthetic.go
package synthetic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
)

// DefaultSettleDelay is the pause between focusing a field and typing into
// it, long enough for comboboxes and editors to finish their focus handling.
const DefaultSettleDelay = 300 * time.Millisecond

// Page is the capability subset the dispatcher drives.
type Page interface {
	dom.Tree
	dom.Attributes
	dom.Layout
	dom.Forms
	dom.Input
}

// SleepFunc pauses for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Dispatcher replays user input as synthetic DOM events.
type Dispatcher struct {
	page   Page
	delay  time.Duration
	sleep  SleepFunc
	logger *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDelay overrides the settle delay. Zero disables it.
func WithDelay(d time.Duration) Option {
	return func(s *Dispatcher) {
		if d >= 0 {
			s.delay = d
		}
	}
}

// WithSleep replaces the pause implementation.
func WithSleep(fn SleepFunc) Option {
	return func(s *Dispatcher) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Dispatcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(page Page, opts ...Option) *Dispatcher {
	s := &Dispatcher{
		page:   page,
		delay:  DefaultSettleDelay,
		sleep:  hesitate,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("synthetic")
	return s
}

// Click presses and releases the primary button at the centre of n.
func (s *Dispatcher) Click(ctx context.Context, n dom.Node) error {
	box, err := s.page.BoundingRect(ctx, n)
	if err != nil {
		return fmt.Errorf("reading bounding box: %w", err)
	}
	x, y := box.Center()
	mouse := func(typ string, class dom.EventClass) dom.Event {
		return dom.Event{Type: typ, Class: class, Bubbles: true, Which: 1, ClientX: x, ClientY: y}
	}

	s.logger.Debug("Dispatching click.", zap.String("tag", n.TagName()), zap.Float64("x", x), zap.Float64("y", y))
	if err := s.dispatch(ctx, n,
		mouse("mousedown", dom.ClassMouseEvent),
		mouse("pointerdown", dom.ClassPointerEvent),
	); err != nil {
		return err
	}
	if err := s.page.Click(ctx, n); err != nil {
		if !errors.Is(err, dom.ErrUnsupported) {
			return fmt.Errorf("clicking %s: %w", n.TagName(), err)
		}
		// Non-HTML elements have no click(); synthesize the event instead.
		if err := s.dispatch(ctx, n, mouse("click", dom.ClassMouseEvent)); err != nil {
			return err
		}
	}
	return s.dispatch(ctx, n,
		mouse("mouseup", dom.ClassMouseEvent),
		mouse("pointerup", dom.ClassPointerEvent),
	)
}

// Fill replaces the content of a text field or contenteditable element.
func (s *Dispatcher) Fill(ctx context.Context, n dom.Node, value string) error {
	kind, err := dom.ResolveInputKind(ctx, s.page, n)
	if err != nil {
		return err
	}
	switch kind {
	case dom.NativeInput, dom.NativeTextArea:
		return s.inject(ctx, n, value)
	case dom.ContentEditable:
		return s.typeEditable(ctx, n, value)
	case dom.NativeSelect, dom.Unsupported:
		return dom.UnsupportedTarget("fill", n.TagName())
	}
	return dom.UnsupportedTarget("fill", n.TagName())
}

// Select chooses value on a <select>.
func (s *Dispatcher) Select(ctx context.Context, n dom.Node, value string) error {
	kind, err := dom.ResolveInputKind(ctx, s.page, n)
	if err != nil {
		return err
	}
	switch kind {
	case dom.NativeSelect:
		return s.inject(ctx, n, value)
	case dom.NativeInput, dom.NativeTextArea, dom.ContentEditable, dom.Unsupported:
		return dom.UnsupportedTarget("select", n.TagName())
	}
	return dom.UnsupportedTarget("select", n.TagName())
}

// Enter submits the enclosing form, if any, and then presses Enter in n.
func (s *Dispatcher) Enter(ctx context.Context, n dom.Node) error {
	kind, err := dom.ResolveInputKind(ctx, s.page, n)
	if err != nil {
		return err
	}
	switch kind {
	case dom.NativeInput, dom.NativeTextArea:
	case dom.NativeSelect, dom.ContentEditable, dom.Unsupported:
		return dom.UnsupportedTarget("enter", n.TagName())
	}

	form, err := dom.NearestOfType(ctx, s.page, n, dom.HasTag("form"))
	if err != nil {
		return fmt.Errorf("finding form: %w", err)
	}
	if form != nil {
		if err := s.submit(ctx, form); err != nil {
			return err
		}
	}

	if err := s.focus(ctx, n); err != nil {
		return err
	}
	if err := s.pause(ctx); err != nil {
		return err
	}
	key := func(typ string) dom.Event {
		return dom.Event{Type: typ, Class: dom.ClassKeyboardEvent, Bubbles: true, Key: "Enter", Code: "Enter", KeyCode: 13, CharCode: 13}
	}
	return s.dispatch(ctx, n, key("keydown"), key("keyup"), key("keypress"))
}

// -- Sequences --

func (s *Dispatcher) inject(ctx context.Context, n dom.Node, value string) error {
	if err := s.page.SetNativeValue(ctx, n, value); err != nil {
		return fmt.Errorf("setting value: %w", err)
	}
	if err := s.focus(ctx, n); err != nil {
		return err
	}
	if err := s.pause(ctx); err != nil {
		return err
	}
	// Some comboboxes clear their value on focus.
	if err := s.page.SetNativeValue(ctx, n, value); err != nil {
		return fmt.Errorf("setting value: %w", err)
	}
	s.logger.Debug("Injected value.", zap.String("tag", n.TagName()), zap.Int("length", len(value)))
	return s.dispatch(ctx, n,
		dom.Event{Type: "input", Class: dom.ClassEvent, Bubbles: true},
		dom.Event{Type: "change", Class: dom.ClassEvent, Bubbles: true},
	)
}

func (s *Dispatcher) typeEditable(ctx context.Context, n dom.Node, value string) error {
	if err := s.focus(ctx, n); err != nil {
		return err
	}
	if err := s.pause(ctx); err != nil {
		return err
	}
	if err := s.page.SelectContents(ctx, n); err != nil {
		return fmt.Errorf("selecting contents: %w", err)
	}
	if err := s.page.ExecCommand(ctx, "delete", ""); err != nil {
		return fmt.Errorf("clearing contents: %w", err)
	}
	if err := s.pause(ctx); err != nil {
		return err
	}
	if err := s.page.ExecCommand(ctx, "insertText", value); err != nil {
		return fmt.Errorf("inserting text: %w", err)
	}
	s.logger.Debug("Typed into editable element.", zap.String("tag", n.TagName()), zap.Int("length", len(value)))
	return nil
}

// focus clicks and focuses n, then announces it with a bubbling focusin.
func (s *Dispatcher) focus(ctx context.Context, n dom.Node) error {
	if err := s.page.Click(ctx, n); err != nil {
		return fmt.Errorf("clicking %s: %w", n.TagName(), err)
	}
	if err := s.page.Focus(ctx, n); err != nil {
		return fmt.Errorf("focusing %s: %w", n.TagName(), err)
	}
	return s.dispatch(ctx, n, dom.Event{Type: "focusin", Class: dom.ClassEvent, Bubbles: true})
}

func (s *Dispatcher) submit(ctx context.Context, form dom.Node) error {
	err := s.page.RequestSubmit(ctx, form)
	if errors.Is(err, dom.ErrUnsupported) {
		s.logger.Debug("requestSubmit unavailable, falling back to submit.")
		err = s.page.Submit(ctx, form)
	}
	if err != nil {
		return fmt.Errorf("submitting form: %w", err)
	}
	return nil
}

func (s *Dispatcher) dispatch(ctx context.Context, n dom.Node, events ...dom.Event) error {
	for _, ev := range events {
		if err := s.page.DispatchEvent(ctx, n, ev); err != nil {
			return fmt.Errorf("dispatching %s: %w", ev.Type, err)
		}
	}
	return nil
}

func (s *Dispatcher) pause(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}
	return s.sleep(ctx, s.delay)
}

func hesitate(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
