// internal/execution/observer/observer.go
package observer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
)

const (
	DefaultMaxTimeout  = 5 * time.Second
	DefaultQuietPeriod = 3 * time.Second
)

// Reason records why a watch settled.
type Reason int32

const (
	// ReasonPending means the watch has not settled yet.
	ReasonPending Reason = iota
	// ReasonQuiet means no activity arrived for a full quiet period.
	ReasonQuiet
	// ReasonTimeout means the overall deadline passed.
	ReasonTimeout
	// ReasonDisconnected means Disconnect was called.
	ReasonDisconnected
	// ReasonCancelled means the context passed to Start ended.
	ReasonCancelled
	// ReasonStreamClosed means the page stopped reporting activity, usually
	// because it navigated or closed.
	ReasonStreamClosed
)

func (r Reason) String() string {
	switch r {
	case ReasonPending:
		return "pending"
	case ReasonQuiet:
		return "quiet"
	case ReasonTimeout:
		return "timeout"
	case ReasonDisconnected:
		return "disconnected"
	case ReasonCancelled:
		return "cancelled"
	case ReasonStreamClosed:
		return "stream_closed"
	default:
		return "unknown"
	}
}

// Options tunes a watch. Zero durations take the defaults.
type Options struct {
	MaxTimeout  time.Duration
	QuietPeriod time.Duration
	Logger      *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = DefaultMaxTimeout
	}
	if o.QuietPeriod <= 0 {
		o.QuietPeriod = DefaultQuietPeriod
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Watch tracks page activity until the page settles.
//
// A mutation outside <body> itself marks the page as changed. From then on
// every mutation batch restarts the quiet timer. Scrolls restart it even
// before any mutation has marked the page changed, so a watch that only sees
// scrolling settles on the quiet timer with Changed false. The watch settles
// when the quiet timer fires, when MaxTimeout elapses, or on Disconnect or
// cancellation, whichever is first.
type Watch struct {
	opts   Options
	logger *zap.Logger
	stream dom.ActivityStream
	cancel context.CancelFunc

	changed atomic.Bool
	reason  atomic.Int32

	disconnect     chan struct{}
	disconnectOnce sync.Once
	done           chan struct{}
}

// Start subscribes to activity on src and begins the watch. The watch ends
// no later than opts.MaxTimeout after Start returns.
func Start(ctx context.Context, src dom.Observable, opts Options) (*Watch, error) {
	opts = opts.withDefaults()
	wctx, cancel := context.WithCancel(ctx)
	stream, err := src.ObserveActivity(wctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribing to page activity: %w", err)
	}
	w := &Watch{
		opts:       opts,
		logger:     opts.Logger.Named("observer"),
		stream:     stream,
		cancel:     cancel,
		disconnect: make(chan struct{}),
		done:       make(chan struct{}),
	}
	go w.run(wctx)
	return w, nil
}

func (w *Watch) run(ctx context.Context) {
	overall := time.NewTimer(w.opts.MaxTimeout)
	var quiet *time.Timer
	var quietC <-chan time.Time

	reason := ReasonPending
	defer func() {
		overall.Stop()
		if quiet != nil {
			quiet.Stop()
		}
		_ = w.stream.Close()
		w.cancel()
		w.reason.Store(int32(reason))
		w.logger.Debug("Watch settled.", zap.Stringer("reason", reason), zap.Bool("changed", w.changed.Load()))
		close(w.done)
	}()

	events := w.stream.Events()
	for {
		select {
		case <-ctx.Done():
			reason = w.interrupted(ctx, ReasonCancelled)
			return
		case <-w.disconnect:
			reason = ReasonDisconnected
			return
		case <-overall.C:
			reason = ReasonTimeout
			return
		case <-quietC:
			reason = ReasonQuiet
			return
		case a, ok := <-events:
			if !ok {
				reason = w.interrupted(ctx, ReasonStreamClosed)
				return
			}
			if a.Kind == dom.ActivityMutation {
				if !a.BodyOnly {
					w.changed.Store(true)
				}
				if !w.changed.Load() {
					continue
				}
			}
			// Restart the quiet period.
			if quiet == nil {
				quiet = time.NewTimer(w.opts.QuietPeriod)
				quietC = quiet.C
			} else {
				quiet.Reset(w.opts.QuietPeriod)
			}
		}
	}
}

// interrupted attributes an early stop. Cancelling the watch context also
// closes the stream, so the channels can fire in either order.
func (w *Watch) interrupted(ctx context.Context, fallback Reason) Reason {
	select {
	case <-w.disconnect:
		return ReasonDisconnected
	default:
	}
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	return fallback
}

// Wait blocks until the watch settles or ctx ends.
func (w *Watch) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the watch has settled and released its subscription.
func (w *Watch) Done() <-chan struct{} { return w.done }

// Changed reports whether a non-body mutation has been observed so far.
func (w *Watch) Changed() bool { return w.changed.Load() }

// Reason returns why the watch settled, or ReasonPending.
func (w *Watch) Reason() Reason {
	select {
	case <-w.done:
		return Reason(w.reason.Load())
	default:
		return ReasonPending
	}
}

// Disconnect stops observing and settles the watch. It waits for teardown
// and is safe to call repeatedly.
func (w *Watch) Disconnect() {
	w.disconnectOnce.Do(func() { close(w.disconnect) })
	<-w.done
}
