// internal/browser/cdp/activity.go
package cdp

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
)

const streamBuffer = 256

type activityPayload struct {
	Token    int64  `json:"token"`
	Kind     string `json:"kind"`
	BodyOnly bool   `json:"bodyOnly"`
}

// stream is one page-side MutationObserver plus scroll listener, reported
// back through a runtime binding.
type stream struct {
	page   *Page
	token  int64
	events chan dom.Activity

	mu     sync.Mutex
	closed bool
	once   sync.Once
	stop   func() bool
}

func (s *stream) Events() <-chan dom.Activity { return s.events }

func (s *stream) deliver(a dom.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- a:
	default:
		// Consumers only care that activity happened; a full buffer already says so.
	}
}

func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		stop := s.stop
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		s.page.forget(s.token)

		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if e := s.page.call(ctx, "unobserve", nil, s.token); e != nil {
			err = fmt.Errorf("stopping activity observer: %w", e)
		}

		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	return err
}

// bind adds the activity binding and one listener that fans events out to
// the open streams. It runs once per Page.
func (p *Page) bind(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bound {
		return nil
	}
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return runtime.AddBinding(activityBinding).Do(c)
	}))
	if err != nil {
		return fmt.Errorf("failed to add binding '%s': %w", activityBinding, err)
	}

	chromedp.ListenTarget(p.tab, func(ev interface{}) {
		called, ok := ev.(*runtime.EventBindingCalled)
		if !ok || called.Name != activityBinding {
			return
		}
		var payload activityPayload
		if err := json.Unmarshal([]byte(called.Payload), &payload); err != nil {
			p.logger.Debug("Could not unmarshal activity payload.", zap.Error(err), zap.String("payload", called.Payload))
			return
		}
		p.mu.Lock()
		s := p.streams[payload.Token]
		p.mu.Unlock()
		if s == nil {
			return
		}
		kind := dom.ActivityMutation
		if payload.Kind == "scroll" {
			kind = dom.ActivityScroll
		}
		s.deliver(dom.Activity{Kind: kind, BodyOnly: payload.BodyOnly})
	})
	p.bound = true
	return nil
}

func (p *Page) forget(token int64) {
	p.mu.Lock()
	delete(p.streams, token)
	p.mu.Unlock()
}

// ObserveActivity starts reporting DOM mutations under <body> and window
// scrolls. The stream closes itself when ctx ends.
func (p *Page) ObserveActivity(ctx context.Context) (dom.ActivityStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.bind(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.nextToken++
	s := &stream{page: p, token: p.nextToken, events: make(chan dom.Activity, streamBuffer)}
	p.streams[s.token] = s
	p.mu.Unlock()

	if err := p.call(ctx, "observe", nil, activityBinding, s.token); err != nil {
		p.forget(s.token)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
	return s, nil
}
