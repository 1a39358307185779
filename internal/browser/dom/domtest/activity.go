// internal/browser/dom/domtest/activity.go
package domtest

import (
	"context"
	"sync"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
)

const streamBuffer = 256

type stream struct {
	page *Page
	ch   chan dom.Activity
	stop func() bool
	once sync.Once
}

func (s *stream) Events() <-chan dom.Activity { return s.ch }

func (s *stream) Close() error {
	s.once.Do(func() {
		s.page.mu.Lock()
		stop := s.stop
		delete(s.page.streams, s)
		close(s.ch)
		s.page.mu.Unlock()
		if stop != nil {
			stop()
		}
	})
	return nil
}

// ObserveActivity subscribes to childList mutations under <body> and window
// scrolls. The stream closes itself when ctx ends.
func (p *Page) ObserveActivity(ctx context.Context) (dom.ActivityStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &stream{page: p, ch: make(chan dom.Activity, streamBuffer)}
	p.mu.Lock()
	p.streams[s] = struct{}{}
	s.stop = context.AfterFunc(ctx, func() { _ = s.Close() })
	p.mu.Unlock()
	return s, nil
}

// ActiveStreams reports how many activity subscriptions are open.
func (p *Page) ActiveStreams() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

// notify reports a childList mutation whose target is h. Callers hold p.mu.
func (p *Page) notify(h *html.Node) {
	if !p.inBody(h) {
		return
	}
	p.emit(dom.Activity{Kind: dom.ActivityMutation, BodyOnly: h == p.body()})
}

// emit fans an activity out to every open stream. A full stream drops the
// activity. Callers hold p.mu.
func (p *Page) emit(a dom.Activity) {
	for s := range p.streams {
		select {
		case s.ch <- a:
		default:
		}
	}
}
