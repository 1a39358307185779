// internal/browser/session.go
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagegrounder/internal/browser/cdp"
	"github.com/xkilldash9x/pagegrounder/internal/config"
)

const closeTimeout = 10 * time.Second

// Session is one browser tab.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig
	page   *cdp.Page

	onClose func(id string)

	mu     sync.Mutex
	closed bool
}

func newSession(browserCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger, onClose func(string)) *Session {
	id := uuid.New().String()
	sessionLogger := logger.With(zap.String("session_id", id[:8]))
	ctx, cancel := chromedp.NewContext(browserCtx)
	return &Session{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		logger:  sessionLogger,
		cfg:     cfg,
		page:    cdp.NewPage(ctx, sessionLogger),
		onClose: onClose,
	}
}

// initialize creates the target, applies the viewport and installs the page
// helpers for every document the tab loads.
func (s *Session) initialize(ctx context.Context) error {
	actions := []chromedp.Action{cdp.Install()}
	if w, h := s.cfg.ViewportSize(); w > 0 && h > 0 {
		actions = append([]chromedp.Action{emulation.SetDeviceMetricsOverride(w, h, 1, false)}, actions...)
	}
	if err := s.runActions(ctx, actions...); err != nil {
		return fmt.Errorf("failed to initialize browser context/target connection: %w", err)
	}
	s.logger.Debug("Session initialized.")
	return nil
}

// runActions executes actions bounded by both the tab lifetime and ctx.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) ID() string { return s.id }

// Page exposes the tab as a grounding page.
func (s *Session) Page() *cdp.Page { return s.page }

// Navigate loads url and waits the configured post-load pause.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx := ctx
	if s.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, s.cfg.NavigationTimeout)
		defer cancel()
	}
	s.logger.Info("Navigating.", zap.String("url", url))
	if err := s.runActions(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	if s.cfg.PostLoadWait <= 0 {
		return nil
	}
	t := time.NewTimer(s.cfg.PostLoadWait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Screenshot captures the viewport as a base64 PNG data URL.
func (s *Session) Screenshot(ctx context.Context) (string, error) {
	var buf []byte
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(c)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("capturing screenshot: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf), nil
}

// Close shuts the tab. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()

	var err error
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(s.ctx) }()
	select {
	case err = <-done:
	case <-closeCtx.Done():
		s.cancel()
		err = fmt.Errorf("closing tab: %w", closeCtx.Err())
	}
	s.cancel()

	if s.onClose != nil {
		s.onClose(s.id)
	}
	s.logger.Debug("Session closed.")
	return err
}
