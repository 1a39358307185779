// File: cmd/session.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagegrounder/internal/browser"
	"github.com/xkilldash9x/pagegrounder/internal/browser/dom"
	"github.com/xkilldash9x/pagegrounder/internal/config"
	"github.com/xkilldash9x/pagegrounder/internal/grounding"
)

const shutdownTimeout = 15 * time.Second

// target is the slice of a browser tab the commands drive.
type target interface {
	Navigate(ctx context.Context, url string) error
	Screenshot(ctx context.Context) (string, error)
	Page() dom.Page
}

type browserTarget struct {
	session *browser.Session
}

func (b browserTarget) Navigate(ctx context.Context, url string) error { return b.session.Navigate(ctx, url) }
func (b browserTarget) Screenshot(ctx context.Context) (string, error) { return b.session.Screenshot(ctx) }
func (b browserTarget) Page() dom.Page                                 { return b.session.Page() }

// launchTarget starts a browser and opens one tab. Tests replace it.
var launchTarget = func(ctx context.Context, logger *zap.Logger, cfg *config.Config) (target, func(), error) {
	mgr, err := browser.NewManager(ctx, logger, cfg.Browser)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := mgr.Shutdown(sctx); err != nil {
			logger.Warn("Browser shutdown reported an error.", zap.Error(err))
		}
	}
	session, err := mgr.NewSession(ctx)
	if err != nil {
		shutdown()
		return nil, nil, err
	}
	return browserTarget{session: session}, shutdown, nil
}

// newCoordinator applies the grounding, observer and input settings.
func newCoordinator(page dom.Page, cfg *config.Config, logger *zap.Logger) *grounding.Coordinator {
	opts := []grounding.Option{
		grounding.WithLogger(logger),
		grounding.WithSelector(cfg.Grounding.Selector),
		grounding.WithZeroAreaAllowlist(cfg.Grounding.ZeroAreaAllowlist...),
		grounding.WithHrefMaxLength(cfg.Grounding.HrefMaxLength),
		grounding.WithObserverTimings(cfg.Observer.MaxTimeout, cfg.Observer.QuietPeriod),
		grounding.WithInputDelay(cfg.Input.SettleDelay),
	}
	return grounding.New(page, opts...)
}

// open launches a tab, loads url and optionally waits for the page to
// settle.
func open(ctx context.Context, cfg *config.Config, logger *zap.Logger, url string, settle bool) (target, *grounding.Coordinator, func(), error) {
	tgt, shutdown, err := launchTarget(ctx, logger, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("starting browser: %w", err)
	}
	coord := newCoordinator(tgt.Page(), cfg, logger)
	cleanup := func() {
		coord.Close()
		shutdown()
	}

	if err := tgt.Navigate(ctx, url); err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	if settle {
		if err := coord.InitObserver(ctx, 0); err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		if err := coord.AwaitSettled(ctx); err != nil {
			cleanup()
			return nil, nil, nil, err
		}
	}
	return tgt, coord, cleanup, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
