// internal/grounding/steps.go
package grounding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagegrounder/api/schemas"
)

// ScreenshotFunc captures the page for brightness sampling. It may be nil.
type ScreenshotFunc func(ctx context.Context) (string, error)

type stepHandler func(ctx context.Context, step schemas.InteractionStep, res *schemas.StepResult) error

// Runner executes scripted interaction steps against a Coordinator. Every
// step that touches the page is bracketed by a stability watch so the next
// step sees a settled DOM.
type Runner struct {
	coord      *Coordinator
	screenshot ScreenshotFunc
	logger     *zap.Logger
	handlers   map[schemas.InteractionAction]stepHandler
}

func NewRunner(coord *Coordinator, screenshot ScreenshotFunc, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		coord:      coord,
		screenshot: screenshot,
		logger:     logger.Named("runner"),
		handlers:   make(map[schemas.InteractionAction]stepHandler),
	}
	r.registerHandlers()
	return r
}

func (r *Runner) registerHandlers() {
	r.handlers[schemas.ActionSnapshot] = r.handleSnapshot
	r.handlers[schemas.ActionClick] = r.settled(r.handleClick)
	r.handlers[schemas.ActionFill] = r.settled(r.handleFill)
	r.handlers[schemas.ActionSelect] = r.settled(r.handleSelect)
	r.handlers[schemas.ActionEnter] = r.settled(r.handleEnter)
	r.handlers[schemas.ActionScroll] = r.settled(r.handleScroll)
	r.handlers[schemas.ActionWait] = r.handleWait
}

// Run executes steps in order and stops at the first failure. The results
// cover every attempted step, the failing one included.
func (r *Runner) Run(ctx context.Context, steps []schemas.InteractionStep) ([]schemas.StepResult, error) {
	results := make([]schemas.StepResult, 0, len(steps))
	for i, step := range steps {
		res := schemas.StepResult{Step: step}
		began := time.Now()

		handler, ok := r.handlers[step.Action]
		var err error
		if !ok {
			err = fmt.Errorf("unknown action %q", step.Action)
		} else {
			err = handler(ctx, step, &res)
		}
		res.Duration = time.Since(began)
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			r.logger.Warn("Step failed.", zap.Int("index", i), zap.String("action", string(step.Action)), zap.Error(err))
			return results, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
		r.logger.Debug("Step completed.", zap.Int("index", i), zap.String("action", string(step.Action)), zap.Duration("duration", res.Duration))
		results = append(results, res)
	}
	return results, nil
}

// settled wraps an action with a stability watch and records whether it
// changed the DOM.
func (r *Runner) settled(h stepHandler) stepHandler {
	return func(ctx context.Context, step schemas.InteractionStep, res *schemas.StepResult) error {
		if err := r.coord.InitObserver(ctx, 0); err != nil {
			return fmt.Errorf("starting stability watch: %w", err)
		}
		if err := h(ctx, step, res); err != nil {
			return err
		}
		if err := r.coord.AwaitSettled(ctx); err != nil {
			return fmt.Errorf("waiting for page to settle: %w", err)
		}
		res.Changed = r.coord.DOMChanged()
		return nil
	}
}

func (r *Runner) handleSnapshot(ctx context.Context, _ schemas.InteractionStep, res *schemas.StepResult) error {
	var shot string
	if r.screenshot != nil {
		var err error
		if shot, err = r.screenshot(ctx); err != nil {
			return fmt.Errorf("capturing screenshot: %w", err)
		}
	}
	snap, err := r.coord.Snapshot(ctx, shot)
	if err != nil {
		return err
	}
	resp := snap.Response()
	res.Snapshot = &resp
	return nil
}

func requireID(step schemas.InteractionStep) error {
	if step.ID == "" {
		return fmt.Errorf("%s requires an 'id'", step.Action)
	}
	return nil
}

func (r *Runner) handleClick(ctx context.Context, step schemas.InteractionStep, _ *schemas.StepResult) error {
	if err := requireID(step); err != nil {
		return err
	}
	return r.coord.Click(ctx, step.ID)
}

func (r *Runner) handleFill(ctx context.Context, step schemas.InteractionStep, _ *schemas.StepResult) error {
	if err := requireID(step); err != nil {
		return err
	}
	return r.coord.Fill(ctx, step.ID, step.Value)
}

func (r *Runner) handleSelect(ctx context.Context, step schemas.InteractionStep, _ *schemas.StepResult) error {
	if err := requireID(step); err != nil {
		return err
	}
	return r.coord.Select(ctx, step.ID, step.Value)
}

func (r *Runner) handleEnter(ctx context.Context, step schemas.InteractionStep, _ *schemas.StepResult) error {
	if err := requireID(step); err != nil {
		return err
	}
	return r.coord.Enter(ctx, step.ID)
}

func (r *Runner) handleScroll(ctx context.Context, _ schemas.InteractionStep, _ *schemas.StepResult) error {
	return r.coord.ScrollPageDown(ctx)
}

func (r *Runner) handleWait(ctx context.Context, step schemas.InteractionStep, _ *schemas.StepResult) error {
	if step.Milliseconds <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(step.Milliseconds) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
