// File: cmd/run.go
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/pagegrounder/api/schemas"
	"github.com/xkilldash9x/pagegrounder/internal/grounding"
	"github.com/xkilldash9x/pagegrounder/internal/observability"
)

// loadSteps decodes a YAML list of interaction steps.
func loadSteps(r io.Reader) ([]schemas.InteractionStep, error) {
	var steps []schemas.InteractionStep
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&steps); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("steps file is empty")
		}
		return nil, fmt.Errorf("parsing steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("steps file is empty")
	}
	return steps, nil
}

func newRunCmd() *cobra.Command {
	var (
		stepsFile      string
		withScreenshot bool
		settle         bool
	)

	cmd := &cobra.Command{
		Use:   "run <url>",
		Short: "Run a scripted sequence of snapshots and interactions against a page",
		Long: `Executes the steps in a YAML file in order, waiting for the page to settle
after every interaction. Results are printed as JSON; the run stops at the
first failing step.

Example steps file:

  - action: snapshot
  - action: fill
    id: "2"
    value: "hello"
  - action: enter
    id: "2"
  - action: wait
    milliseconds: 500
  - action: snapshot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("run_cmd")

			f, err := os.Open(stepsFile)
			if err != nil {
				return fmt.Errorf("opening steps file: %w", err)
			}
			steps, err := loadSteps(f)
			f.Close()
			if err != nil {
				return err
			}

			tgt, coord, cleanup, err := open(ctx, cfg, logger, args[0], settle)
			if err != nil {
				return err
			}
			defer cleanup()

			var shots grounding.ScreenshotFunc
			if withScreenshot {
				shots = tgt.Screenshot
			}
			results, runErr := grounding.NewRunner(coord, shots, logger).Run(ctx, steps)
			if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&stepsFile, "steps", "s", "", "YAML file listing the steps to run")
	cmd.Flags().BoolVar(&withScreenshot, "screenshot", false, "sample page brightness from a screenshot at each snapshot")
	cmd.Flags().BoolVar(&settle, "settle", false, "wait for the page to stop changing before the first step")
	_ = cmd.MarkFlagRequired("steps")
	return cmd
}
