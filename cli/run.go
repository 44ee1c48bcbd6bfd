package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/absmach/flsim/pkg/selection"
	"github.com/absmach/flsim/simulation"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var runCmd = []cobra.Command{
	{
		Use:   "run",
		Short: "Run a simulation with one selection policy",
		Long: "Run a simulation over the configured trace with one selection policy.\n" +
			"Round records are appended to the telemetry file.",
		Example: "flsim run --policy random --rounds 50",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config
			if p, _ := cmd.Flags().GetString("policy"); p != "" {
				cfg.Policy.Kind = p
			}
			if r, _ := cmd.Flags().GetInt("rounds"); r > 0 {
				cfg.Simulation.Rounds = r
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			kind, _ := selection.ParseKind(cfg.Policy.Kind)

			ctx := cmd.Context()
			pop, err := loadPopulation(cfg)
			if err != nil {
				return err
			}

			sink, err := openSink(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer sink.Close()

			runID, _ := cmd.Flags().GetString("run-id")
			driver, err := newDriver(cfg, pop, kind, runID, sink, logger)
			if err != nil {
				return err
			}

			sum, err := driver.Run(ctx)
			logJSONCmd(*cmd, sum)
			switch {
			case errors.Is(err, context.Canceled):
				cmd.PrintErrln(color.YellowString("simulation interrupted after %d rounds", sum.Rounds))
				return nil
			case err != nil:
				return fmt.Errorf("run %s failed after %d rounds: %w", sum.RunID, sum.Rounds, err)
			}
			logOKCmd(*cmd, fmt.Sprintf("run %s finished: %s", sum.RunID, sum.StopReason))

			return nil
		},
	},
	{
		Use:   "compare",
		Short: "Run every selection policy over the same trace and seed",
		Long: "Run the energy-aware, random and unconstrained policies one after another\n" +
			"over the same population, trace and seed, and print their summaries side by side.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config
			if r, _ := cmd.Flags().GetInt("rounds"); r > 0 {
				cfg.Simulation.Rounds = r
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			pop, err := loadPopulation(cfg)
			if err != nil {
				return err
			}

			sink, err := openSink(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer sink.Close()

			summaries, err := compare(ctx, func(kind selection.Kind, runID string) (*simulation.Driver, error) {
				return newDriver(cfg, pop, kind, runID, sink, logger)
			})
			logJSONCmd(*cmd, summaries)
			if err != nil {
				return err
			}
			logOKCmd(*cmd, fmt.Sprintf("compared %d policies", len(summaries)))

			return nil
		},
	},
}

var comparedPolicies = []selection.Kind{
	selection.KindEnergyAware,
	selection.KindRandom,
	selection.KindUnconstrained,
}

type driverFactory func(kind selection.Kind, runID string) (*simulation.Driver, error)

// compare runs each policy in turn under a shared experiment ID. It stops at
// the first failed or cancelled run.
func compare(ctx context.Context, build driverFactory) ([]simulation.Summary, error) {
	experiment := uuid.NewString()[:8]
	summaries := make([]simulation.Summary, 0, len(comparedPolicies))

	for _, kind := range comparedPolicies {
		driver, err := build(kind, fmt.Sprintf("%s-%s", experiment, kind))
		if err != nil {
			return summaries, err
		}
		sum, err := driver.Run(ctx)
		summaries = append(summaries, sum)
		if err != nil {
			return summaries, fmt.Errorf("%s run failed: %w", kind, err)
		}
	}

	return summaries, nil
}

func NewRunCmd() *cobra.Command {
	run := &runCmd[0]
	run.Flags().StringP("policy", "p", "", "Selection policy: energy_aware, random or unconstrained")
	run.Flags().IntP("rounds", "r", 0, "Override the maximum number of rounds")
	run.Flags().String("run-id", "", "Run identifier (random when empty)")

	return run
}

func NewCompareCmd() *cobra.Command {
	cmp := &runCmd[1]
	cmp.Flags().IntP("rounds", "r", 0, "Override the maximum number of rounds")

	return cmp
}
