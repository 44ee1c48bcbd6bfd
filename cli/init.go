package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/absmach/flsim"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var initCmd = cobra.Command{
	Use:   "init",
	Short: "Create a configuration file interactively",
	Long:  "Ask for the main simulation options and write them as a TOML configuration file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		defaults, _ := cmd.Flags().GetBool("defaults")

		cfg := flsim.DefaultConfig()
		if !defaults {
			if err := askConfig(&cfg); err != nil {
				return err
			}
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return err
		}

		logOKCmd(*cmd, "configuration written to "+out)

		return nil
	},
}

func askConfig(cfg *flsim.Config) error {
	rounds := strconv.Itoa(cfg.Simulation.Rounds)
	devices := strconv.Itoa(cfg.Devices.Count)
	target := strconv.Itoa(cfg.Round.TargetCount)
	deadline := cfg.Round.Deadline.String()
	battery := strconv.FormatFloat(cfg.Devices.BatteryCapacity, 'f', -1, 64)
	seed := strconv.FormatInt(cfg.Simulation.Seed, 10)
	tracePath := cfg.Trace.Path
	populationPath := cfg.Trace.Population
	chargeFailed := cfg.Policy.PartialCharge != "none"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Selection policy").
				Options(
					huh.NewOption("Energy aware", "energy_aware"),
					huh.NewOption("Random", "random"),
					huh.NewOption("Unconstrained", "unconstrained"),
				).
				Value(&cfg.Policy.Kind),
			huh.NewSelect[string]().
				Title("Utility judge").
				Options(
					huh.NewOption("Participation", "participation"),
					huh.NewOption("Statistical", "stat"),
				).
				Value(&cfg.Policy.Utility),
			huh.NewInput().Title("Rounds").Value(&rounds).Validate(positiveInt),
			huh.NewInput().Title("Round deadline").Value(&deadline).Validate(positiveDuration),
			huh.NewInput().Title("Participants per round").Value(&target).Validate(positiveInt),
		),
		huh.NewGroup(
			huh.NewInput().Title("Trace file").Description("Leave empty for a synthetic trace").Value(&tracePath),
			huh.NewInput().Title("Population file").Value(&populationPath),
			huh.NewInput().Title("Synthetic devices").Value(&devices).Validate(positiveInt),
			huh.NewInput().Title("Battery capacity").Value(&battery).Validate(positiveFloat),
			huh.NewInput().Title("Random seed").Value(&seed).Validate(anyInt),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Telemetry format").
				Options(huh.NewOption("JSON lines", "jsonl"), huh.NewOption("CBOR", "cbor")).
				Value(&cfg.Telemetry.Format),
			huh.NewInput().Title("Telemetry file").Value(&cfg.Telemetry.Path),
			huh.NewConfirm().Title("Charge devices for failed work?").
				Affirmative("Yes").Negative("No").
				Value(&chargeFailed),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Simulation.Rounds, _ = strconv.Atoi(rounds)
	cfg.Devices.Count, _ = strconv.Atoi(devices)
	cfg.Round.TargetCount, _ = strconv.Atoi(target)
	cfg.Round.Deadline, _ = time.ParseDuration(deadline)
	cfg.Devices.BatteryCapacity, _ = strconv.ParseFloat(battery, 64)
	cfg.Simulation.Seed, _ = strconv.ParseInt(seed, 10, 64)
	cfg.Trace.Path = tracePath
	cfg.Trace.Population = populationPath
	cfg.Policy.PartialCharge = "none"
	if chargeFailed {
		cfg.Policy.PartialCharge = "attempted"
	}

	return nil
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return errors.New("must be a positive integer")
	}

	return nil
}

func anyInt(s string) error {
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return errors.New("must be an integer")
	}

	return nil
}

func positiveFloat(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return errors.New("must be a positive number")
	}

	return nil
}

func positiveDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fmt.Errorf("must be a positive duration such as 30m")
	}

	return nil
}

func NewInitCmd() *cobra.Command {
	initCmd.Flags().StringP("out", "o", "config.toml", "Output file")
	initCmd.Flags().Bool("defaults", false, "Write the defaults without prompting")

	return &initCmd
}
