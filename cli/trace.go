package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/absmach/flsim/pkg/trace"
	"github.com/spf13/cobra"
)

var traceCmd = []cobra.Command{
	{
		Use:   "generate",
		Short: "Generate a synthetic trace and device population",
		Long: "Write a reproducible synthetic resource trace and its device population as CSV.\n" +
			"The output can be fed back through trace.path and trace.population.",
		Example: "flsim trace generate --devices 200 --out trace.csv --population devices.csv",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config
			if n, _ := cmd.Flags().GetInt("devices"); n > 0 {
				cfg.Devices.Count = n
			}
			out, _ := cmd.Flags().GetString("out")
			popOut, _ := cmd.Flags().GetString("population")

			mode, err := trace.ParseInterpolation(cfg.Trace.Interpolation)
			if err != nil {
				return err
			}

			tr, specs, err := trace.Generate(generateConfig(cfg, mode))
			if err != nil {
				return err
			}

			if err := writeFile(out, func(f *os.File) error { return trace.Write(f, tr) }); err != nil {
				return err
			}
			if err := writeFile(popOut, func(f *os.File) error { return trace.WritePopulation(f, specs) }); err != nil {
				return err
			}

			logOKCmd(*cmd, fmt.Sprintf("wrote %d devices to %s and %s", len(specs), out, popOut))

			return nil
		},
	},
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		return errors.Join(err, f.Close())
	}

	return f.Close()
}

func NewTraceCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "trace",
		Short: "Resource trace utilities",
		Long:  ``,
	}

	for i := range traceCmd {
		cmd.AddCommand(&traceCmd[i])
	}

	generateCmd := &traceCmd[0]
	generateCmd.Flags().IntP("devices", "n", 0, "Number of devices (defaults to devices.count)")
	generateCmd.Flags().StringP("out", "o", "trace.csv", "Trace output file")
	generateCmd.Flags().StringP("population", "p", "devices.csv", "Population output file")

	return &cmd
}
