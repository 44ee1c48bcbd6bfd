package cli

import (
	"encoding/json"
	"log/slog"

	"github.com/absmach/flsim"
	"github.com/fatih/color"
	prettyjson "github.com/hokaccha/go-prettyjson"
	"github.com/spf13/cobra"
)

var (
	config = flsim.DefaultConfig()
	logger = slog.Default()
)

// SetConfig sets the configuration used by every command.
func SetConfig(c flsim.Config) {
	config = c
}

func SetLogger(l *slog.Logger) {
	logger = l
}

func logJSONCmd(cmd cobra.Command, iList ...interface{}) {
	for _, i := range iList {
		m, err := json.Marshal(i)
		if err != nil {
			logErrorCmd(cmd, err)
			return
		}

		pj, err := prettyjson.Format(m)
		if err != nil {
			logErrorCmd(cmd, err)
			return
		}

		cmd.Print(string(pj) + "\n\n")
	}
}

func logErrorCmd(cmd cobra.Command, err error) {
	boldRed := color.New(color.FgRed, color.Bold)
	boldRed.Fprint(cmd.ErrOrStderr(), "\nerror: ")

	cmd.PrintErrln(color.RedString(err.Error() + "\n"))
}

func logOKCmd(cmd cobra.Command, msg string) {
	cmd.Print("\n", color.BlueString("ok"), " ", msg, "\n\n")
}
