// Package cli implements stratactl, a small demonstration command line
// for the strata façade, grounded on the teacher's internal/commands
// package: one cobra root with --config flag threading per subcommand,
// every invocation emitting one clioutput.Response line.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs stratactl.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "stratactl",
		Short:         "Inspect and drive a strata-backed SQLite database",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	root.PersistentFlags().String("config", "stratactl.yaml", "Path to a stratactl YAML config file")

	root.AddCommand(newOpenCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newBulkloadCmd())

	return root.Execute()
}
