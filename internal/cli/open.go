package cli

import (
	"github.com/spf13/cobra"

	"github.com/strata-db/strata"
	"github.com/strata-db/strata/internal/clioutput"
)

func newOpenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open the configured database and report the resolved settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(configPath)
			if err != nil {
				return clioutput.PrintError(err)
			}

			mgr, err := strata.Open(cmd.Context(), cfg)
			if err != nil {
				return clioutput.PrintError(err)
			}
			defer mgr.Close()

			type resp struct {
				DatabasePath string `json:"database_path"`
				MinPoolSize  int    `json:"min_pool_size"`
				MaxPoolSize  int    `json:"max_pool_size"`
			}
			return clioutput.PrintSuccess(resp{
				DatabasePath: cfg.DatabasePath,
				MinPoolSize:  cfg.MinPoolSize,
				MaxPoolSize:  cfg.MaxPoolSize,
			})
		},
	}
	return cmd
}
