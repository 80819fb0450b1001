package cli

import (
	"context"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/strata-db/strata"
	"github.com/strata-db/strata/engine"
	"github.com/strata-db/strata/internal/clioutput"
	"github.com/strata-db/strata/record"
	"github.com/strata-db/strata/schema"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Create or migrate the demo entries table to match its mapped type",
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

			d, err := record.Default.Get(reflect.TypeOf(Entry{}))
			if err != nil {
				return clioutput.PrintError(err)
			}

			var result schema.Result
			err = mgr.Write(cmd.Context(), "sync", func(ctx context.Context, w *engine.Conn) error {
				var syncErr error
				result, syncErr = schema.Synthesize(ctx, w.DB, d, d.CreateFlags)
				return syncErr
			})
			if err != nil {
				return clioutput.PrintError(err)
			}

			type resp struct {
				Table        string   `json:"table"`
				Status       string   `json:"status"`
				AddedColumns []string `json:"added_columns,omitempty"`
				CreatedIndex []string `json:"created_index,omitempty"`
			}
			return clioutput.PrintSuccess(resp{
				Table:        d.TableName,
				Status:       result.Status.String(),
				AddedColumns: result.AddedColumns,
				CreatedIndex: result.CreatedIndex,
			})
		},
	}
	return cmd
}
