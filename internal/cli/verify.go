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

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the on-disk entries table still matches the mapped type",
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

			err = mgr.Read(cmd.Context(), func(ctx context.Context, r *engine.Conn) error {
				return schema.Verify(ctx, r.DB, d)
			})
			if err != nil {
				return clioutput.PrintError(err)
			}

			type resp struct {
				Table string `json:"table"`
				OK    bool   `json:"ok"`
			}
			return clioutput.PrintSuccess(resp{Table: d.TableName, OK: true})
		},
	}
	return cmd
}
