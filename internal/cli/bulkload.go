package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/strata-db/strata"
	"github.com/strata-db/strata/internal/clioutput"
)

func newBulkloadCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "bulkload",
		Short: "Insert every entry from a YAML file in one batched transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(configPath)
			if err != nil {
				return clioutput.PrintError(err)
			}

			raw, err := os.ReadFile(file)
			if err != nil {
				return clioutput.PrintError(err)
			}
			var entries []entryFromYAML
			if err := yaml.Unmarshal(raw, &entries); err != nil {
				return clioutput.PrintError(err)
			}

			mgr, err := strata.Open(cmd.Context(), cfg)
			if err != nil {
				return clioutput.PrintError(err)
			}
			defer mgr.Close()

			rows := make([]Entry, len(entries))
			stamp := time.Now()
			for i, e := range entries {
				rows[i] = Entry{Key: e.Key, Value: e.Value, UpdatedAt: stamp}
			}

			// Exercise the bulk-load switcheroo (spec §4.8): writes land
			// in an in-memory surrogate while the import runs, then get
			// copied back to disk on success, or discarded on failure.
			if err := mgr.BulkLoadStart(cmd.Context()); err != nil {
				return clioutput.PrintError(err)
			}

			c := strata.NewConn(mgr, nil)
			n, err := c.InsertAll(cmd.Context(), rows, strata.InsertOrReplace)
			if err != nil {
				if rbErr := mgr.BulkLoadRollback(cmd.Context()); rbErr != nil {
					return clioutput.PrintError(rbErr)
				}
				return clioutput.PrintError(err)
			}

			if err := mgr.BulkLoadFinish(cmd.Context()); err != nil {
				return clioutput.PrintError(err)
			}

			type resp struct {
				Inserted int64 `json:"inserted"`
			}
			return clioutput.PrintSuccess(resp{Inserted: n})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML file of {key, value} entries to load")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
