package cli

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/strata-db/strata"
)

// fileConfig is the on-disk shape a stratactl config file takes — the
// demonstration CLI's equivalent of the teacher's env/flag layered
// settings, but expressed as a single YAML document since this is a
// library demo, not a long-lived agent daemon.
type fileConfig struct {
	DatabasePath         string `yaml:"database_path"`
	MinPoolSize          int    `yaml:"min_pool_size"`
	MaxPoolSize          int    `yaml:"max_pool_size"`
	BusyTimeoutMS        int    `yaml:"busy_timeout_ms"`
	WriteLockTimeoutMS   int    `yaml:"write_lock_timeout_ms"`
	RetryAttempts        int    `yaml:"retry_attempts"`
	StoreDateTimeAsTicks *bool  `yaml:"store_datetime_as_ticks"`
}

func loadConfig(path string) (strata.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return strata.Config{}, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return strata.Config{}, err
	}

	var opts []strata.Option
	if fc.DatabasePath != "" {
		opts = append(opts, strata.WithDatabasePath(fc.DatabasePath))
	}
	if fc.MinPoolSize > 0 || fc.MaxPoolSize > 0 {
		opts = append(opts, strata.WithPoolSize(fc.MinPoolSize, fc.MaxPoolSize))
	}
	if fc.BusyTimeoutMS > 0 {
		opts = append(opts, strata.WithBusyTimeout(time.Duration(fc.BusyTimeoutMS)*time.Millisecond))
	}
	if fc.WriteLockTimeoutMS > 0 {
		opts = append(opts, strata.WithWriteLockTimeout(time.Duration(fc.WriteLockTimeoutMS)*time.Millisecond))
	}
	if fc.RetryAttempts > 0 {
		opts = append(opts, strata.WithRetryAttempts(fc.RetryAttempts))
	}
	if fc.StoreDateTimeAsTicks != nil {
		opts = append(opts, strata.WithStoreDateTimeAsTicks(*fc.StoreDateTimeAsTicks))
	}

	return strata.NewConfig(opts...), nil
}
