package cli

import "time"

// Entry is stratactl's demonstration record: a key/value row exercising
// a text primary key, a text value, and a datetime column end to end.
type Entry struct {
	Key       string `db:"pk"`
	Value     string
	UpdatedAt time.Time
}

// entryFromYAML is the shape bulkload reads from its input file.
type entryFromYAML struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}
