// stratactl is a demonstration command line over the strata façade:
// open, sync, verify, and bulkload against a config-described database.
package main

import (
	"os"
	"runtime/debug"

	"github.com/strata-db/strata/internal/cli"
)

// version is set via ldflags (-X main.version=v1.0.0) or detected
// automatically from Go module info embedded by go install.
var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
