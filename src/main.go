package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"shelfdb/src/engine"
	"shelfdb/src/settings"
)

func main() {
	rc := newRootCommand(afero.NewOsFs(), settings.GetSettings(), os.Stdin, os.Stdout, os.Stderr)
	if err := rc.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitStatus(err))
	}
}

// exitStatus maps semantic failures (not found, bad argument) to 1 and
// storage failures to 2.
func exitStatus(err error) int {
	if engine.ExitCode(err) == -1 {
		return 2
	}
	return 1
}
