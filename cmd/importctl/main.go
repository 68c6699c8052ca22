// Command importctl runs the import workflow from the command line: detect
// and map a file, preview matches, stage and resolve it, and seed existing
// records for local testing.
package main

import (
	"fmt"
	"os"

	"github.com/JonMunkholm/resolver/internal/core"
	_ "github.com/JonMunkholm/resolver/internal/core/entities" // Register all entity kinds
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if core.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		}
		os.Exit(1)
	}
}
