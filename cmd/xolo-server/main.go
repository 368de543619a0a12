// Command xolo-server runs the Xolo admin API: the process that owns the
// Title/Version store, talks to the Patch Catalog and Fleet Management
// services, and serves the admin HTTP surface.
package main

import (
	"fmt"
	"os"

	"github.com/xolohq/xolo/cmd/xolo-server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
