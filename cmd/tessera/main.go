// Command tessera validates, imports, exports, snapshots and relays the
// state of collaborative canvases.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tessera/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
