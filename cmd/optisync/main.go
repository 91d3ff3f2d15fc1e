// Command optisync evaluates, validates and runs mutation batches.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/optisync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
