// Command packsale runs the pack sale engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/packsale/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
