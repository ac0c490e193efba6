// Command breadly runs and inspects the breadly sync lifecycle daemon.
package main

import (
	"fmt"
	"os"

	"github.com/nazar-pal/breadly-sub000/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
