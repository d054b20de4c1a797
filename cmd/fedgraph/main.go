// Command fedgraph queries and loads federated graphs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/fedgraph/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
