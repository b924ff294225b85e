// Command contractworker runs action requests against a contract store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/contractworker/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
