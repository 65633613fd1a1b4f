// Command ald-control-plane runs one or more of the three ALD control-plane
// terminals: the parameter sampler, the recipe executor, and the
// parameter-write ingestor.
package main

import (
	"fmt"
	"os"

	"github.com/albaraazain/ald-control-plane/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
