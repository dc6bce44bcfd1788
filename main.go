// Command pegasus runs the dataflow execution engine's CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/graphscope/pegasus/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
