// Command filmqa answers movie questions in chat rooms from a knowledge graph
// and its embeddings.
package main

import (
	"fmt"
	"os"
)

// Build information, set with -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
