// Command ragkit is the entry point for the ragkit question-answering
// service. It provides a CLI interface (via Cobra) and an HTTP server that
// streams grounded answers with source attribution.
package main

import (
	"fmt"
	"os"

	"github.com/ragkit/ragkit-go/cmd/ragkit/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
