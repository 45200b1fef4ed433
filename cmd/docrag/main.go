// Command docrag answers questions about local markdown documentation
// collections. It provides a CLI (via Cobra), a terminal chat, and an HTTP
// server with a streaming chat API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docrag-go/cmd/docrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
