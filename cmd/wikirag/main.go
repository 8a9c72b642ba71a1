// Command wikirag is the entry point for the Wikipedia RAG assistant.
// It builds searchable sessions from Wikipedia articles and answers
// questions grounded in their content, via a CLI or an HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/riku-miura/wiki-rag/cmd/wikirag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
