// Command ragstore ingests documents into named vector stores and serves
// retrieval over HTTP and MCP.
//
// Usage:
//
//	# Create a store from files
//	ragstore ingest notes.md manual.pdf
//
//	# Ask a store for passages
//	ragstore query "vectorstore(1)" "how do I rotate keys?"
//
//	# Serve the HTTP API
//	ragstore serve
package main

import (
	"fmt"
	"os"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
