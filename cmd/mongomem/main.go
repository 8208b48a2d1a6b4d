// Package main provides the entry point for the mongomem CLI.
package main

import (
	"os"

	"github.com/openclaw/mongomem/cmd/mongomem/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
