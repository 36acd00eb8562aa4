// Package main provides the entry point for the ragcopilot CLI.
package main

import (
	"os"

	"github.com/JackSmack1971/personal-rag-copilot/cmd/ragcopilot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
