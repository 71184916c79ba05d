package main

import (
	"os"

	"github.com/dyluth/warden/cmd/wardenctl/commands"
)

// Set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// The printer has already reported the error in colour.
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
