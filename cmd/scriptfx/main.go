package main

import (
	"os"

	"github.com/justyntemme/scriptfx/cmd/scriptfx/commands"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
)

func main() {
	commands.SetVersionInfo(version, commit)

	// Errors are printed by the commands with color formatting
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
