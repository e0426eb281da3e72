package main

import (
	"os"

	"github.com/dumplingcafe/research/internal/cli"
)

// Set by ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	if err := cli.Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}
