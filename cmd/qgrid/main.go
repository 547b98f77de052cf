package main

import (
	"os"

	"github.com/hugo-lorenzo-mato/quorum-grid/cmd/qgrid/cmd"
)

// Version information - set by goreleaser at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)
	os.Exit(cmd.ExitCode(cmd.Execute()))
}
