package main

import (
	"fmt"
	"os"

	"github.com/tphakala/photoindex/cmd"
	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/logging"
)

// version and buildDate are set at build time via ldflags.
var (
	version   = "development"
	buildDate = "unknown"
)

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	settings.Version = version
	settings.BuildDate = buildDate

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
