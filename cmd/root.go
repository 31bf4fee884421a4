package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/photoindex/cmd/reset"
	"github.com/tphakala/photoindex/cmd/scan"
	"github.com/tphakala/photoindex/cmd/serve"
	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "photoindex",
		Short:   "PhotoIndex CLI",
		Version: settings.Version,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	serveCmd := serve.Command(settings)
	subcommands := []*cobra.Command{
		serveCmd,
		scan.Command(settings),
		reset.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	// The bare binary serves; the subcommand form exists so serve can
	// carry its own flags.
	rootCmd.RunE = serveCmd.RunE

	var closeMainLog func() error
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := settings.EnsureDataDirs(); err != nil {
			return err
		}
		closeMainLog = initialize(settings)
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if closeMainLog != nil {
			_ = closeMainLog()
		}
	}

	return rootCmd
}

// initialize applies the logging configuration: the level from settings
// with the debug flag override, plus the optional rotating main log
// file. Returns the log file closer.
func initialize(settings *conf.Settings) func() error {
	level := logging.ParseLevel(settings.Main.LogLevel)
	if settings.Debug {
		level = slog.LevelDebug
	}

	closeFunc := func() error { return nil }
	if settings.Main.Log.Enabled && settings.Main.Log.Path != "" {
		logPath := settings.Main.Log.Path
		if !filepath.IsAbs(logPath) {
			logPath = filepath.Join(settings.Library.DataDir, logPath)
		}
		writer, closeWriter, err := logging.NewFileWriter(logPath)
		if err != nil {
			logging.Warn("Main log file unavailable", "path", logPath, "error", err)
		} else {
			logging.SetOutput(io.MultiWriter(os.Stdout, writer), os.Stderr)
			closeFunc = closeWriter
		}
	}
	logging.SetLevel(level)

	return closeFunc
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Library.PhotosPath, "photos", viper.GetString("library.photospath"), "Path to the photo library root")
	rootCmd.PersistentFlags().StringVar(&settings.Library.DataDir, "data", viper.GetString("library.datadir"), "Path to the derived data directory")
	rootCmd.PersistentFlags().StringVar(&settings.Main.LogLevel, "loglevel", viper.GetString("main.loglevel"), "Log level (trace, debug, info, warn, error)")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
