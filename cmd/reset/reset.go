// Package reset provides the reset command for clearing the derived index.
package reset

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/photoindex/internal/artifacts"
	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/datastore"
	"github.com/tphakala/photoindex/internal/observability"
	"github.com/tphakala/photoindex/internal/pipeline"
)

// Command creates the reset command. It drops every derived row and
// artifact; the photo library itself is never touched.
func Command(settings *conf.Settings) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the derived index and artifacts",
		Long:  "Delete the catalog rows, thumbnails, face crops and motion videos derived from the photo library. Source photos are not modified; the next scan rebuilds everything from scratch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(settings, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")

	return cmd
}

func runReset(settings *conf.Settings, force bool) error {
	if !force && !confirm(settings.Library.DataDir) {
		fmt.Println("Aborted.")
		return nil
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("error initializing metrics: %w", err)
	}

	store := datastore.New(settings, metrics.Datastore)
	if err := store.Open(); err != nil {
		return fmt.Errorf("error opening catalog: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing catalog: %v\n", err)
		}
	}()

	files, err := artifacts.New(settings.Library.DataDir)
	if err != nil {
		return fmt.Errorf("error opening artifact store: %w", err)
	}
	defer func() { _ = files.Close() }()

	// ClearIndex does not need a started pipeline; stage services stay
	// unwired.
	pl := pipeline.New(settings, store, files, pipeline.Services{})
	if err := pl.ClearIndex(); err != nil {
		return fmt.Errorf("error clearing index: %w", err)
	}

	fmt.Println("Index cleared. The next scan rebuilds the catalog from scratch.")
	return nil
}

// confirm asks on stdin before destroying derived data. Anything but an
// explicit yes aborts, including a closed stdin.
func confirm(dataDir string) bool {
	fmt.Printf("This deletes the derived catalog and artifacts under %s.\n", dataDir)
	fmt.Println("The photo library itself is not touched.")
	fmt.Print("Type 'yes' to continue: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}
