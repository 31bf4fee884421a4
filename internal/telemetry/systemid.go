package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/privacy"
)

// systemIDFile is the marker file under the data directory that persists the
// anonymous installation identifier across restarts.
const systemIDFile = ".system_id"

// loadOrCreateSystemID loads an existing system ID from the data directory or
// creates and persists a new one. The ID carries no host information; it only
// lets repeated reports from the same installation be grouped.
func loadOrCreateSystemID(dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", errors.New(fmt.Errorf("creating data directory: %w", err)).
			Component("telemetry").
			Category(errors.CategoryFileIO).
			Context("operation", "load-system-id").
			Build()
	}

	idFile := filepath.Join(dataDir, systemIDFile)

	// Reuse the stored ID when it validates; anything malformed is replaced
	if data, err := os.ReadFile(idFile); err == nil {
		id := strings.TrimSpace(string(data))
		if privacy.IsValidSystemID(id) {
			return id, nil
		}
	}

	id, err := privacy.GenerateSystemID()
	if err != nil {
		return "", errors.New(err).
			Component("telemetry").
			Category(errors.CategorySystem).
			Context("operation", "generate-system-id").
			Build()
	}

	if err := os.WriteFile(idFile, []byte(id), 0o644); err != nil {
		return "", errors.New(fmt.Errorf("saving system ID: %w", err)).
			Component("telemetry").
			Category(errors.CategoryFileIO).
			Context("operation", "save-system-id").
			Build()
	}

	return id, nil
}
