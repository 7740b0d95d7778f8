// internal/storage/cleanup.go
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/carscout/carscout/internal/config"
	"github.com/carscout/carscout/internal/links"
	"github.com/carscout/carscout/internal/utils"
)

// intermediatePatterns are the transient batch files produced during a run.
var intermediatePatterns = []string{
	"temp_results_*.csv",
	"complete_vehicles_*.csv",
	"cleaned_vehicles_*.csv",
}

// CleanupArtifacts removes a run's transient files after successful store
// ingestion: intermediate CSV batches are deleted and the new-links and
// latest-links files are truncated. The main links file is preserved; it is
// the next run's dedup source.
func CleanupArtifacts(files config.FilesConfig, workDir string) error {
	logger := utils.NewComponentLogger("cleanup")

	removed := 0
	for _, pattern := range intermediatePatterns {
		matches, err := filepath.Glob(filepath.Join(workDir, pattern))
		if err != nil {
			return fmt.Errorf("bad cleanup pattern %s: %w", pattern, err)
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
				logger.Warnf("could not remove %s: %v", m, err)
				continue
			}
			removed++
		}
	}

	if err := links.Truncate(files.NewLinks); err != nil {
		return err
	}
	if err := links.Truncate(files.LatestLinks); err != nil {
		return err
	}

	logger.Infof("cleanup removed %d intermediate files", removed)
	return nil
}
