package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Summarize folds the group traces into summary. Counts already set on summary (snapshot sizes,
// run id, timestamps) are kept.
func Summarize(summary models.RunSummary, traces []models.GroupTrace) models.RunSummary {
	summary.Groups = len(traces)

	for _, g := range traces {
		for _, lt := range g.Losers {
			summary.PairsMerged++
			summary.Failures += lt.Failures()

			switch lt.Deletion {
			case models.OutcomeApplied, models.OutcomeAlreadyApplied, models.OutcomePlanned:
				summary.LosersDeleted++
			default:
				summary.LosersKept++
			}
		}

		for _, pt := range g.Placeholders {
			switch pt.Deletion {
			case models.OutcomeApplied, models.OutcomeAlreadyApplied, models.OutcomePlanned:
				summary.PlaceholdersDeleted++
			case models.OutcomeFailed:
				summary.Failures++
				summary.PlaceholdersKept++
			default:
				summary.PlaceholdersKept++
			}
		}
	}

	return summary
}

// WriteJSON writes the full run report to path, creating parent directories.
func WriteJSON(path string, report models.RunReport) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}
