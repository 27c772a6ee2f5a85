package backup

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imedwei/collection-backup/internal/model"
	"github.com/imedwei/collection-backup/internal/retention"
)

// State is a step of a backup cycle.
type State string

// Backup cycle states.
const (
	StateIdle      State = "idle"
	StateDumping   State = "dumping"
	StateWriting   State = "writing"
	StateDeduped   State = "deduped"
	StateRecorded  State = "recorded"
	StatePruning   State = "pruning"
	StateNotifying State = "notifying"
	StateFailed    State = "failed"
)

// Outcome is how a backup cycle ended.
type Outcome string

// Backup outcomes.
const (
	OutcomeRecorded Outcome = "recorded"
	OutcomeDeduped  Outcome = "deduped"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Result describes one backup cycle.
type Result struct {
	Label   string
	Outcome Outcome
	// Archive is the new archive, or the existing one when deduplicated.
	Archive *model.Archive
	// Reason explains a skipped cycle.
	Reason string
	// Trace lists the states the cycle went through.
	Trace []State

	Pruned   *retention.Result
	PruneErr error

	Notified  bool
	NotifyErr error

	Err      error
	Duration time.Duration
}

func (r *Result) transition(logger *slog.Logger, s State) {
	r.Trace = append(r.Trace, s)
	logger.Debug("Backup state changed", "state", s)
}

// BatchReport summarizes a BackupAll run.
type BatchReport struct {
	RunID    string
	Results  []*Result
	Recorded []string
	Deduped  []string
	Skipped  []string
	Failed   map[string]error
	Duration time.Duration
}

func newBatchReport(runID string, results []*Result) *BatchReport {
	report := &BatchReport{
		RunID:   runID,
		Results: results,
		Failed:  make(map[string]error),
	}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeRecorded:
			report.Recorded = append(report.Recorded, r.Label)
		case OutcomeDeduped:
			report.Deduped = append(report.Deduped, r.Label)
		case OutcomeSkipped:
			report.Skipped = append(report.Skipped, r.Label)
		default:
			report.Failed[r.Label] = r.Err
		}
	}
	return report
}

// Err joins the failures of the run in collection order.
func (b *BatchReport) Err() error {
	var errs []error
	for _, r := range b.Results {
		if r.Outcome == OutcomeFailed {
			errs = append(errs, fmt.Errorf("%s: %w", r.Label, r.Err))
		}
	}
	return errors.Join(errs...)
}
