package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zipaJopa/agent-results/internal/history"
)

// Job wraps a Tracker run for the scheduler and records every outcome in
// the local run history ledger. ledger may be nil.
type Job struct {
	tracker *Tracker
	ledger  *history.Ledger
	timeout time.Duration
	log     zerolog.Logger

	// mu serializes runs across triggers: a cron firing while a manual
	// run is in flight waits instead of racing it to the persist.
	mu sync.Mutex
}

// NewJob creates the scheduled ingestion job.
func NewJob(t *Tracker, ledger *history.Ledger, log zerolog.Logger) *Job {
	return &Job{
		tracker: t,
		ledger:  ledger,
		timeout: 30 * time.Minute,
		log:     log.With().Str("job", "ingest_results").Logger(),
	}
}

// Name implements scheduler.Job.
func (j *Job) Name() string {
	return "ingest_results"
}

// Run implements scheduler.Job. Runs are serialized regardless of what
// triggered them. A failed run is recorded in the ledger before the
// error propagates to the scheduler.
func (j *Job) Run() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	result, err := j.tracker.Run(ctx)

	if j.ledger != nil && result != nil {
		status := "ok"
		if err != nil {
			status = "failed"
		}
		finished := result.FinishedAt
		if finished.IsZero() {
			finished = time.Now().UTC()
		}

		run := history.Run{
			ID:         result.RunID,
			Date:       result.Date,
			StartedAt:  result.StartedAt,
			FinishedAt: finished,
			Discovered: result.Discovered,
			Folded:     result.Folded,
			Skipped:    result.Skipped,
			Status:     status,
		}
		if result.Daily != nil {
			run.ErrorCount = len(result.Daily.Errors)
			run.GrandTotalUSD = result.Daily.GrandTotalUSD
			run.CryptoPnLUSD = result.Daily.CryptoPnLUSD
			run.FiatValueUSD = result.Daily.FiatValueUSD
		}

		if recErr := j.ledger.RecordRun(ctx, run, result.Daily); recErr != nil {
			j.log.Error().Err(recErr).Str("run_id", result.RunID).Msg("Failed to record run in history ledger")
		}
	}

	return err
}
