// Package tracker orchestrates one ingestion pass over pending agent
// result records: load the day's accumulator, discover candidates, gate
// on processed version tags, value and fold each new record, archive it,
// persist the snapshot, and hand it to the report renderer.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zipaJopa/agent-results/internal/metrics"
	"github.com/zipaJopa/agent-results/internal/storage"
	"github.com/zipaJopa/agent-results/internal/valuation"
)

// Reporter renders the final daily metrics. Implementations are external
// to the ingestion core; a failing reporter never fails the run.
type Reporter interface {
	Publish(ctx context.Context, daily *metrics.Daily) error
}

// Config holds tracker settings.
type Config struct {
	// OutputsPrefix is where agents drop pending result records,
	// organized per UTC date (outputs/<date>/<name>).
	OutputsPrefix string
	// ArchivePrefix is where processed records are copied, also per
	// date. Same-name collisions within a day overwrite.
	ArchivePrefix string
	// MetricsPrefix is where daily snapshots are persisted
	// (metrics/daily_metrics_<date>.json).
	MetricsPrefix string
	// LogZeroValueEvents controls whether zero-value results appear in
	// the detailed breakdown. Defaults to true for audit completeness.
	LogZeroValueEvents bool
}

// DefaultConfig returns the production layout.
func DefaultConfig() Config {
	return Config{
		OutputsPrefix:      "outputs",
		ArchivePrefix:      "processed_outputs",
		MetricsPrefix:      "metrics",
		LogZeroValueEvents: true,
	}
}

// RunResult summarizes one ingestion run.
type RunResult struct {
	RunID      string
	Date       string
	Discovered int
	Folded     int
	Skipped    int
	Daily      *metrics.Daily
	StartedAt  time.Time
	FinishedAt time.Time
}

// Tracker drives the ingestion state machine. A single tracker run is
// assumed to be the only writer for its day's data; the optimistic write
// at persist time catches anything that violates that assumption.
type Tracker struct {
	store    storage.Store
	calc     *valuation.Calculator
	reporter Reporter
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

// New creates a tracker. reporter may be nil to skip rendering.
func New(store storage.Store, calc *valuation.Calculator, reporter Reporter, cfg Config, log zerolog.Logger) *Tracker {
	if cfg.OutputsPrefix == "" {
		cfg.OutputsPrefix = "outputs"
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "processed_outputs"
	}
	if cfg.MetricsPrefix == "" {
		cfg.MetricsPrefix = "metrics"
	}

	return &Tracker{
		store:    store,
		calc:     calc,
		reporter: reporter,
		cfg:      cfg,
		log:      log.With().Str("component", "tracker").Logger(),
		now:      time.Now,
	}
}

// SetReporter sets the report renderer. Reporters depend on the
// tracker's key layout, so they are attached after construction.
func (t *Tracker) SetReporter(r Reporter) {
	t.reporter = r
}

// SetClock overrides the time source. Used in tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// MetricsKey returns the storage key of a day's snapshot.
func (t *Tracker) MetricsKey(date string) string {
	return fmt.Sprintf("%s/daily_metrics_%s.json", t.cfg.MetricsPrefix, date)
}

// Run executes one full ingestion pass for the current UTC date.
// Per-record failures are soft: they are recorded in the day's error log
// and the pass continues. Only a failed persist aborts the run, in which
// case no report is emitted.
func (t *Tracker) Run(ctx context.Context) (*RunResult, error) {
	started := t.now().UTC()
	date := started.Format(metrics.DateFormat)

	result := &RunResult{
		RunID:     uuid.NewString(),
		Date:      date,
		StartedAt: started,
	}

	log := t.log.With().Str("run_id", result.RunID).Str("date", date).Logger()
	log.Info().Msg("Starting results processing")

	daily, loadedTag := t.load(ctx, date, log)
	result.Daily = daily

	pendingPrefix := fmt.Sprintf("%s/%s/", t.cfg.OutputsPrefix, date)
	records, err := t.store.List(ctx, pendingPrefix)
	if err != nil {
		return result, fmt.Errorf("failed to discover pending records under %s: %w", pendingPrefix, err)
	}
	result.Discovered = len(records)

	if len(records) == 0 {
		log.Info().Msg("No pending result records found")
	}

	for _, rec := range records {
		if daily.Processed(rec.VersionTag) {
			result.Skipped++
			log.Debug().Str("record", rec.Key).Str("version_tag", rec.VersionTag).Msg("Already processed, skipping")
			continue
		}
		if t.ingest(ctx, daily, rec, date, log) {
			result.Folded++
		}
	}

	// Persist even when nothing new was folded, so an empty day still
	// materializes a dated snapshot.
	if err := t.persist(ctx, daily, date, loadedTag); err != nil {
		return result, err
	}

	if t.reporter != nil {
		if err := t.reporter.Publish(ctx, daily); err != nil {
			log.Error().Err(err).Msg("Failed to publish report")
		}
	}

	result.FinishedAt = t.now().UTC()
	log.Info().
		Int("discovered", result.Discovered).
		Int("folded", result.Folded).
		Int("skipped", result.Skipped).
		Int("errors", len(daily.Errors)).
		Float64("grand_total_usd", daily.GrandTotalUSD).
		Msg("Results processing finished")

	return result, nil
}

// load fetches the day's snapshot, falling back to a fresh accumulator
// when it is absent or corrupt. Corruption is logged, never fatal; the
// corrupt object's version tag is kept so the persist step replaces it.
func (t *Tracker) load(ctx context.Context, date string, log zerolog.Logger) (*metrics.Daily, string) {
	key := t.MetricsKey(date)

	obj, err := t.store.Read(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Error().Err(err).Str("key", key).Msg("Failed to load existing metrics, initializing new")
		}
		return metrics.NewDaily(date), ""
	}

	daily, err := metrics.Unmarshal(obj.Content)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Existing metrics file is corrupt, initializing new")
		return metrics.NewDaily(date), obj.VersionTag
	}
	if daily.Date == "" {
		daily.Date = date
	}

	log.Info().Str("key", key).Int("processed_tags", len(daily.ProcessedVersionTags)).Msg("Existing metrics loaded")
	return daily, obj.VersionTag
}

// ingest values one pending record and folds it into the accumulator.
// Returns true when the record was folded. Read and parse failures leave
// the record unmarked so a future run retries it.
func (t *Tracker) ingest(ctx context.Context, daily *metrics.Daily, rec storage.ObjectInfo, date string, log zerolog.Logger) bool {
	obj, err := t.store.Read(ctx, rec.Key)
	if err != nil {
		log.Error().Err(err).Str("record", rec.Key).Msg("Could not read record content")
		daily.RecordError(rec.Key, fmt.Sprintf("could not read record content: %v", err), t.now().UTC())
		return false
	}

	var raw map[string]any
	if err := json.Unmarshal(obj.Content, &raw); err != nil {
		log.Error().Err(err).Str("record", rec.Key).Msg("Could not parse record JSON")
		daily.RecordError(rec.Key, fmt.Sprintf("could not parse record JSON: %v", err), t.now().UTC())
		return false
	}

	taskType, taskID := deriveIdentity(rec.Name, raw)
	payload := extractPayload(raw)

	v := t.calc.Compute(taskType, payload)

	daily.Fold(metrics.FoldInput{
		TaskID:        taskID,
		TaskType:      taskType,
		FilePath:      rec.Key,
		VersionTag:    rec.VersionTag,
		Valuation:     v,
		ProcessedAt:   t.now().UTC(),
		OmitZeroEvent: !t.cfg.LogZeroValueEvents,
	})

	log.Info().
		Str("record", rec.Key).
		Str("task_type", taskType).
		Float64("value_usd", v.AmountUSD).
		Str("category", string(v.Category)).
		Msg("Folded result record")

	t.archive(ctx, rec, obj, date, log)
	return true
}

// archive copies a folded record to the per-date archive path and
// deletes the pending copy. Both failures are soft: the record's value
// is already counted and its version tag marked, so a future run will
// not re-fold it even if the pending copy lingers.
func (t *Tracker) archive(ctx context.Context, rec storage.ObjectInfo, obj *storage.Object, date string, log zerolog.Logger) {
	archiveKey := fmt.Sprintf("%s/%s/%s", t.cfg.ArchivePrefix, date, rec.Name)

	if _, err := t.store.Put(ctx, archiveKey, obj.Content); err != nil {
		log.Error().Err(err).Str("record", rec.Key).Str("archive", archiveKey).
			Msg("Failed to write archive copy, leaving pending record in place")
		return
	}

	if err := t.store.Delete(ctx, rec.Key, obj.VersionTag); err != nil {
		log.Warn().Err(err).Str("record", rec.Key).
			Msg("Failed to delete pending record after archiving, manual cleanup may be needed")
	}
}

// persist writes the snapshot back with optimistic concurrency. A
// conflicting concurrent writer fails the run rather than silently
// overwriting its work.
func (t *Tracker) persist(ctx context.Context, daily *metrics.Daily, date, expectedTag string) error {
	key := t.MetricsKey(date)

	data, err := daily.Marshal()
	if err != nil {
		return err
	}

	if _, err := t.store.PutIf(ctx, key, data, expectedTag); err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			return fmt.Errorf("concurrent writer updated %s, aborting run: %w", key, err)
		}
		return fmt.Errorf("failed to persist daily metrics to %s: %w", key, err)
	}

	return nil
}

// deriveIdentity resolves the task type and id for a record, preferring
// explicit payload fields over values inferred from the record's name.
// Filenames follow the AGENTTYPE_TASKID.json convention, but that is
// convention rather than contract: a name that does not match degrades
// to placeholder identifiers and never fails.
func deriveIdentity(name string, raw map[string]any) (taskType, taskID string) {
	base := strings.TrimSuffix(name, ".json")
	parts := strings.SplitN(base, "_", 2)

	taskType = parts[0]
	taskID = "unknown_task_id_" + name
	if len(parts) > 1 {
		taskID = parts[1]
	}

	if v := stringField(raw, "agent_type"); v != "" {
		taskType = v
	} else if v := stringField(raw, "task_type"); v != "" {
		taskType = v
	}
	if v := stringField(raw, "task_id"); v != "" {
		taskID = v
	}

	return taskType, taskID
}

// extractPayload returns the agent-specific result body: the nested
// "result" object when present, otherwise the whole record.
func extractPayload(raw map[string]any) valuation.Payload {
	if nested, ok := raw["result"].(map[string]any); ok {
		return valuation.Payload(nested)
	}
	return valuation.Payload(raw)
}

func stringField(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}
