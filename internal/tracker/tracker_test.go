package tracker

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zipaJopa/agent-results/internal/metrics"
	"github.com/zipaJopa/agent-results/internal/storage"
	"github.com/zipaJopa/agent-results/internal/valuation"
)

const testDate = "2026-08-31"

func newTestTracker(store storage.Store, reporter Reporter) *Tracker {
	calc := valuation.NewCalculator(valuation.DefaultTable(), zerolog.Nop())
	trk := New(store, calc, reporter, DefaultConfig(), zerolog.Nop())
	trk.SetClock(func() time.Time {
		return time.Date(2026, 8, 31, 6, 0, 0, 0, time.UTC)
	})
	return trk
}

func seedRecord(t *testing.T, store storage.Store, name, content string) string {
	t.Helper()
	tag, err := store.Put(context.Background(), "outputs/"+testDate+"/"+name, []byte(content))
	require.NoError(t, err)
	return tag
}

func loadSnapshot(t *testing.T, store storage.Store, trk *Tracker) *metrics.Daily {
	t.Helper()
	obj, err := store.Read(context.Background(), trk.MetricsKey(testDate))
	require.NoError(t, err)
	daily, err := metrics.Unmarshal(obj.Content)
	require.NoError(t, err)
	return daily
}

// fakeReporter records whether a report was published.
type fakeReporter struct {
	published []*metrics.Daily
}

func (f *fakeReporter) Publish(_ context.Context, d *metrics.Daily) error {
	f.published = append(f.published, d)
	return nil
}

// flakyStore wraps a Store and injects failures.
type flakyStore struct {
	storage.Store
	failReadKeys  map[string]bool
	failPutPrefix string
	failDelete    bool
	failPutIf     error
}

func (f *flakyStore) Read(ctx context.Context, key string) (*storage.Object, error) {
	if f.failReadKeys[key] {
		return nil, fmt.Errorf("simulated read failure for %s", key)
	}
	return f.Store.Read(ctx, key)
}

func (f *flakyStore) Put(ctx context.Context, key string, content []byte) (string, error) {
	if f.failPutPrefix != "" && strings.HasPrefix(key, f.failPutPrefix) {
		return "", fmt.Errorf("simulated write failure for %s", key)
	}
	return f.Store.Put(ctx, key, content)
}

func (f *flakyStore) Delete(ctx context.Context, key, versionTag string) error {
	if f.failDelete {
		return fmt.Errorf("simulated delete failure for %s", key)
	}
	return f.Store.Delete(ctx, key, versionTag)
}

func (f *flakyStore) PutIf(ctx context.Context, key string, content []byte, expectedTag string) (string, error) {
	if f.failPutIf != nil {
		return "", f.failPutIf
	}
	return f.Store.PutIf(ctx, key, content, expectedTag)
}

func TestRun_EmptyDay(t *testing.T) {
	store := storage.NewMemoryStore()
	reporter := &fakeReporter{}
	trk := newTestTracker(store, reporter)

	result, err := trk.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Discovered)
	assert.Equal(t, testDate, result.Date)
	assert.NotEmpty(t, result.RunID)

	// An empty day still materializes a dated snapshot and a report.
	daily := loadSnapshot(t, store, trk)
	assert.Equal(t, testDate, daily.Date)
	assert.Equal(t, 0.0, daily.GrandTotalUSD)
	assert.Len(t, reporter.published, 1)
}

func TestRun_IngestsAndArchives(t *testing.T) {
	store := storage.NewMemoryStore()
	reporter := &fakeReporter{}
	trk := newTestTracker(store, reporter)
	ctx := context.Background()

	seedRecord(t, store, "github_arbitrage_task42.json", `{"agent_type": "github_arbitrage"}`)
	seedRecord(t, store, "crypto-trading-agent_task7.json", `{"task_id": "task7", "result": {"pnl_usdt": 42.5}}`)

	result, err := trk.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Discovered)
	assert.Equal(t, 2, result.Folded)
	assert.Equal(t, 0, result.Skipped)

	daily := loadSnapshot(t, store, trk)
	assert.Equal(t, 125.0, daily.FiatValueUSD)
	assert.Equal(t, 42.5, daily.CryptoPnLUSD)
	assert.InDelta(t, 167.5, daily.GrandTotalUSD, 1e-9)
	assert.Len(t, daily.Events, 2)
	assert.Len(t, daily.ProcessedVersionTags, 2)
	assert.Empty(t, daily.Errors)

	// Records moved from pending to the per-date archive.
	pending, err := store.List(ctx, "outputs/"+testDate+"/")
	require.NoError(t, err)
	assert.Empty(t, pending)

	archived, err := store.List(ctx, "processed_outputs/"+testDate+"/")
	require.NoError(t, err)
	assert.Len(t, archived, 2)

	assert.Len(t, reporter.published, 1)
}

func TestRun_IdempotentAcrossReruns(t *testing.T) {
	store := storage.NewMemoryStore()
	trk := newTestTracker(store, nil)
	ctx := context.Background()

	content := `{"result": {"pnl_usdt": 10.0}}`
	seedRecord(t, store, "crypto-trading-agent_task1.json", content)

	_, err := trk.Run(ctx)
	require.NoError(t, err)
	first := loadSnapshot(t, store, trk)

	// The same record reappears in pending storage (same content, so
	// the same version tag) as after an interrupted archival.
	seedRecord(t, store, "crypto-trading-agent_task1.json", content)

	result, err := trk.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Discovered)
	assert.Equal(t, 0, result.Folded)
	assert.Equal(t, 1, result.Skipped)

	second := loadSnapshot(t, store, trk)
	assert.Equal(t, first.GrandTotalUSD, second.GrandTotalUSD)
	assert.Equal(t, first.CryptoCount, second.CryptoCount)
	assert.Len(t, second.Events, len(first.Events))
	assert.Equal(t, first.ProcessedVersionTags, second.ProcessedVersionTags)

	// Skipped records are not archived: no archival attempt was made,
	// so the pending copy is still there.
	pending, err := store.List(ctx, "outputs/"+testDate+"/")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRun_ReadFailureIsSoftAndRetriable(t *testing.T) {
	mem := storage.NewMemoryStore()
	ctx := context.Background()

	seedRecord(t, mem, "github_arbitrage_ok.json", `{}`)
	badTag := seedRecord(t, mem, "domain_flipper_bad.json", `{"profit_usd": 10}`)

	flaky := &flakyStore{
		Store:        mem,
		failReadKeys: map[string]bool{"outputs/" + testDate + "/domain_flipper_bad.json": true},
	}
	trk := newTestTracker(flaky, nil)

	result, err := trk.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Discovered)
	assert.Equal(t, 1, result.Folded)

	daily := loadSnapshot(t, mem, trk)
	require.Len(t, daily.Errors, 1)
	assert.Contains(t, daily.Errors[0].Message, "could not read record content")

	// The failed record is not marked processed, so a future run
	// retries it.
	assert.False(t, daily.Processed(badTag))
	_, err = mem.Read(ctx, "outputs/"+testDate+"/domain_flipper_bad.json")
	assert.NoError(t, err)
}

func TestRun_ParseFailureIsSoft(t *testing.T) {
	store := storage.NewMemoryStore()
	trk := newTestTracker(store, nil)
	ctx := context.Background()

	badTag := seedRecord(t, store, "broken_record.json", `this is not json`)
	seedRecord(t, store, "github_arbitrage_ok.json", `{}`)

	result, err := trk.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Folded)

	daily := loadSnapshot(t, store, trk)
	require.Len(t, daily.Errors, 1)
	assert.Contains(t, daily.Errors[0].Message, "could not parse record JSON")
	assert.False(t, daily.Processed(badTag))

	// Unparseable records stay in pending storage.
	_, err = store.Read(ctx, "outputs/"+testDate+"/broken_record.json")
	assert.NoError(t, err)
}

func TestRun_ArchiveCopyFailureLeavesPending(t *testing.T) {
	mem := storage.NewMemoryStore()
	flaky := &flakyStore{Store: mem, failPutPrefix: "processed_outputs/"}
	trk := newTestTracker(flaky, nil)
	ctx := context.Background()

	seedRecord(t, mem, "crypto-trading-agent_task1.json", `{"result": {"pnl_usdt": 10.0}}`)

	result, err := trk.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Folded)

	// The value was counted even though archiving failed, and the
	// pending copy stays in place.
	daily := loadSnapshot(t, mem, trk)
	assert.Equal(t, 10.0, daily.CryptoPnLUSD)
	assert.Empty(t, daily.Errors)

	pending, err := mem.List(ctx, "outputs/"+testDate+"/")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	archived, err := mem.List(ctx, "processed_outputs/"+testDate+"/")
	require.NoError(t, err)
	assert.Empty(t, archived)

	// The version-tag gate prevents the lingering copy from being
	// folded twice.
	result, err = trk.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Folded)
	assert.Equal(t, 1, result.Skipped)

	second := loadSnapshot(t, mem, trk)
	assert.Equal(t, 10.0, second.CryptoPnLUSD)
	assert.Len(t, second.Events, len(daily.Events))
}

func TestRun_ArchiveDeleteFailureLeavesPending(t *testing.T) {
	mem := storage.NewMemoryStore()
	flaky := &flakyStore{Store: mem, failDelete: true}
	trk := newTestTracker(flaky, nil)
	ctx := context.Background()

	seedRecord(t, mem, "crypto-trading-agent_task1.json", `{"result": {"pnl_usdt": 10.0}}`)

	result, err := trk.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Folded)

	// The archive copy landed but the pending original could not be
	// removed, so both exist.
	archived, err := mem.List(ctx, "processed_outputs/"+testDate+"/")
	require.NoError(t, err)
	assert.Len(t, archived, 1)

	pending, err := mem.List(ctx, "outputs/"+testDate+"/")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Reruns skip the leftover instead of double counting it.
	result, err = trk.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)

	daily := loadSnapshot(t, mem, trk)
	assert.Equal(t, 10.0, daily.CryptoPnLUSD)
	assert.Len(t, daily.Events, 1)
}

func TestRun_PersistConflictAbortsBeforeReporting(t *testing.T) {
	mem := storage.NewMemoryStore()
	flaky := &flakyStore{Store: mem, failPutIf: storage.ErrPreconditionFailed}
	reporter := &fakeReporter{}
	trk := newTestTracker(flaky, reporter)

	seedRecord(t, mem, "github_arbitrage_task.json", `{}`)

	_, err := trk.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrPreconditionFailed)

	// No report and no snapshot were written.
	assert.Empty(t, reporter.published)
	_, err = mem.Read(context.Background(), trk.MetricsKey(testDate))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRun_CorruptSnapshotReinitializes(t *testing.T) {
	store := storage.NewMemoryStore()
	trk := newTestTracker(store, nil)
	ctx := context.Background()

	_, err := store.Put(ctx, trk.MetricsKey(testDate), []byte("{{{ corrupt"))
	require.NoError(t, err)
	seedRecord(t, store, "github_arbitrage_task.json", `{"agent_type": "github_arbitrage"}`)

	result, err := trk.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Folded)

	daily := loadSnapshot(t, store, trk)
	assert.Equal(t, 125.0, daily.GrandTotalUSD)
}

func TestRun_ResumesFromExistingSnapshot(t *testing.T) {
	store := storage.NewMemoryStore()
	trk := newTestTracker(store, nil)
	ctx := context.Background()

	seedRecord(t, store, "github_arbitrage_a.json", `{"agent_type": "github_arbitrage"}`)
	_, err := trk.Run(ctx)
	require.NoError(t, err)

	// A second batch lands later the same day.
	seedRecord(t, store, "saas_template_mill_b.json", `{"agent_type": "saas_template_mill"}`)
	result, err := trk.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Folded)

	daily := loadSnapshot(t, store, trk)
	assert.Equal(t, 2, daily.FiatCount)
	assert.InDelta(t, 6125.0, daily.GrandTotalUSD, 1e-9)
	assert.Len(t, daily.ProcessedVersionTags, 2)
}

func TestDeriveIdentity(t *testing.T) {
	t.Run("payload fields win over filename", func(t *testing.T) {
		taskType, taskID := deriveIdentity("wrongtype_wrongid.json", map[string]any{
			"agent_type": "crypto-trading-agent",
			"task_id":    "task-99",
		})
		assert.Equal(t, "crypto-trading-agent", taskType)
		assert.Equal(t, "task-99", taskID)
	})

	t.Run("task_type is accepted as fallback field", func(t *testing.T) {
		taskType, _ := deriveIdentity("x_y.json", map[string]any{"task_type": "harvest"})
		assert.Equal(t, "harvest", taskType)
	})

	t.Run("falls back to filename convention", func(t *testing.T) {
		taskType, taskID := deriveIdentity("github_arbitrage_task42.json", map[string]any{})
		assert.Equal(t, "github", taskType)
		assert.Equal(t, "arbitrage_task42", taskID)
	})

	t.Run("unsplittable names degrade to placeholders", func(t *testing.T) {
		taskType, taskID := deriveIdentity("oddname.json", map[string]any{})
		assert.Equal(t, "oddname", taskType)
		assert.Equal(t, "unknown_task_id_oddname.json", taskID)
	})
}

func TestExtractPayload(t *testing.T) {
	t.Run("nested result object is preferred", func(t *testing.T) {
		p := extractPayload(map[string]any{
			"agent_type": "a",
			"result":     map[string]any{"pnl_usdt": 1.0},
		})
		_, ok := p.Number("pnl_usdt")
		assert.True(t, ok)
	})

	t.Run("non-object result falls back to the whole record", func(t *testing.T) {
		p := extractPayload(map[string]any{"result": "done", "pnl_usdt": 2.0})
		v, ok := p.Number("pnl_usdt")
		assert.True(t, ok)
		assert.Equal(t, 2.0, v)
	})
}
