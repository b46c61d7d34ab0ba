// Package metrics holds the daily value accumulator. A Daily is loaded
// (or created empty) once per ingestion run, mutated purely in memory as
// each task result is folded in, and persisted once at the end of the run.
package metrics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zipaJopa/agent-results/internal/valuation"
)

// DateFormat is the UTC calendar-date key for a day's metrics.
const DateFormat = "2006-01-02"

// Event is one entry in the detailed value breakdown. Insertion order is
// significant: newest events are appended last.
type Event struct {
	TaskID      string             `json:"task_id"`
	FilePath    string             `json:"file_path"`
	AgentType   string             `json:"agent_type"`
	ValueUSD    float64            `json:"value_usd"`
	Category    valuation.Category `json:"value_category"`
	Description string             `json:"description"`
	ProcessedAt time.Time          `json:"processed_at"`
}

// ProcessingError records a soft per-record failure. The run continues;
// the record stays in pending storage for a future retry.
type ProcessingError struct {
	FilePath  string    `json:"file_path"`
	Message   string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Daily is the accumulator state for one UTC calendar day. Field names
// are stable across runs: the JSON snapshot is read by the dashboard
// renderer and any future consumer.
type Daily struct {
	Date                 string                     `json:"date"`
	GrandTotalUSD        float64                    `json:"grand_total_value_usd"`
	CryptoPnLUSD         float64                    `json:"total_crypto_pnl_usd"`
	FiatValueUSD         float64                    `json:"total_fiat_value_usd"`
	CryptoCount          int                        `json:"crypto_trades_count"`
	FiatCount            int                        `json:"fiat_tasks_count"`
	OperationalCount     int                        `json:"operational_tasks_count"`
	UnknownCount         int                        `json:"unknown_tasks_count"`
	PnLByCryptoAgent     map[string]float64         `json:"pnl_by_crypto_agent"`
	ValueByFiatAgent     map[string]float64         `json:"value_by_fiat_agent"`
	TasksByOperational   map[string]int             `json:"tasks_by_operational_agent"`
	TasksByUnknownAgent  map[string]int             `json:"tasks_by_unknown_agent"`
	Events               []Event                    `json:"detailed_value_breakdown"`
	ProcessedVersionTags []string                   `json:"processed_version_tags"`
	Errors               []ProcessingError          `json:"errors_processing_results"`

	// processed indexes ProcessedVersionTags for the dedup gate.
	processed map[string]struct{}
}

// NewDaily creates an empty accumulator for the given date.
func NewDaily(date string) *Daily {
	d := &Daily{Date: date}
	d.normalize()
	return d
}

// normalize initializes nil maps and slices and rebuilds the processed
// index. Called after construction and after unmarshaling a snapshot.
func (d *Daily) normalize() {
	if d.PnLByCryptoAgent == nil {
		d.PnLByCryptoAgent = make(map[string]float64)
	}
	if d.ValueByFiatAgent == nil {
		d.ValueByFiatAgent = make(map[string]float64)
	}
	if d.TasksByOperational == nil {
		d.TasksByOperational = make(map[string]int)
	}
	if d.TasksByUnknownAgent == nil {
		d.TasksByUnknownAgent = make(map[string]int)
	}
	if d.Events == nil {
		d.Events = make([]Event, 0)
	}
	if d.ProcessedVersionTags == nil {
		d.ProcessedVersionTags = make([]string, 0)
	}
	if d.Errors == nil {
		d.Errors = make([]ProcessingError, 0)
	}
	d.processed = make(map[string]struct{}, len(d.ProcessedVersionTags))
	for _, tag := range d.ProcessedVersionTags {
		d.processed[tag] = struct{}{}
	}
}

// Processed reports whether a version tag has already been folded in.
// This is the sole idempotence gate: callers must check it before Fold.
func (d *Daily) Processed(tag string) bool {
	_, ok := d.processed[tag]
	return ok
}

// FoldInput carries one valued task result into the accumulator.
type FoldInput struct {
	TaskID      string
	TaskType    string
	FilePath    string
	VersionTag  string
	Valuation   valuation.Result
	ProcessedAt time.Time

	// OmitZeroEvent suppresses the detailed event when the amount is
	// zero. Off by default: zero-value events are logged for audit
	// completeness.
	OmitZeroEvent bool
}

// Fold incorporates one valuation into the running totals. It is a pure
// state transition with no I/O and trusts the caller's dedup pre-filter:
// it does not re-check the processed set.
func (d *Daily) Fold(in FoldInput) {
	v := in.Valuation

	switch v.Category {
	case valuation.CategoryCrypto:
		d.CryptoCount++
		d.CryptoPnLUSD += v.AmountUSD
		d.PnLByCryptoAgent[in.TaskType] += v.AmountUSD
	case valuation.CategoryFiat:
		d.FiatCount++
		d.FiatValueUSD += v.AmountUSD
		d.ValueByFiatAgent[in.TaskType] += v.AmountUSD
	case valuation.CategoryOperational:
		d.OperationalCount++
		d.TasksByOperational[in.TaskType]++
	default:
		d.UnknownCount++
		d.TasksByUnknownAgent[in.TaskType]++
	}

	// Operational and unknown results never contribute to the grand
	// total; it is always the sum of the two monetary buckets.
	d.GrandTotalUSD = d.CryptoPnLUSD + d.FiatValueUSD

	if !(in.OmitZeroEvent && v.AmountUSD == 0) {
		d.Events = append(d.Events, Event{
			TaskID:      in.TaskID,
			FilePath:    in.FilePath,
			AgentType:   in.TaskType,
			ValueUSD:    v.AmountUSD,
			Category:    v.Category,
			Description: v.Description,
			ProcessedAt: in.ProcessedAt,
		})
	}

	d.MarkProcessed(in.VersionTag)
}

// MarkProcessed adds a version tag to the processed set.
func (d *Daily) MarkProcessed(tag string) {
	if tag == "" {
		return
	}
	if _, ok := d.processed[tag]; ok {
		return
	}
	d.processed[tag] = struct{}{}
	d.ProcessedVersionTags = append(d.ProcessedVersionTags, tag)
}

// RecordError appends a soft per-record failure.
func (d *Daily) RecordError(filePath, message string, at time.Time) {
	d.Errors = append(d.Errors, ProcessingError{
		FilePath:  filePath,
		Message:   message,
		Timestamp: at,
	})
}

// Marshal serializes the accumulator as an indented JSON snapshot.
func (d *Daily) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal daily metrics: %w", err)
	}
	return data, nil
}

// Unmarshal parses a persisted snapshot. Missing fields are normalized
// so snapshots written by older versions load cleanly.
func Unmarshal(data []byte) (*Daily, error) {
	var d Daily
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse daily metrics: %w", err)
	}
	d.normalize()
	return &d, nil
}
