// Package report renders daily metrics into the markdown status
// dashboard and publishes it to object storage.
package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zipaJopa/agent-results/internal/metrics"
	"github.com/zipaJopa/agent-results/internal/storage"
)

const (
	// DefaultDashboardKey is where the rendered dashboard lives.
	DefaultDashboardKey = "CONSTELLATION_STATUS.md"

	maxTopEvents   = 15
	maxErrorsShown = 10
)

// Markdown publishes a human-readable dashboard for a day's metrics.
// The dashboard is derived output and regenerated on every run, so it is
// written unconditionally.
type Markdown struct {
	store        storage.Store
	dashboardKey string
	metricsPath  func(date string) string
	log          zerolog.Logger
	now          func() time.Time
}

// NewMarkdown creates a dashboard publisher. metricsPath maps a date to
// the storage key of its snapshot, used for the footer link.
func NewMarkdown(store storage.Store, dashboardKey string, metricsPath func(date string) string, log zerolog.Logger) *Markdown {
	if dashboardKey == "" {
		dashboardKey = DefaultDashboardKey
	}
	return &Markdown{
		store:        store,
		dashboardKey: dashboardKey,
		metricsPath:  metricsPath,
		log:          log.With().Str("component", "report").Logger(),
		now:          time.Now,
	}
}

// Publish renders the dashboard and writes it to storage.
func (m *Markdown) Publish(ctx context.Context, daily *metrics.Daily) error {
	content := m.Render(daily)

	if _, err := m.store.Put(ctx, m.dashboardKey, []byte(content)); err != nil {
		return fmt.Errorf("failed to write dashboard %s: %w", m.dashboardKey, err)
	}

	m.log.Info().Str("key", m.dashboardKey).Str("date", daily.Date).Msg("Dashboard updated")
	return nil
}

// Render produces the dashboard markdown for a day's metrics.
func (m *Markdown) Render(daily *metrics.Daily) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# AI Constellation Performance Dashboard - %s\n\n", daily.Date)
	fmt.Fprintf(&b, "## Overall Summary (%s)\n", daily.Date)
	fmt.Fprintf(&b, "- **Grand Total Value Generated (Crypto P&L + Fiat Value):** $%.2f USD\n", daily.GrandTotalUSD)
	fmt.Fprintf(&b, "- **Total Crypto P&L:** $%.2f USD from %d trades/results\n", daily.CryptoPnLUSD, daily.CryptoCount)
	fmt.Fprintf(&b, "- **Total Estimated Fiat Value:** $%.2f USD from %d tasks\n", daily.FiatValueUSD, daily.FiatCount)
	fmt.Fprintf(&b, "- **Operational Tasks Processed:** %d\n", daily.OperationalCount)

	b.WriteString("\n### Crypto P&L Breakdown by Agent (Today):\n")
	writeAgentTable(&b, daily.PnLByCryptoAgent, "P&L (USD)", "No crypto P&L recorded today.")

	b.WriteString("\n### Fiat Value Breakdown by Agent (Today):\n")
	writeAgentTable(&b, daily.ValueByFiatAgent, "Value Generated (USD)", "No fiat value generated by specific agent types today.")

	b.WriteString("\n### Top Value Events (Today - Crypto & Fiat):\n")
	writeTopEvents(&b, daily.Events)

	if len(daily.Errors) > 0 {
		b.WriteString("\n### Errors During Result Processing:\n")
		shown := daily.Errors
		if len(shown) > maxErrorsShown {
			shown = shown[:maxErrorsShown]
		}
		for _, e := range shown {
			fmt.Fprintf(&b, "- **File:** `%s` - **Error:** %s (at %s)\n", e.FilePath, e.Message, e.Timestamp.Format(time.RFC3339))
		}
		if rest := len(daily.Errors) - maxErrorsShown; rest > 0 {
			fmt.Fprintf(&b, "- ...and %d more errors.\n", rest)
		}
	}

	fmt.Fprintf(&b, "\n---\n*Last updated: %s*\n", m.now().UTC().Format(time.RFC3339))
	if m.metricsPath != nil {
		fmt.Fprintf(&b, "*View detailed daily metrics JSON [here](./%s)*\n", m.metricsPath(daily.Date))
	}
	b.WriteString("*This dashboard is updated automatically by the results tracker.*")

	return b.String()
}

// writeAgentTable writes a two-column agent/amount table sorted by amount
// descending, or the empty message when there is nothing to show.
func writeAgentTable(b *strings.Builder, byAgent map[string]float64, amountHeader, emptyMsg string) {
	if len(byAgent) == 0 {
		b.WriteString(emptyMsg + "\n")
		return
	}

	type row struct {
		agent  string
		amount float64
	}
	rows := make([]row, 0, len(byAgent))
	for agent, amount := range byAgent {
		rows = append(rows, row{agent, amount})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].amount != rows[j].amount {
			return rows[i].amount > rows[j].amount
		}
		return rows[i].agent < rows[j].agent
	})

	fmt.Fprintf(b, "| Agent Type | %s |\n", amountHeader)
	b.WriteString("|------------|-----------|\n")
	for _, r := range rows {
		fmt.Fprintf(b, "| %s | $%.2f |\n", r.agent, r.amount)
	}
}

// writeTopEvents lists the highest-impact non-zero events by absolute
// value, newest-first ordering broken only by magnitude.
func writeTopEvents(b *strings.Builder, events []metrics.Event) {
	if len(events) == 0 {
		b.WriteString("No detailed value events logged today.\n")
		return
	}

	nonZero := make([]metrics.Event, 0, len(events))
	for _, e := range events {
		if e.ValueUSD != 0 {
			nonZero = append(nonZero, e)
		}
	}
	if len(nonZero) == 0 {
		b.WriteString("No specific value-generating events logged today.\n")
		return
	}

	sort.SliceStable(nonZero, func(i, j int) bool {
		return math.Abs(nonZero[i].ValueUSD) > math.Abs(nonZero[j].ValueUSD)
	})
	if len(nonZero) > maxTopEvents {
		nonZero = nonZero[:maxTopEvents]
	}

	for _, e := range nonZero {
		tag := ""
		if e.Category != "unknown" {
			tag = fmt.Sprintf("[%s] ", strings.ToUpper(string(e.Category)))
		}
		fmt.Fprintf(b, "- **%s%s (Task %s):** $%.2f USD - %s\n", tag, e.AgentType, e.TaskID, e.ValueUSD, e.Description)
	}
}
