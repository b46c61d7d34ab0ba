package valuation

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// PnLField is the payload field that, when numeric, overrides the
// configured policy: its value is taken as realized P&L and the result is
// categorized as crypto regardless of task type.
const PnLField = "pnl_usdt"

// Result is the outcome of valuing a single task result. AmountUSD is
// always a finite float; coercion failures degrade to 0.0.
type Result struct {
	AmountUSD   float64
	Category    Category
	Description string
}

// Calculator applies a policy table to task results. The table is fixed
// at construction, so synthetic tables can be injected in tests.
type Calculator struct {
	table Table
	log   zerolog.Logger
}

// NewCalculator creates a calculator over the given policy table.
func NewCalculator(table Table, log zerolog.Logger) *Calculator {
	return &Calculator{
		table: table,
		log:   log.With().Str("component", "valuation").Logger(),
	}
}

// Compute values one task result. It never fails: unknown task types
// resolve to the count-only/unknown policy and non-numeric amounts
// collapse to 0.0.
func (c *Calculator) Compute(taskType string, payload Payload) Result {
	// Direct P&L takes priority over any configured policy.
	if raw, ok := payload[PnLField]; ok {
		if amount, numOk := toFloat(raw); numOk {
			return Result{
				AmountUSD:   amount,
				Category:    CategoryCrypto,
				Description: fmt.Sprintf("%s P&L: %.2f USD", taskType, amount),
			}
		}
		c.log.Warn().
			Str("task_type", taskType).
			Interface("value", raw).
			Msgf("Could not convert %s to float, using configured method", PnLField)
	}

	policy := c.table.Resolve(taskType)

	var amount float64
	description := fmt.Sprintf("Task type: %s", taskType)

	switch policy.Kind {
	case KindPerItem:
		amount = policy.Value
		description = fmt.Sprintf("Completed %s task.", taskType)

	case KindPayloadField:
		raw, present := payload[policy.Field]
		if !present {
			amount = policy.Default
			raw = policy.Default
		}
		description = fmt.Sprintf("%s result: %s = %v", taskType, policy.Field, raw)
		coerced, numOk := toFloat(raw)
		if numOk {
			amount = coerced
			// The raw field is not necessarily denominated in USD;
			// only claim the unit when the field name or category says so.
			if strings.Contains(strings.ToLower(policy.Field), "usd") || policy.Category == CategoryFiat {
				description += " USD"
			}
		} else if present {
			c.log.Warn().
				Str("task_type", taskType).
				Str("field", policy.Field).
				Interface("value", raw).
				Msg("Could not convert payload field to float, defaulting to 0")
			amount = 0.0
		}

	case KindPerItemConditional:
		count, _ := payload.Number(policy.CountField)
		amount = count * policy.ValuePerItem
		description = fmt.Sprintf("%s found %g items, value %.2f USD.", taskType, count, amount)

	case KindCountOnly:
		amount = 0.0
		description = fmt.Sprintf("Processed %s task (operational).", taskType)
	}

	return Result{
		AmountUSD:   amount,
		Category:    policy.Category,
		Description: description,
	}
}
