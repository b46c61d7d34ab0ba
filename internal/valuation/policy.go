// Package valuation converts raw agent task results into monetary values.
// A static policy table maps each agent/task type to a value-extraction
// rule; the calculator applies the rule to the result payload.
package valuation

// Category classifies where a task's value is counted. Crypto and fiat
// contribute to the daily grand total; operational and unknown are
// occurrence-only.
type Category string

const (
	CategoryCrypto      Category = "crypto"
	CategoryFiat        Category = "fiat"
	CategoryOperational Category = "operational"
	CategoryUnknown     Category = "unknown"
)

// PolicyKind selects how a policy extracts value from a task result.
type PolicyKind string

const (
	// KindPerItem awards a fixed amount per completed task.
	KindPerItem PolicyKind = "per_item"
	// KindPayloadField reads the amount from a named payload field,
	// falling back to a configured default when absent or non-numeric.
	KindPayloadField PolicyKind = "payload_field"
	// KindPerItemConditional multiplies a payload count field by a
	// per-item rate.
	KindPerItemConditional PolicyKind = "per_item_conditional"
	// KindCountOnly tracks an occurrence with no monetary value.
	KindCountOnly PolicyKind = "count_only"
)

// Policy is a single value-extraction rule keyed by task type.
type Policy struct {
	Kind         PolicyKind
	Category     Category
	Value        float64 // per_item: fixed amount
	Field        string  // payload_field: field name
	Default      float64 // payload_field: fallback amount
	CountField   string  // per_item_conditional: count field name
	ValuePerItem float64 // per_item_conditional: rate per counted item
}

// Table maps task types to policies. Lookups never fail: task types not
// present resolve to a count-only/unknown policy.
type Table map[string]Policy

// defaultPolicy is returned for any task type absent from the table.
var defaultPolicy = Policy{Kind: KindCountOnly, Category: CategoryUnknown}

// Resolve returns the policy for a task type, or the count-only/unknown
// default when the type is not listed.
func (t Table) Resolve(taskType string) Policy {
	if p, ok := t[taskType]; ok {
		return p
	}
	return defaultPolicy
}

// DefaultTable returns the production value-estimation table.
func DefaultTable() Table {
	return Table{
		// Crypto agents report realized P&L directly in their payloads.
		"crypto-trading-agent":     {Kind: KindPayloadField, Field: "pnl_usdt", Default: 0.0, Category: CategoryCrypto},
		"memecoin-detector-agent":  {Kind: KindPayloadField, Field: "pnl_usdt", Default: 0.0, Category: CategoryCrypto},
		"defi-yield-farming-agent": {Kind: KindPayloadField, Field: "pnl_usdt", Default: 0.0, Category: CategoryCrypto},
		"pionex-trader-usdt-v1":    {Kind: KindPayloadField, Field: "pnl_usdt", Default: 0.0, Category: CategoryCrypto},

		// Fiat / estimated value agents.
		"github_arbitrage":          {Kind: KindPerItem, Value: 125.0, Category: CategoryFiat},
		"github-arbitrage-agent":    {Kind: KindPayloadField, Field: "value_score", Default: 0.0, Category: CategoryFiat},
		"ai_wrapper_factory":        {Kind: KindPerItem, Value: 1250.0, Category: CategoryFiat},
		"api-wrapper-factory-agent": {Kind: KindPayloadField, Field: "value_score", Default: 0.0, Category: CategoryFiat},
		"saas_template_mill":        {Kind: KindPerItem, Value: 6000.0, Category: CategoryFiat},
		"automation_broker":         {Kind: KindPerItem, Value: 2750.0, Category: CategoryFiat},
		"influencer_farm":           {Kind: KindPayloadField, Field: "revenue_generated_usd", Default: 0.0, Category: CategoryFiat},
		"course_generator":          {Kind: KindPayloadField, Field: "course_sale_value_usd", Default: 0.0, Category: CategoryFiat},
		"patent_scraper":            {Kind: KindPerItemConditional, CountField: "valuable_patents_found_count", ValuePerItem: 1000.0, Category: CategoryFiat},
		"domain_flipper":            {Kind: KindPayloadField, Field: "profit_usd", Default: 50.0, Category: CategoryFiat},
		"affiliate_army":            {Kind: KindPayloadField, Field: "commission_usd", Default: 0.0, Category: CategoryFiat},
		"lead_magnet_factory":       {Kind: KindPerItem, Value: 200.0, Category: CategoryFiat},
		"ai_copywriter_swarm":       {Kind: KindPerItem, Value: 50.0, Category: CategoryFiat},
		"content-generation-agent":  {Kind: KindPayloadField, Field: "estimated_value_usd", Default: 10.0, Category: CategoryFiat},
		"price_scraper_network":     {Kind: KindPayloadField, Field: "savings_found_usd", Default: 0.0, Category: CategoryFiat},
		"startup_idea_generator":    {Kind: KindPerItemConditional, CountField: "validated_ideas_count", ValuePerItem: 100.0, Category: CategoryFiat},

		// Operational agents: value captured downstream, counted only.
		"harvest":                  {Kind: KindCountOnly, Category: CategoryOperational},
		"self_healing":             {Kind: KindCountOnly, Category: CategoryOperational},
		"performance_optimization": {Kind: KindCountOnly, Category: CategoryOperational},
		"financial_management":     {Kind: KindCountOnly, Category: CategoryOperational},
	}
}
