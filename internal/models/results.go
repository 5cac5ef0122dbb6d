package models

// Discard reason codes attached by the normalizer. Discards are logged, not
// silently dropped.
const (
	DiscardUnknownSymbol = "UNKNOWN_SYMBOL"
	DiscardFXConversion  = "FX_CONVERSION"
	DiscardMalformed     = "MALFORMED_ROW"
)

// DiscardedRow records one excluded raw row and why.
type DiscardedRow struct {
	Row    RawRow `json:"row"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// NormalizeResult is the normalizer output for one source batch.
type NormalizeResult struct {
	Transactions []Transaction  `json:"transactions"`
	Discards     []DiscardedRow `json:"discards,omitempty"`
}

// Data quality flag values surfaced on PerformanceResult.
const (
	FlagAmbiguousDuplicate  = "ambiguous_cross_source_duplicate_retained"
	FlagPriceHintUsed       = "price_hint_fallback_used"
	FlagReconciliationError = "timeline_reconciliation_failed"
	FlagShortPosition       = "unflagged_short_position"
	FlagEstimatedNAV        = "nav_estimated"
)

// AttributionResult is the resolver output: the canonical transaction set
// after cross-source ownership is decided.
type AttributionResult struct {
	Transactions []Transaction `json:"transactions"`
	// MirrorsDropped counts aggregator rows exempted as mirrors of a native
	// row rather than independent exposure.
	MirrorsDropped int      `json:"mirrors_dropped"`
	Flags          []string `json:"flags,omitempty"`
}

// ReturnInput carries everything the return calculator needs for one
// pipeline. Thresholds are passed explicitly so track selection stays a pure
// function of the request.
type ReturnInput struct {
	RunID    string
	SourceID string
	Account  string
	Window   Window

	Timeline TimelineResult
	Flows    CashFlowResult
	Prices   PriceBook

	// Flags accumulated upstream (attribution, timeline, pricing).
	Flags []string

	SensitivityUSD    float64 // synthetic dollar impact gate
	MinCoveragePct    float64 // reliability floor, inclusive
	MaxSyntheticShare float64 // reliability ceiling on synthetic share, 0..1
}
