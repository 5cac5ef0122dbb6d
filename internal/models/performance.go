package models

import (
	"sort"
	"time"
)

// Track names one of the two result series every calculation produces.
type Track string

const (
	// TrackSyntheticEnhanced values synthesized openings and price hints.
	TrackSyntheticEnhanced Track = "synthetic_enhanced"
	// TrackObservedOnly recognizes only value backed by observed transactions
	// or priced holdings. Its NAV is a strict subset of the enhanced track.
	TrackObservedOnly Track = "observed_only"
)

// MonthlyNavPoint is one period in a monthly return series.
type MonthlyNavPoint struct {
	Period       string  `json:"period"` // "2006-01"
	ReturnPct    float64 `json:"return_pct"`
	NAV          float64 `json:"nav"` // value at period end
	ExternalFlow float64 `json:"external_flow"`
}

// TrackSeries holds the chain-linked figures for one track.
type TrackSeries struct {
	CumulativeReturnPct float64           `json:"cumulative_return_pct"`
	AnnualizedReturnPct float64           `json:"annualized_return_pct"`
	MonthlyReturns      []MonthlyNavPoint `json:"monthly_returns"`
	StartNAV            float64           `json:"start_nav"`
	EndNAV              float64           `json:"end_nav"`
}

// PerformanceResult is the output contract for one source/account pipeline
// (or the consolidated all-sources view).
type PerformanceResult struct {
	RunID   string `json:"run_id"`
	Source  string `json:"source"` // source id or "all"
	Account string `json:"account,omitempty"`

	// HeadlineTrack is the track headline metrics are taken from. It is a
	// pure function of the computed metrics for this request, carried on the
	// result rather than held in package state.
	HeadlineTrack Track `json:"headline_track"`

	CumulativeReturnPct float64 `json:"cumulative_return_pct"`
	AnnualizedReturnPct float64 `json:"annualized_return_pct"`
	XIRRAnnualizedPct   float64 `json:"xirr_annualized_pct,omitempty"`

	SyntheticEnhanced TrackSeries `json:"synthetic_enhanced"`
	ObservedOnly      TrackSeries `json:"observed_only"`

	CoveragePct  float64 `json:"coverage_pct"`
	SyntheticPct float64 `json:"synthetic_pct"` // synthetic market value / total, 0..100

	Reliable        bool   `json:"reliable"`
	ReliabilityNote string `json:"reliability_note,omitempty"`

	DataQualityFlags []string `json:"data_quality_flags,omitempty"`

	FuturesNotionalSuppressed int `json:"futures_notional_suppressed"`
	IncomeOverlapDropped      int `json:"income_overlap_dropped_count"`
	SyntheticEntryCount       int `json:"synthetic_entry_count"`

	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// AnalysisMode selects what the engine computes. Only realized performance is
// supported.
type AnalysisMode string

const ModeRealized AnalysisMode = "realized"

// OutputFormat selects how results are rendered by the CLI.
type OutputFormat string

const (
	FormatDiagnostic OutputFormat = "diagnostic" // machine-readable JSON
	FormatAgent      OutputFormat = "agent"      // agent-facing text summary
)

// AnalysisRequest configures one engine run.
type AnalysisRequest struct {
	Mode     AnalysisMode       `json:"mode"`
	Source   string             `json:"source"` // specific source id or "all"
	Window   Window             `json:"window"`
	Batches  []SourceBatch      `json:"batches"`
	Holdings []HoldingsSnapshot `json:"holdings"`
}

// AnalysisReport is the engine output: one result per contributing pipeline
// plus the consolidated view when all sources were requested.
type AnalysisReport struct {
	RunID        string              `json:"run_id"`
	GeneratedAt  time.Time           `json:"generated_at"`
	Results      []PerformanceResult `json:"results"`
	Consolidated *PerformanceResult  `json:"consolidated,omitempty"`
}

// PricePoint is one closing price observation.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// PriceSeries is a date-ascending series of closing prices for one symbol.
type PriceSeries []PricePoint

// AsOf returns the last close on or before date, and whether one exists.
func (s PriceSeries) AsOf(date time.Time) (float64, bool) {
	idx := sort.Search(len(s), func(i int) bool { return s[i].Date.After(date) })
	if idx == 0 {
		return 0, false
	}
	return s[idx-1].Close, true
}

// PriceBook maps symbols to their price series for a window.
type PriceBook map[string]PriceSeries
