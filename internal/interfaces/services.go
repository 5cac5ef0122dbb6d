// Package interfaces defines service contracts for Keel
package interfaces

import (
	"context"

	"github.com/bobmcallan/keel/internal/models"
)

// NormalizeService turns raw per-source rows into normalized transactions.
type NormalizeService interface {
	// Normalize validates and tags every row in the batch. Malformed rows are
	// skipped with a discard record; they never fail the batch.
	Normalize(batch models.SourceBatch) models.NormalizeResult
}

// AttributionService decides event ownership across overlapping sources.
type AttributionService interface {
	// Resolve assigns one owner per economic event. Native feeds win over
	// aggregator mirrors; ambiguous ties retain both and raise a quality flag.
	Resolve(txns []models.Transaction) models.AttributionResult
}

// CashFlowService classifies settlement-affecting events into external and
// internal flows.
type CashFlowService interface {
	// Derive computes cash impact per event with futures notional suppressed
	// to the fee component, deduplicates income overlaps, and infers missing
	// external flows when no derivative position is open.
	Derive(txns []models.Transaction) models.CashFlowResult
}

// TimelineService reconstructs continuous holding-quantity series.
type TimelineService interface {
	// Build replays transactions per (account, symbol), synthesizing opening
	// or compensating entries where history is incomplete, and reconciles the
	// end state against the holdings snapshot.
	Build(txns []models.Transaction, holdings models.HoldingsSnapshot, window models.Window) models.TimelineResult
}

// ReturnService produces the per-track NAV and return series with the
// reliability verdict attached.
type ReturnService interface {
	// Compute values the timeline against prices and flows, chain-links GIPS
	// beginning-of-day Modified Dietz sub-period returns, and applies the
	// sensitivity and reliability gates.
	Compute(input models.ReturnInput) *models.PerformanceResult

	// ComputeFromMonthly chain-links an already-aggregated monthly NAV/flow
	// series; used for the consolidated all-sources view.
	ComputeFromMonthly(points []models.MonthlyNavPoint, window models.Window) models.TrackSeries
}

// EngineService runs the full pipeline per source/account and aggregates.
type EngineService interface {
	// Analyze executes normalize → attribute → derive → build → compute for
	// every contributing source/account concurrently, then merges monthly
	// series into a consolidated view when all sources are requested.
	Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisReport, error)
}
