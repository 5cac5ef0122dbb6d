package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provenance records how a timeline entry came to exist.
type Provenance string

const (
	// ProvenanceObserved entries are backed by a normalized transaction.
	ProvenanceObserved Provenance = "OBSERVED"
	// ProvenanceSyntheticOpening entries are backdated to the analysis
	// inception date to cover history the feeds never delivered.
	ProvenanceSyntheticOpening Provenance = "SYNTHETIC_OPENING"
	// ProvenanceSyntheticCompensating entries offset an orphan exit so the
	// position nets to zero by period end.
	ProvenanceSyntheticCompensating Provenance = "SYNTHETIC_COMPENSATING"
)

// PositionTimelineEntry is one quantity change for an (account, symbol).
// Quantities are decimal so synthetic netting reconciles exactly.
type PositionTimelineEntry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Delta      decimal.Decimal `json:"delta"` // signed units change
	Provenance Provenance      `json:"provenance"`
	// PriceHint is set only on synthetic entries that could not be priced
	// from market data: the nearest known trade price, a documented
	// approximation.
	PriceHint float64 `json:"price_hint,omitempty"`
}

// IsSynthetic reports whether the entry is not backed by an observed transaction.
func (e PositionTimelineEntry) IsSynthetic() bool {
	return e.Provenance != ProvenanceObserved
}

// SymbolTimeline is the reconstructed holding series for one symbol. Entries
// are sorted by timestamp; quantity is piecewise-constant between entries.
type SymbolTimeline struct {
	Account string                  `json:"account"`
	Symbol  string                  `json:"symbol"`
	Entries []PositionTimelineEntry `json:"entries"`
	// Reconciled is false when the replayed end quantity did not match the
	// holdings snapshot; the symbol is then excluded from the observed-only
	// track and flagged in the synthetic-enhanced track.
	Reconciled bool `json:"reconciled"`
	// ShortFlagged is true when the observed series dips below zero without
	// an explicit short position in the feed.
	ShortFlagged bool `json:"short_flagged,omitempty"`
	IsDerivative bool `json:"is_derivative,omitempty"`
}

// QuantityAt returns the held quantity as of t, including synthetic entries.
func (tl SymbolTimeline) QuantityAt(t time.Time) decimal.Decimal {
	q := decimal.Zero
	for _, e := range tl.Entries {
		if e.Timestamp.After(t) {
			break
		}
		q = q.Add(e.Delta)
	}
	return q
}

// ObservedQuantityAt returns the held quantity as of t counting only observed
// entries, floored at zero: unobserved history cannot justify a short.
func (tl SymbolTimeline) ObservedQuantityAt(t time.Time) decimal.Decimal {
	q := decimal.Zero
	for _, e := range tl.Entries {
		if e.Timestamp.After(t) {
			break
		}
		if e.Provenance != ProvenanceObserved {
			continue
		}
		q = q.Add(e.Delta)
		if q.IsNegative() {
			q = decimal.Zero
		}
	}
	return q
}

// SyntheticCount returns the number of synthetic entries.
func (tl SymbolTimeline) SyntheticCount() int {
	n := 0
	for _, e := range tl.Entries {
		if e.IsSynthetic() {
			n++
		}
	}
	return n
}

// EndQuantity returns the quantity after all entries.
func (tl SymbolTimeline) EndQuantity() decimal.Decimal {
	q := decimal.Zero
	for _, e := range tl.Entries {
		q = q.Add(e.Delta)
	}
	return q
}

// TimelineResult is the position reconstruction output for one account.
type TimelineResult struct {
	Account             string           `json:"account"`
	Timelines           []SymbolTimeline `json:"timelines"`
	SyntheticEntryCount int              `json:"synthetic_entry_count"`
	Diagnostics         []Diagnostic     `json:"diagnostics,omitempty"`
}
