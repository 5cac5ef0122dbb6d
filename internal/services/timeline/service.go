// Package timeline reconstructs, per (account, symbol), a continuous
// holding-quantity series covering the analysis window.
//
// When transaction history does not reach far enough back, an opening
// position is synthesized at the global inception date, not at the first
// observed event, so unexplained value is spread across the whole window
// instead of landing as a single-month NAV shock. Orphan exits that net to
// zero get a compensating entry one instant before the sell instead.
package timeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/keel/internal/common"
	"github.com/bobmcallan/keel/internal/interfaces"
	"github.com/bobmcallan/keel/internal/models"
)

// Compile-time interface check
var _ interfaces.TimelineService = (*Service)(nil)

// Service implements TimelineService
type Service struct {
	logger *common.Logger
}

// NewService creates a new timeline service
func NewService(logger *common.Logger) *Service {
	return &Service{logger: logger}
}

// ReconciliationError reports a replayed end quantity that does not match the
// broker's current-holdings snapshot. The symbol's synthetic data is excluded
// from the observed-only track but kept, flagged, in the enhanced track.
type ReconciliationError struct {
	Account string
	Symbol  string
	Want    decimal.Decimal
	Got     decimal.Decimal
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("timeline reconciliation failed for %s/%s: holdings report %s, replay ends at %s",
		e.Account, e.Symbol, e.Want, e.Got)
}

// symbolReplay accumulates observed trade legs for one symbol during Build.
type symbolReplay struct {
	symbol       string
	entries      []models.PositionTimelineEntry
	isDerivative bool
	// running state of the observed series
	running      decimal.Decimal
	minRunning   decimal.Decimal
	deficitAt    time.Time // when the series first went negative
	deficitPrice float64   // trade price at that moment, hint for synthetics
	firstPrice   float64   // earliest observed trade price, hint for openings
}

func (r *symbolReplay) apply(tx models.Transaction) {
	qty := decimal.NewFromFloat(tx.Quantity)
	if tx.Kind == models.EventSell {
		qty = qty.Neg()
	}
	r.entries = append(r.entries, models.PositionTimelineEntry{
		Timestamp:  tx.Timestamp,
		Delta:      qty,
		Provenance: models.ProvenanceObserved,
	})
	if r.firstPrice == 0 && tx.Price > 0 {
		r.firstPrice = tx.Price
	}
	r.running = r.running.Add(qty)
	if r.running.LessThan(r.minRunning) {
		r.minRunning = r.running
		if r.deficitAt.IsZero() {
			r.deficitAt = tx.Timestamp
			r.deficitPrice = tx.Price
		}
	}
	if tx.IsDerivative {
		r.isDerivative = true
	}
}

// Build replays observed trade legs into per-symbol timelines, synthesizing
// entries where history is incomplete, and reconciles each series against the
// holdings snapshot.
func (s *Service) Build(txns []models.Transaction, holdings models.HoldingsSnapshot, window models.Window) models.TimelineResult {
	ordered := make([]models.Transaction, 0, len(txns))
	for _, tx := range txns {
		if tx.IsTradeLeg() && tx.Symbol != "" {
			ordered = append(ordered, tx)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	replays := map[string]*symbolReplay{}
	var symbols []string
	for _, tx := range ordered {
		r, ok := replays[tx.Symbol]
		if !ok {
			r = &symbolReplay{symbol: tx.Symbol}
			replays[tx.Symbol] = r
			symbols = append(symbols, tx.Symbol)
		}
		r.apply(tx)
	}

	// Symbols the broker says are held but that never appear in history need
	// a synthesized opening for their full quantity.
	for sym := range holdings.Quantity {
		if _, ok := replays[sym]; !ok && holdings.Quantity[sym] != 0 {
			replays[sym] = &symbolReplay{symbol: sym}
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	result := models.TimelineResult{Account: holdings.Account}

	for _, sym := range symbols {
		r := replays[sym]
		tl := s.buildSymbol(r, holdings, window)
		result.SyntheticEntryCount += tl.SyntheticCount()
		result.Timelines = append(result.Timelines, tl)
	}

	s.logger.Debug().Str("account", holdings.Account).Int("symbols", len(symbols)).
		Int("synthetic_entries", result.SyntheticEntryCount).Msg("Position timelines built")

	return result
}

// buildSymbol finishes one symbol's timeline: synthesis, ordering and
// reconciliation.
func (s *Service) buildSymbol(r *symbolReplay, holdings models.HoldingsSnapshot, window models.Window) models.SymbolTimeline {
	tl := models.SymbolTimeline{
		Account:      holdings.Account,
		Symbol:       r.symbol,
		Entries:      r.entries,
		Reconciled:   true,
		IsDerivative: r.isDerivative,
	}

	target := decimal.NewFromFloat(holdings.Quantity[r.symbol])
	net := r.running
	shortfall := r.minRunning.Neg() // units the observed series oversold
	if shortfall.IsNegative() {
		shortfall = decimal.Zero
	}

	switch {
	case shortfall.IsPositive() && target.IsZero() && net.Add(shortfall).IsZero():
		// Orphan exit: a sell with no matching prior buy that closes flat.
		// Compensate one instant before the sell so the position nets to
		// zero by period end without injecting unexplained notional.
		at := r.deficitAt.Add(-time.Second)
		tl.Entries = append(tl.Entries, models.PositionTimelineEntry{
			Timestamp:  at,
			Delta:      shortfall,
			Provenance: models.ProvenanceSyntheticCompensating,
			PriceHint:  r.deficitPrice,
		})
		s.logger.Info().Str("symbol", r.symbol).Str("units", shortfall.String()).
			Time("at", at).Msg("Compensating entry injected for orphan exit")

	default:
		// Opening sized so the series ends exactly at current known holdings,
		// backdated to the analysis inception date. Reconciliation wins over
		// interim negativity: a series that still dips below zero is flagged
		// as an undeclared short rather than padded with extra units.
		open := target.Sub(net)
		if open.IsPositive() {
			tl.Entries = append(tl.Entries, models.PositionTimelineEntry{
				Timestamp:  window.Start,
				Delta:      open,
				Provenance: models.ProvenanceSyntheticOpening,
				PriceHint:  openingHint(r),
			})
			s.logger.Info().Str("symbol", r.symbol).Str("units", open.String()).
				Time("inception", window.Start).Msg("Opening position synthesized")
		}
	}

	sort.SliceStable(tl.Entries, func(i, j int) bool {
		return tl.Entries[i].Timestamp.Before(tl.Entries[j].Timestamp)
	})

	// The finished series must reconcile exactly with current holdings.
	end := tl.EndQuantity()
	if !end.Equal(target) {
		err := &ReconciliationError{Account: holdings.Account, Symbol: r.symbol, Want: target, Got: end}
		s.logger.Error().Err(err).Msg("Timeline reconciliation failed")
		tl.Reconciled = false
	}

	// A series that dips below zero holds an implicit short the feed never
	// declared.
	running := decimal.Zero
	for _, e := range tl.Entries {
		running = running.Add(e.Delta)
		if running.IsNegative() {
			tl.ShortFlagged = true
			break
		}
	}

	return tl
}

// openingHint picks a price hint for a synthesized opening: the earliest
// observed trade price, falling back to the deficit sell price. Using an exit
// price as a proxy for inception value is a documented approximation.
func openingHint(r *symbolReplay) float64 {
	if r.firstPrice > 0 {
		return r.firstPrice
	}
	return r.deficitPrice
}
