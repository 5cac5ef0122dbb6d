package timeline

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/keel/internal/common"
	"github.com/bobmcallan/keel/internal/models"
)

var testWindow = models.Window{
	Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
}

func trade(kind models.EventKind, symbol string, qty, price float64, ts time.Time) models.Transaction {
	return models.Transaction{
		SourceID:  "schwab",
		Account:   "IRA-001",
		Symbol:    symbol,
		Kind:      kind,
		Timestamp: ts,
		Quantity:  qty,
		Price:     price,
	}
}

func snapshot(quantities map[string]float64) models.HoldingsSnapshot {
	return models.HoldingsSnapshot{
		Account:  "IRA-001",
		AsOf:     testWindow.End,
		Quantity: quantities,
	}
}

func findTimeline(t *testing.T, result models.TimelineResult, symbol string) models.SymbolTimeline {
	t.Helper()
	for _, tl := range result.Timelines {
		if tl.Symbol == symbol {
			return tl
		}
	}
	t.Fatalf("no timeline for %s", symbol)
	return models.SymbolTimeline{}
}

func TestBuildObservedOnly(t *testing.T) {
	svc := NewService(common.NewSilentLogger())

	buyAt := time.Date(2025, 2, 10, 14, 0, 0, 0, time.UTC)
	result := svc.Build([]models.Transaction{
		trade(models.EventBuy, "AAPL", 10, 150, buyAt),
	}, snapshot(map[string]float64{"AAPL": 10}), testWindow)

	tl := findTimeline(t, result, "AAPL")
	require.Len(t, tl.Entries, 1)
	assert.True(t, tl.Reconciled)
	assert.Equal(t, 0, tl.SyntheticCount())
	assert.True(t, tl.QuantityAt(buyAt).Equal(decimal.NewFromInt(10)))
	assert.True(t, tl.QuantityAt(buyAt.Add(-time.Hour)).IsZero())
}

func TestBuildCompensatingEntryForOrphanSell(t *testing.T) {
	svc := NewService(common.NewSilentLogger())

	// A sell of 100 units with no prior buy, position flat afterwards. The
	// synthesized entry lands one second before the sell, not at inception.
	sellAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	result := svc.Build([]models.Transaction{
		trade(models.EventSell, "VAS", 100, 85.20, sellAt),
	}, snapshot(map[string]float64{}), testWindow)

	tl := findTimeline(t, result, "VAS")
	require.Len(t, tl.Entries, 2)

	comp := tl.Entries[0]
	assert.Equal(t, models.ProvenanceSyntheticCompensating, comp.Provenance)
	assert.Equal(t, time.Date(2025, 2, 28, 23, 59, 59, 0, time.UTC), comp.Timestamp)
	assert.True(t, comp.Delta.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 85.20, comp.PriceHint)

	assert.True(t, tl.Reconciled)
	assert.True(t, tl.EndQuantity().IsZero())
	assert.Equal(t, 1, result.SyntheticEntryCount)
}

func TestBuildOpeningAtInceptionForHeldPosition(t *testing.T) {
	svc := NewService(common.NewSilentLogger())

	// Holdings report 50 units the history never explains: synthesize the
	// opening at the window start so the value spreads across the window.
	sellAt := time.Date(2025, 4, 15, 10, 0, 0, 0, time.UTC)
	result := svc.Build([]models.Transaction{
		trade(models.EventSell, "MSFT", 20, 410, sellAt),
	}, snapshot(map[string]float64{"MSFT": 50}), testWindow)

	tl := findTimeline(t, result, "MSFT")
	require.Len(t, tl.Entries, 2)

	open := tl.Entries[0]
	assert.Equal(t, models.ProvenanceSyntheticOpening, open.Provenance)
	assert.Equal(t, testWindow.Start, open.Timestamp)
	assert.True(t, open.Delta.Equal(decimal.NewFromInt(70)), "opening covers sell plus current holdings")

	assert.True(t, tl.Reconciled)
	assert.True(t, tl.EndQuantity().Equal(decimal.NewFromInt(50)))
}

func TestBuildHoldingsOnlySymbol(t *testing.T) {
	svc := NewService(common.NewSilentLogger())

	// Never traded in the window but currently held: full opening at inception.
	result := svc.Build(nil, snapshot(map[string]float64{"VGS": 30}), testWindow)

	tl := findTimeline(t, result, "VGS")
	require.Len(t, tl.Entries, 1)
	assert.Equal(t, models.ProvenanceSyntheticOpening, tl.Entries[0].Provenance)
	assert.True(t, tl.EndQuantity().Equal(decimal.NewFromInt(30)))
	assert.True(t, tl.Reconciled)
}

func TestBuildReconciliationFailure(t *testing.T) {
	svc := NewService(common.NewSilentLogger())

	// Replay ends above reported holdings; no synthetic entry can subtract
	// units, so the series stays unreconciled and is flagged.
	buyAt := time.Date(2025, 2, 10, 14, 0, 0, 0, time.UTC)
	result := svc.Build([]models.Transaction{
		trade(models.EventBuy, "AAPL", 10, 150, buyAt),
	}, snapshot(map[string]float64{"AAPL": 4}), testWindow)

	tl := findTimeline(t, result, "AAPL")
	assert.False(t, tl.Reconciled)
}

func TestBuildShortDetection(t *testing.T) {
	svc := NewService(common.NewSilentLogger())

	// A sell-then-buyback that already nets to reported holdings gets no
	// opening; the interim deficit is an undeclared short.
	sellAt := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	buyAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	result := svc.Build([]models.Transaction{
		trade(models.EventSell, "TSLA", 10, 200, sellAt),
		trade(models.EventBuy, "TSLA", 30, 180, buyAt),
	}, snapshot(map[string]float64{"TSLA": 20}), testWindow)

	tl := findTimeline(t, result, "TSLA")
	assert.True(t, tl.Reconciled)
	assert.True(t, tl.ShortFlagged)

	// An opening large enough to cover the deficit reconciles cleanly and
	// leaves no negative stretch.
	result = svc.Build([]models.Transaction{
		trade(models.EventSell, "TSLA", 10, 200, sellAt),
		trade(models.EventBuy, "TSLA", 10, 180, buyAt),
	}, snapshot(map[string]float64{"TSLA": 20}), testWindow)

	tl = findTimeline(t, result, "TSLA")
	assert.True(t, tl.Reconciled)
	assert.False(t, tl.ShortFlagged)
}

func TestObservedQuantityIgnoresSynthetics(t *testing.T) {
	svc := NewService(common.NewSilentLogger())

	sellAt := time.Date(2025, 4, 15, 10, 0, 0, 0, time.UTC)
	result := svc.Build([]models.Transaction{
		trade(models.EventSell, "MSFT", 20, 410, sellAt),
	}, snapshot(map[string]float64{"MSFT": 50}), testWindow)

	tl := findTimeline(t, result, "MSFT")
	// Enhanced view sees the opening; observed view floors at zero.
	assert.True(t, tl.QuantityAt(sellAt).Equal(decimal.NewFromInt(50)))
	assert.True(t, tl.ObservedQuantityAt(sellAt).IsZero())
}
