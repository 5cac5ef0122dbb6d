package attribution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/keel/internal/common"
	"github.com/bobmcallan/keel/internal/models"
)

var (
	freshNative     = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	freshAggregator = time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC)
)

func tradeTx(sourceID string, kind models.SourceKind, fresh time.Time, amount float64) models.Transaction {
	return models.Transaction{
		SourceID:    sourceID,
		SourceKind:  kind,
		Account:     "IRA-001",
		Symbol:      "AAPL",
		Kind:        models.EventBuy,
		Timestamp:   time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC),
		BaseAmount:  amount,
		SourceFresh: fresh,
	}
}

func TestResolveNativeWinsOverAggregator(t *testing.T) {
	svc := NewService(0.005, common.NewSilentLogger())

	result := svc.Resolve([]models.Transaction{
		tradeTx("sharesight", models.SourceAggregator, freshAggregator, -1502.50),
		tradeTx("schwab", models.SourceNative, freshNative, -1502.50),
	})

	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "schwab", result.Transactions[0].SourceID)
	assert.Equal(t, 1, result.MirrorsDropped)
	assert.Empty(t, result.Flags)
}

func TestResolveFuzzyAmountMatch(t *testing.T) {
	svc := NewService(0.005, common.NewSilentLogger())

	// Aggregator reports the same fill rounded differently, within 0.5%.
	result := svc.Resolve([]models.Transaction{
		tradeTx("schwab", models.SourceNative, freshNative, -1502.50),
		tradeTx("sharesight", models.SourceAggregator, freshAggregator, -1502.00),
	})

	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "schwab", result.Transactions[0].SourceID)
	assert.Equal(t, 1, result.MirrorsDropped)
}

func TestResolveFresherFeedWins(t *testing.T) {
	svc := NewService(0.005, common.NewSilentLogger())

	// Two aggregator feeds, one stale. Same priority, freshness breaks the tie.
	result := svc.Resolve([]models.Transaction{
		tradeTx("sharesight", models.SourceAggregator, freshAggregator, -1502.50),
		tradeTx("navexa", models.SourceAggregator, freshNative, -1502.50),
	})

	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "navexa", result.Transactions[0].SourceID)
	assert.Equal(t, 1, result.MirrorsDropped)
}

func TestResolveExactDuplicateDropped(t *testing.T) {
	svc := NewService(0.005, common.NewSilentLogger())

	// Same kind and freshness, amounts identical to the cent: a confident
	// duplicate, dropped without an ambiguity flag.
	result := svc.Resolve([]models.Transaction{
		tradeTx("sharesight", models.SourceAggregator, freshAggregator, -1502.50),
		tradeTx("navexa", models.SourceAggregator, freshAggregator, -1502.50),
	})

	require.Len(t, result.Transactions, 1)
	assert.Equal(t, 1, result.MirrorsDropped)
	assert.Empty(t, result.Flags)
}

func TestResolveAmbiguousRetainsBoth(t *testing.T) {
	svc := NewService(0.005, common.NewSilentLogger())

	// Same kind, same freshness, amounts only fuzzily close: no rule decides,
	// both survive and the result is flagged.
	result := svc.Resolve([]models.Transaction{
		tradeTx("sharesight", models.SourceAggregator, freshAggregator, -1502.50),
		tradeTx("navexa", models.SourceAggregator, freshAggregator, -1502.00),
	})

	require.Len(t, result.Transactions, 2)
	assert.Equal(t, 0, result.MirrorsDropped)
	assert.Contains(t, result.Flags, models.FlagAmbiguousDuplicate)
}

func TestResolveDistinctEventsKept(t *testing.T) {
	svc := NewService(0.005, common.NewSilentLogger())

	a := tradeTx("schwab", models.SourceNative, freshNative, -1502.50)
	b := tradeTx("sharesight", models.SourceAggregator, freshAggregator, -3000.00)
	c := tradeTx("sharesight", models.SourceAggregator, freshAggregator, -1502.50)
	c.Timestamp = c.Timestamp.AddDate(0, 0, 1) // different day, different event

	result := svc.Resolve([]models.Transaction{a, b, c})

	assert.Len(t, result.Transactions, 3)
	assert.Equal(t, 0, result.MirrorsDropped)
}

func TestResolveDeterministicOrder(t *testing.T) {
	svc := NewService(0.005, common.NewSilentLogger())

	input := []models.Transaction{
		tradeTx("sharesight", models.SourceAggregator, freshAggregator, -1502.50),
		tradeTx("schwab", models.SourceNative, freshNative, -1502.50),
		tradeTx("schwab", models.SourceNative, freshNative, -99.00),
	}
	// Reversed input must yield the same canonical set.
	reversed := []models.Transaction{input[2], input[1], input[0]}

	a := svc.Resolve(input)
	b := svc.Resolve(reversed)

	require.Equal(t, len(a.Transactions), len(b.Transactions))
	for i := range a.Transactions {
		assert.Equal(t, a.Transactions[i].SourceID, b.Transactions[i].SourceID)
		assert.Equal(t, a.Transactions[i].BaseAmount, b.Transactions[i].BaseAmount)
	}
}

func TestMatchQuality(t *testing.T) {
	svc := NewService(0.005, common.NewSilentLogger())

	tests := []struct {
		a, b float64
		want int
	}{
		{-1502.50, -1502.50, 0},
		{-1502.50, -1502.00, 1},
		{-1502.50, -1600.00, -1},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := svc.matchQuality(tt.a, tt.b); got != tt.want {
			t.Errorf("matchQuality(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
