package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/keel/internal/models"
)

func TestMergeMonthlyCarriesNAVForward(t *testing.T) {
	a := []models.MonthlyNavPoint{
		{Period: "2025-01", NAV: 100, ExternalFlow: 10},
		{Period: "2025-03", NAV: 120},
	}
	b := []models.MonthlyNavPoint{
		{Period: "2025-02", NAV: 50, ExternalFlow: 50},
	}

	merged := mergeMonthly([][]models.MonthlyNavPoint{a, b})
	require.Len(t, merged, 3)

	assert.Equal(t, models.MonthlyNavPoint{Period: "2025-01", NAV: 100, ExternalFlow: 10}, merged[0])
	// January's NAV carries into February for source A; B contributes its own.
	assert.Equal(t, models.MonthlyNavPoint{Period: "2025-02", NAV: 150, ExternalFlow: 50}, merged[1])
	assert.Equal(t, models.MonthlyNavPoint{Period: "2025-03", NAV: 170, ExternalFlow: 0}, merged[2])
}

func TestMergeMonthlyEmpty(t *testing.T) {
	assert.Nil(t, mergeMonthly(nil))
	assert.Nil(t, mergeMonthly([][]models.MonthlyNavPoint{nil, nil}))
}

func TestAggregateInheritsEstimatedNAV(t *testing.T) {
	svc := newTestEngine(100)

	track := models.TrackSeries{
		StartNAV: 1000, EndNAV: 1000,
		MonthlyReturns: []models.MonthlyNavPoint{{Period: "2025-01", NAV: 1000}},
	}
	clean := models.PerformanceResult{
		Source: "schwab", CoveragePct: 100, Reliable: true,
		SyntheticEnhanced: track, ObservedOnly: track,
	}
	estimated := clean
	estimated.Source = "stake"
	estimated.Reliable = false
	estimated.DataQualityFlags = []string{models.FlagEstimatedNAV}

	combined := svc.aggregate("run", []models.PerformanceResult{clean, estimated}, engineWindow)
	assert.False(t, combined.Reliable, "an estimated constituent NAV must propagate")
	assert.Contains(t, combined.ReliabilityNote, "estimated")

	combined = svc.aggregate("run", []models.PerformanceResult{clean, clean}, engineWindow)
	assert.True(t, combined.Reliable)
}

func TestPrependBaseline(t *testing.T) {
	points := []models.MonthlyNavPoint{{Period: "2025-01", NAV: 100}}

	withBase := prependBaseline(points, 40)
	require.Len(t, withBase, 2)
	assert.Equal(t, "inception", withBase[0].Period)
	assert.Equal(t, 40.0, withBase[0].NAV)

	assert.Empty(t, prependBaseline(nil, 40))
}
