package returns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bobmcallan/keel/internal/models"
)

func TestComputeXIRRSingleContribution(t *testing.T) {
	window := models.Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	flows := models.CashFlowResult{Events: []models.CashFlowEvent{
		{Class: models.FlowExternal, Date: window.Start, Amount: 10000, Kind: models.EventTransfer},
	}}

	// 10,000 grows to 11,000 over one year: roughly 10% money-weighted.
	rate := computeXIRR(flows, 11000, window)
	assert.InDelta(t, 10.0, rate, 0.5)
}

func TestComputeXIRRStaggeredContributions(t *testing.T) {
	window := models.Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	flows := models.CashFlowResult{Events: []models.CashFlowEvent{
		{Class: models.FlowExternal, Date: window.Start, Amount: 10000},
		{Class: models.FlowExternal, Date: window.Start.AddDate(0, 6, 0), Amount: 10000},
	}}

	// Second tranche is invested for half the period, so the rate exceeds the
	// naive 5% simple return on 20,000.
	rate := computeXIRR(flows, 21000, window)
	assert.Greater(t, rate, 5.0)
	assert.Less(t, rate, 10.0)
}

func TestComputeXIRRLoss(t *testing.T) {
	window := models.Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	flows := models.CashFlowResult{Events: []models.CashFlowEvent{
		{Class: models.FlowExternal, Date: window.Start, Amount: 10000},
	}}

	rate := computeXIRR(flows, 9000, window)
	assert.InDelta(t, -10.0, rate, 0.5)
}

func TestComputeXIRRDegenerateInputs(t *testing.T) {
	window := models.Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	// No external flows at all.
	assert.Equal(t, 0.0, computeXIRR(models.CashFlowResult{}, 10000, window))

	// Contribution with nothing coming back: no sign change, no rate.
	flows := models.CashFlowResult{Events: []models.CashFlowEvent{
		{Class: models.FlowExternal, Date: window.Start, Amount: 10000},
	}}
	assert.Equal(t, 0.0, computeXIRR(flows, 0, window))

	// Internal flows are ignored entirely.
	internal := models.CashFlowResult{Events: []models.CashFlowEvent{
		{Class: models.FlowInternal, Date: window.Start, Amount: -5000},
	}}
	assert.Equal(t, 0.0, computeXIRR(internal, 10000, window))
}
