package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/keel/internal/common"
	"github.com/bobmcallan/keel/internal/models"
	"github.com/bobmcallan/keel/internal/services/attribution"
	"github.com/bobmcallan/keel/internal/services/cashflow"
	"github.com/bobmcallan/keel/internal/services/normalize"
	"github.com/bobmcallan/keel/internal/services/returns"
	"github.com/bobmcallan/keel/internal/services/timeline"
)

// stubPriceClient serves one flat price for every symbol.
type stubPriceClient struct {
	price float64
}

func (s *stubPriceClient) ClosingPrice(ctx context.Context, symbol string, date time.Time) (float64, error) {
	return s.price, nil
}

func (s *stubPriceClient) ClosingPrices(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	return models.PriceSeries{{Date: from, Close: s.price}}, nil
}

func newTestEngine(price float64) *Service {
	logger := common.NewSilentLogger()
	cfg := common.NewDefaultConfig()
	return NewService(
		cfg,
		normalize.NewService(cfg.BaseCurrency, logger),
		attribution.NewService(cfg.Engine.AmountTolerance, logger),
		cashflow.NewService(cfg.Engine.AmountTolerance, logger),
		timeline.NewService(logger),
		returns.NewCalculator(logger),
		&stubPriceClient{price: price},
		logger,
	)
}

func f(v float64) *float64 { return &v }

var engineWindow = models.Window{
	Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
}

func nativeBatch(sourceID, account string) models.SourceBatch {
	return models.SourceBatch{
		Source: models.Source{
			ID:        sourceID,
			Kind:      models.SourceNative,
			UpdatedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		Account: account,
		Rows: []models.RawRow{
			{Kind: "TRANSFER", Timestamp: "2025-01-02T00:00:00Z", Amount: f(10000)},
			{Symbol: "AAPL", Kind: "BUY", Timestamp: "2025-01-10T14:30:00Z",
				Quantity: f(50), Price: f(100), Amount: f(-5000)},
		},
	}
}

func request(source string, batches ...models.SourceBatch) models.AnalysisRequest {
	var holdings []models.HoldingsSnapshot
	seen := map[string]bool{}
	for _, b := range batches {
		if !seen[b.Account] {
			seen[b.Account] = true
			holdings = append(holdings, models.HoldingsSnapshot{
				Account:  b.Account,
				AsOf:     engineWindow.End,
				Quantity: map[string]float64{"AAPL": 50},
			})
		}
	}
	return models.AnalysisRequest{
		Mode:     models.ModeRealized,
		Source:   source,
		Window:   engineWindow,
		Batches:  batches,
		Holdings: holdings,
	}
}

func TestAnalyzeSingleSource(t *testing.T) {
	svc := newTestEngine(110)

	report, err := svc.Analyze(context.Background(), request("all", nativeBatch("schwab", "IRA-001")))
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.NotEmpty(t, report.RunID)
	assert.Nil(t, report.Consolidated, "single pipeline needs no consolidated view")

	result := report.Results[0]
	assert.Equal(t, "schwab", result.Source)
	assert.Equal(t, "IRA-001", result.Account)
	assert.Equal(t, report.RunID, result.RunID)
	// 50 units bought at 100, priced at 110: a 10% gain on 5000 invested
	// alongside 5000 idle cash.
	assert.InDelta(t, 5.0, result.CumulativeReturnPct, 0.1)
	assert.True(t, result.Reliable)
}

func TestAnalyzeRequestValidation(t *testing.T) {
	svc := newTestEngine(100)
	ctx := context.Background()

	_, err := svc.Analyze(ctx, models.AnalysisRequest{Mode: "forecast", Window: engineWindow})
	assert.ErrorContains(t, err, "unsupported analysis mode")

	bad := request("all", nativeBatch("schwab", "IRA-001"))
	bad.Window = models.Window{Start: engineWindow.End, End: engineWindow.Start}
	_, err = svc.Analyze(ctx, bad)
	assert.ErrorContains(t, err, "window end precedes start")

	_, err = svc.Analyze(ctx, request("fidelity", nativeBatch("schwab", "IRA-001")))
	assert.ErrorContains(t, err, `source "fidelity" not present`)
}

func TestAnalyzeCrossSourceMirrorDropped(t *testing.T) {
	svc := newTestEngine(110)

	native := nativeBatch("schwab", "IRA-001")
	mirror := nativeBatch("sharesight", "IRA-001")
	mirror.Source.Kind = models.SourceAggregator
	mirror.Source.UpdatedAt = time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)

	report, err := svc.Analyze(context.Background(), request("all", native, mirror))
	require.NoError(t, err)

	// The aggregator batch mirrors the native one row for row; after
	// attribution only the native pipeline has canonical transactions.
	require.Len(t, report.Results, 1)
	assert.Equal(t, "schwab", report.Results[0].Source)
}

func TestAnalyzeConsolidatedAcrossAccounts(t *testing.T) {
	svc := newTestEngine(110)

	report, err := svc.Analyze(context.Background(), request("all",
		nativeBatch("schwab", "IRA-001"),
		nativeBatch("stake", "TRADE-002"),
	))
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	// Deterministic ordering by source id.
	assert.Equal(t, "schwab", report.Results[0].Source)
	assert.Equal(t, "stake", report.Results[1].Source)

	require.NotNil(t, report.Consolidated)
	consolidated := report.Consolidated
	assert.Equal(t, "all", consolidated.Source)
	// Identical pipelines: the summed view returns the same percentage, and
	// the combined NAV is the sum of the parts.
	assert.InDelta(t, report.Results[0].CumulativeReturnPct, consolidated.CumulativeReturnPct, 0.2)
	assert.InDelta(t,
		report.Results[0].SyntheticEnhanced.EndNAV+report.Results[1].SyntheticEnhanced.EndNAV,
		consolidated.SyntheticEnhanced.EndNAV, 0.01)
}

func TestAnalyzeSpecificSourceSkipsConsolidation(t *testing.T) {
	svc := newTestEngine(110)

	report, err := svc.Analyze(context.Background(), request("schwab",
		nativeBatch("schwab", "IRA-001"),
		nativeBatch("stake", "TRADE-002"),
	))
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "schwab", report.Results[0].Source)
	assert.Nil(t, report.Consolidated)
}

func TestAnalyzeRepeatedRunsAgree(t *testing.T) {
	svc := newTestEngine(110)
	req := request("all", nativeBatch("schwab", "IRA-001"), nativeBatch("stake", "TRADE-002"))

	a, err := svc.Analyze(context.Background(), req)
	require.NoError(t, err)
	b, err := svc.Analyze(context.Background(), req)
	require.NoError(t, err)

	// Everything except run identity must be byte-identical across runs.
	require.Equal(t, len(a.Results), len(b.Results))
	for i := range a.Results {
		ra, rb := a.Results[i], b.Results[i]
		ra.RunID, rb.RunID = "", ""
		assert.Equal(t, ra, rb)
	}
}
