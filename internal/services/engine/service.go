// Package engine runs the full replay pipeline (normalize, attribute,
// derive, build, compute) once per contributing source/account, and merges
// the results into a consolidated all-sources view.
//
// Pipelines are independent and run concurrently; the aggregator is the sole
// join point. Per-account results are computed independently and merged
// monthly so synthetic backdating in one account cannot contaminate another
// account's timeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/keel/internal/clients/marketdata"
	"github.com/bobmcallan/keel/internal/common"
	"github.com/bobmcallan/keel/internal/interfaces"
	"github.com/bobmcallan/keel/internal/models"
)

// Compile-time interface check
var _ interfaces.EngineService = (*Service)(nil)

// Service implements EngineService
type Service struct {
	config      *common.Config
	normalizer  interfaces.NormalizeService
	attribution interfaces.AttributionService
	cashflows   interfaces.CashFlowService
	timelines   interfaces.TimelineService
	calculator  interfaces.ReturnService
	prices      interfaces.PriceClient // nil when no market data service is configured
	logger      *common.Logger
}

// NewService creates a new engine service
func NewService(
	config *common.Config,
	normalizer interfaces.NormalizeService,
	attribution interfaces.AttributionService,
	cashflows interfaces.CashFlowService,
	timelines interfaces.TimelineService,
	calculator interfaces.ReturnService,
	prices interfaces.PriceClient,
	logger *common.Logger,
) *Service {
	return &Service{
		config:      config,
		normalizer:  normalizer,
		attribution: attribution,
		cashflows:   cashflows,
		timelines:   timelines,
		calculator:  calculator,
		prices:      prices,
		logger:      logger,
	}
}

// pipelineKey identifies one source/account pipeline.
type pipelineKey struct {
	SourceID string
	Account  string
}

// Analyze executes the replay for every contributing source/account and, when
// all sources are requested, aggregates them by summing monthly NAV and
// external flows across sources, never by averaging percentage returns.
func (s *Service) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisReport, error) {
	if req.Mode != "" && req.Mode != models.ModeRealized {
		return nil, fmt.Errorf("unsupported analysis mode %q", req.Mode)
	}
	if req.Window.End.Before(req.Window.Start) {
		return nil, fmt.Errorf("analysis window end precedes start")
	}

	runID := uuid.NewString()
	start := time.Now()

	// Phase 1: normalize every selected batch.
	batches := req.Batches
	if req.Source != "" && req.Source != "all" {
		batches = nil
		for _, b := range req.Batches {
			if b.Source.ID == req.Source {
				batches = append(batches, b)
			}
		}
		if len(batches) == 0 {
			return nil, fmt.Errorf("source %q not present in input", req.Source)
		}
	}

	byAccount := map[string][]models.Transaction{}
	for _, batch := range batches {
		nr := s.normalizer.Normalize(batch)
		byAccount[batch.Account] = append(byAccount[batch.Account], nr.Transactions...)
	}

	// Phase 2: resolve cross-source ownership per account, then split the
	// canonical rows back out per pipeline.
	work := map[pipelineKey][]models.Transaction{}
	flagsByAccount := map[string][]string{}
	var keys []pipelineKey
	for account, txns := range byAccount {
		ar := s.attribution.Resolve(txns)
		flagsByAccount[account] = ar.Flags
		for _, tx := range ar.Transactions {
			key := pipelineKey{SourceID: tx.SourceID, Account: account}
			if _, ok := work[key]; !ok {
				keys = append(keys, key)
			}
			work[key] = append(work[key], tx)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SourceID != keys[j].SourceID {
			return keys[i].SourceID < keys[j].SourceID
		}
		return keys[i].Account < keys[j].Account
	})

	holdingsByAccount := map[string]models.HoldingsSnapshot{}
	for _, h := range req.Holdings {
		holdingsByAccount[h.Account] = h
	}

	// Phase 3: run pipelines concurrently. Each writes only its own slot;
	// the join below is the sole synchronization point.
	results := make([]models.PerformanceResult, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key pipelineKey) {
			defer wg.Done()
			results[i] = s.runPipeline(ctx, runID, key, work[key], holdingsByAccount[key.Account], flagsByAccount[key.Account], req.Window)
		}(i, key)
	}
	wg.Wait()

	report := &models.AnalysisReport{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Results:     results,
	}

	if (req.Source == "" || req.Source == "all") && len(results) > 1 {
		report.Consolidated = s.aggregate(runID, results, req.Window)
	}

	s.logger.Info().Str("run_id", runID).Int("pipelines", len(keys)).
		Dur("elapsed", time.Since(start)).Msg("Analysis complete")

	return report, nil
}

// runPipeline executes derive → build → price → compute for one
// source/account slice of transactions.
func (s *Service) runPipeline(ctx context.Context, runID string, key pipelineKey, txns []models.Transaction, holdings models.HoldingsSnapshot, flags []string, window models.Window) models.PerformanceResult {
	if holdings.Account == "" {
		holdings = models.HoldingsSnapshot{Account: key.Account, AsOf: window.End, Quantity: map[string]float64{}}
	}

	flows := s.cashflows.Derive(txns)
	timeline := s.timelines.Build(txns, holdings, window)
	prices := s.fetchPrices(ctx, timeline, window)

	input := models.ReturnInput{
		RunID:    runID,
		SourceID: key.SourceID,
		Account:  key.Account,
		Window:   window,
		Timeline: timeline,
		Flows:    flows,
		Prices:   prices,
		Flags:    flags,

		SensitivityUSD:    s.config.Engine.SyntheticSensitivityUSD,
		MinCoveragePct:    s.config.Engine.MinCoveragePct,
		MaxSyntheticShare: s.config.Engine.MaxSyntheticShare,
	}

	return *s.calculator.Compute(input)
}

// fetchPrices loads closing-price series for every symbol in the timeline.
// Lookup failures degrade to price hints rather than failing the pipeline,
// and one source's lookups never block another pipeline.
func (s *Service) fetchPrices(ctx context.Context, timeline models.TimelineResult, window models.Window) models.PriceBook {
	book := models.PriceBook{}
	if s.prices == nil {
		return book
	}

	for _, tl := range timeline.Timelines {
		series, err := s.prices.ClosingPrices(ctx, tl.Symbol, window.Start, window.End)
		if err != nil {
			var unpriceable *marketdata.UnpriceableSymbolError
			if errors.As(err, &unpriceable) {
				s.logger.Warn().Str("symbol", tl.Symbol).Err(err).
					Msg("Symbol unpriceable; valuation falls back to price hint")
			} else {
				s.logger.Warn().Str("symbol", tl.Symbol).Err(err).
					Msg("Price lookup failed; valuation falls back to price hint")
			}
			continue
		}
		book[tl.Symbol] = series
	}
	return book
}
