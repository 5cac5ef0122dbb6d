package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bobmcallan/keel/internal/clients/marketdata"
	"github.com/bobmcallan/keel/internal/common"
	"github.com/bobmcallan/keel/internal/interfaces"
	"github.com/bobmcallan/keel/internal/models"
	"github.com/bobmcallan/keel/internal/services/attribution"
	"github.com/bobmcallan/keel/internal/services/cashflow"
	"github.com/bobmcallan/keel/internal/services/engine"
	"github.com/bobmcallan/keel/internal/services/normalize"
	"github.com/bobmcallan/keel/internal/services/returns"
	"github.com/bobmcallan/keel/internal/services/timeline"
	"github.com/bobmcallan/keel/internal/storage/fixturefs"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to TOML config (default: KEEL_CONFIG env, then built-in defaults)")
		inputDir   = flag.String("input", "", "fixture directory with batches/, holdings/ and optional truth/")
		source     = flag.String("source", "all", "source id to replay, or \"all\"")
		format     = flag.String("format", string(models.FormatAgent), "output format: agent or diagnostic")
		from       = flag.String("from", "", "analysis window start (2006-01-02), default inferred from data")
		to         = flag.String("to", "", "analysis window end (2006-01-02), default inferred from data")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		common.LoadVersionFromFile()
		fmt.Println(common.FullVersion())
		return
	}

	if *inputDir == "" {
		fmt.Fprintln(os.Stderr, "keel: -input directory is required")
		flag.Usage()
		os.Exit(2)
	}

	if *configPath == "" {
		*configPath = os.Getenv("KEEL_CONFIG")
	}

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	common.LoadVersionFromFile()
	logger := common.NewLoggerFromConfig(cfg.Logging)
	common.PrintBanner(cfg, logger)

	store, err := fixturefs.NewStore(*inputDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open fixture store")
	}

	batches, err := store.Batches()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load transaction batches")
	}
	if len(batches) == 0 {
		logger.Fatal().Str("input", *inputDir).Msg("No transaction batches found")
	}

	holdings, err := store.Holdings()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load holdings snapshots")
	}

	window, err := resolveWindow(*from, *to, batches)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid analysis window")
	}

	svc := buildEngine(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := svc.Analyze(ctx, models.AnalysisRequest{
		Mode:     models.ModeRealized,
		Source:   *source,
		Window:   window,
		Batches:  batches,
		Holdings: holdings,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Analysis failed")
	}

	switch models.OutputFormat(*format) {
	case models.FormatAgent:
		fmt.Print(formatReport(report, window))
	case models.FormatDiagnostic:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			logger.Fatal().Err(err).Msg("Failed to encode report")
		}
	default:
		logger.Fatal().Str("format", *format).Msg("Unknown output format")
	}
}

// buildEngine wires the pipeline services behind the engine facade. The
// market data client is only attached when an API key is configured;
// otherwise pricing falls back to transaction price hints.
func buildEngine(cfg *common.Config, logger *common.Logger) interfaces.EngineService {
	var prices interfaces.PriceClient
	if cfg.Clients.MarketData.APIKey != "" {
		prices = marketdata.NewClient(cfg.Clients.MarketData.APIKey,
			marketdata.WithBaseURL(cfg.Clients.MarketData.BaseURL),
			marketdata.WithRateLimit(cfg.Clients.MarketData.RateLimit),
			marketdata.WithTimeout(cfg.Clients.MarketData.GetTimeout()),
			marketdata.WithRetries(cfg.Clients.MarketData.Retries),
			marketdata.WithLogger(logger),
		)
	} else {
		logger.Warn().Msg("No market data API key configured, using price hints only")
	}

	return engine.NewService(
		cfg,
		normalize.NewService(cfg.BaseCurrency, logger),
		attribution.NewService(cfg.Engine.AmountTolerance, logger),
		cashflow.NewService(cfg.Engine.AmountTolerance, logger),
		timeline.NewService(logger),
		returns.NewCalculator(logger),
		prices,
		logger,
	)
}

// resolveWindow parses explicit bounds and infers missing ones from the
// earliest and latest transaction timestamps across all batches.
func resolveWindow(from, to string, batches []models.SourceBatch) (models.Window, error) {
	var w models.Window

	var earliest, latest time.Time
	for _, batch := range batches {
		for _, row := range batch.Rows {
			ts, err := normalize.ParseTimestamp(row.Timestamp)
			if err != nil {
				continue // normalize reports malformed rows later
			}
			if earliest.IsZero() || ts.Before(earliest) {
				earliest = ts
			}
			if latest.IsZero() || ts.After(latest) {
				latest = ts
			}
		}
	}

	if from != "" {
		start, err := time.Parse("2006-01-02", from)
		if err != nil {
			return w, fmt.Errorf("parse -from: %w", err)
		}
		w.Start = start
	} else if !earliest.IsZero() {
		w.Start = earliest.Truncate(24 * time.Hour)
	} else {
		return w, fmt.Errorf("no parseable timestamps and no -from given")
	}

	if to != "" {
		end, err := time.Parse("2006-01-02", to)
		if err != nil {
			return w, fmt.Errorf("parse -to: %w", err)
		}
		w.End = end
	} else if !latest.IsZero() {
		w.End = latest.Truncate(24 * time.Hour)
	} else {
		w.End = time.Now().UTC().Truncate(24 * time.Hour)
	}

	if w.End.Before(w.Start) {
		return w, fmt.Errorf("window end %s precedes start %s",
			w.End.Format("2006-01-02"), w.Start.Format("2006-01-02"))
	}
	return w, nil
}
