package engine

import (
	"math"
	"sort"

	"github.com/bobmcallan/keel/internal/models"
)

// aggregate combines per-source results into the consolidated all-sources
// view: monthly NAV and external flows are summed across sources per period,
// then the return calculator is re-run over the combined series.
func (s *Service) aggregate(runID string, results []models.PerformanceResult, window models.Window) *models.PerformanceResult {
	// Prepend the summed inception NAV as a baseline period so returns
	// earned inside the first calendar month survive the monthly re-link.
	enhanced := prependBaseline(
		mergeMonthly(collect(results, models.TrackSyntheticEnhanced)),
		sumStartNAV(results, models.TrackSyntheticEnhanced))
	observed := prependBaseline(
		mergeMonthly(collect(results, models.TrackObservedOnly)),
		sumStartNAV(results, models.TrackObservedOnly))

	combined := &models.PerformanceResult{
		RunID:             runID,
		Source:            "all",
		SyntheticEnhanced: s.calculator.ComputeFromMonthly(enhanced, window),
		ObservedOnly:      s.calculator.ComputeFromMonthly(observed, window),
	}

	// Roll up diagnostics, flags and dollar-weighted quality metrics.
	var totalNAV, syntheticUSD, coverageWeighted float64
	for _, r := range results {
		combined.FuturesNotionalSuppressed += r.FuturesNotionalSuppressed
		combined.IncomeOverlapDropped += r.IncomeOverlapDropped
		combined.SyntheticEntryCount += r.SyntheticEntryCount
		for _, f := range r.DataQualityFlags {
			combined.DataQualityFlags = mergeFlag(combined.DataQualityFlags, f)
		}
		combined.Diagnostics = append(combined.Diagnostics, r.Diagnostics...)

		nav := r.SyntheticEnhanced.EndNAV
		totalNAV += nav
		syntheticUSD += r.SyntheticPct / 100 * nav
		coverageWeighted += r.CoveragePct * nav
	}
	if totalNAV > 0 {
		combined.SyntheticPct = round2(syntheticUSD / totalNAV * 100)
		combined.CoveragePct = round2(coverageWeighted / totalNAV)
	}

	// The sensitivity gate applies to the combined synthetic dollars, same
	// as for a single pipeline.
	combined.HeadlineTrack = models.TrackSyntheticEnhanced
	if s.config.Engine.SyntheticSensitivityUSD > 0 && syntheticUSD > s.config.Engine.SyntheticSensitivityUSD {
		combined.HeadlineTrack = models.TrackObservedOnly
	}
	headline := combined.SyntheticEnhanced
	if combined.HeadlineTrack == models.TrackObservedOnly {
		headline = combined.ObservedOnly
	}
	combined.CumulativeReturnPct = headline.CumulativeReturnPct
	combined.AnnualizedReturnPct = headline.AnnualizedReturnPct

	syntheticShare := combined.SyntheticPct / 100
	lowCoverage := combined.CoveragePct < s.config.Engine.MinCoveragePct
	dominant := syntheticShare > s.config.Engine.MaxSyntheticShare
	estimated := false
	for _, f := range combined.DataQualityFlags {
		if f == models.FlagEstimatedNAV {
			estimated = true
		}
	}
	combined.Reliable = !lowCoverage && !dominant && !estimated
	switch {
	case lowCoverage:
		combined.ReliabilityNote = "Combined observed coverage is below the reliability floor."
	case dominant:
		combined.ReliabilityNote = "Synthetic positions dominate combined market value."
	case estimated:
		combined.ReliabilityNote = "A constituent NAV is estimated; combined figures inherit the uncertainty."
	}

	return combined
}

// collect extracts one track's monthly series from every result.
func collect(results []models.PerformanceResult, track models.Track) [][]models.MonthlyNavPoint {
	out := make([][]models.MonthlyNavPoint, 0, len(results))
	for _, r := range results {
		if track == models.TrackObservedOnly {
			out = append(out, r.ObservedOnly.MonthlyReturns)
		} else {
			out = append(out, r.SyntheticEnhanced.MonthlyReturns)
		}
	}
	return out
}

// sumStartNAV totals one track's inception NAV across results.
func sumStartNAV(results []models.PerformanceResult, track models.Track) float64 {
	var sum float64
	for _, r := range results {
		if track == models.TrackObservedOnly {
			sum += r.ObservedOnly.StartNAV
		} else {
			sum += r.SyntheticEnhanced.StartNAV
		}
	}
	return sum
}

// prependBaseline inserts the pre-window valuation as period zero of the
// combined series.
func prependBaseline(points []models.MonthlyNavPoint, startNAV float64) []models.MonthlyNavPoint {
	if len(points) == 0 {
		return points
	}
	baseline := models.MonthlyNavPoint{Period: "inception", NAV: startNAV}
	return append([]models.MonthlyNavPoint{baseline}, points...)
}

// mergeMonthly time-aligns monthly series from multiple sources and sums NAV
// and external flows per period. A source with no point in a period carries
// its last known NAV forward with zero flow.
func mergeMonthly(seriesList [][]models.MonthlyNavPoint) []models.MonthlyNavPoint {
	periodSet := map[string]bool{}
	for _, series := range seriesList {
		for _, p := range series {
			periodSet[p.Period] = true
		}
	}
	if len(periodSet) == 0 {
		return nil
	}

	periods := make([]string, 0, len(periodSet))
	for p := range periodSet {
		periods = append(periods, p)
	}
	sort.Strings(periods)

	// Per-series cursor with NAV carry-forward.
	cursors := make([]int, len(seriesList))
	lastNAV := make([]float64, len(seriesList))

	merged := make([]models.MonthlyNavPoint, 0, len(periods))
	for _, period := range periods {
		point := models.MonthlyNavPoint{Period: period}
		for i, series := range seriesList {
			if cursors[i] < len(series) && series[cursors[i]].Period == period {
				lastNAV[i] = series[cursors[i]].NAV
				point.ExternalFlow += series[cursors[i]].ExternalFlow
				cursors[i]++
			}
			point.NAV += lastNAV[i]
		}
		merged = append(merged, point)
	}
	return merged
}

func mergeFlag(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
