package returns

import (
	"time"

	"github.com/bobmcallan/keel/internal/models"
)

// dailySeries is one track's valuation across the window: NAV and external
// flow per calendar day.
type dailySeries struct {
	days  []time.Time
	nav   []float64
	flows []float64
	// priceHintUsed is set when a synthetic entry had to be valued from its
	// price hint because no market price was obtainable.
	priceHintUsed bool
	// estimated is set when some held quantity could not be priced at all.
	estimated bool
}

// calendarDays returns every UTC day from start through end inclusive.
func calendarDays(w models.Window) []time.Time {
	start := w.Start.UTC().Truncate(24 * time.Hour)
	end := w.End.UTC().Truncate(24 * time.Hour)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// buildDaily values one track day by day: position quantity × closing price
// plus the running cash balance. The observed-only track counts only
// observed entries (floored at zero), skips unreconciled symbols, and
// ignores inferred external flows.
func buildDaily(track models.Track, input models.ReturnInput) dailySeries {
	days := calendarDays(input.Window)
	series := dailySeries{
		days:  days,
		nav:   make([]float64, len(days)),
		flows: make([]float64, len(days)),
	}

	externalByDay := map[time.Time]float64{}
	cashByDay := map[time.Time]float64{}
	for _, e := range input.Flows.Events {
		if track == models.TrackObservedOnly && e.Inferred {
			continue
		}
		day := e.Date.UTC().Truncate(24 * time.Hour)
		cashByDay[day] += e.Amount
		if e.Class == models.FlowExternal {
			externalByDay[day] += e.Amount
		}
	}

	// Cash movements before the window form the opening balance; only flows
	// inside the window enter the Dietz denominators.
	var cash float64
	for day, amt := range cashByDay {
		if day.Before(days[0]) {
			cash += amt
		}
	}

	for i, day := range days {
		cash += cashByDay[day]
		series.flows[i] = externalByDay[day]

		// End-of-day cutoff so same-day trades are reflected in that day's
		// closing position.
		cutoff := day.Add(24*time.Hour - time.Nanosecond)

		value := cash
		for _, tl := range input.Timeline.Timelines {
			if track == models.TrackObservedOnly && !tl.Reconciled {
				continue
			}
			var qty float64
			if track == models.TrackObservedOnly {
				qty, _ = tl.ObservedQuantityAt(cutoff).Float64()
			} else {
				qty, _ = tl.QuantityAt(cutoff).Float64()
			}
			if qty == 0 {
				continue
			}

			price, ok := input.Prices[tl.Symbol].AsOf(cutoff)
			if !ok {
				if hint := timelineHint(tl); hint > 0 {
					price = hint
					series.priceHintUsed = true
				} else {
					series.estimated = true
					continue
				}
			}
			value += qty * price
		}
		series.nav[i] = value
	}

	return series
}

// timelineHint returns the first usable price hint on a timeline's synthetic
// entries.
func timelineHint(tl models.SymbolTimeline) float64 {
	for _, e := range tl.Entries {
		if e.IsSynthetic() && e.PriceHint > 0 {
			return e.PriceHint
		}
	}
	return 0
}

// syntheticEndValue measures the end-of-window market value attributable to
// synthetic entries: the valuation gap between the enhanced and observed
// position for each symbol.
func syntheticEndValue(input models.ReturnInput) (synthetic, total float64) {
	end := input.Window.End
	for _, tl := range input.Timeline.Timelines {
		full, _ := tl.QuantityAt(end).Float64()
		observed, _ := tl.ObservedQuantityAt(end).Float64()
		if !tl.Reconciled {
			observed = 0
		}

		price, ok := input.Prices[tl.Symbol].AsOf(end)
		if !ok {
			price = timelineHint(tl)
		}
		total += full * price
		synthetic += (full - observed) * price
	}
	if synthetic < 0 {
		synthetic = 0
	}
	return synthetic, total
}

// observedCoveragePct returns the share of the window backed by observed
// transaction data: days from the first observed event through window end.
func observedCoveragePct(input models.ReturnInput) float64 {
	var first time.Time
	for _, tl := range input.Timeline.Timelines {
		for _, e := range tl.Entries {
			if e.Provenance != models.ProvenanceObserved {
				continue
			}
			if first.IsZero() || e.Timestamp.Before(first) {
				first = e.Timestamp
			}
		}
	}
	for _, e := range input.Flows.Events {
		if e.Inferred {
			continue
		}
		if first.IsZero() || e.Date.Before(first) {
			first = e.Date
		}
	}

	if first.IsZero() {
		return 0
	}
	if first.Before(input.Window.Start) {
		first = input.Window.Start
	}

	totalDays := float64(input.Window.Days())
	coveredDays := input.Window.End.Sub(first).Hours() / 24
	if coveredDays < 0 {
		coveredDays = 0
	}
	pct := coveredDays / totalDays * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
