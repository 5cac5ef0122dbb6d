package returns

import (
	"math"
	"sort"
	"time"

	"github.com/bobmcallan/keel/internal/models"
)

// cashFlow is a local type for XIRR calculation. Negative amounts are money
// the investor put in; positive amounts are money taken out, with the ending
// NAV as a terminal positive flow.
type cashFlow struct {
	date   time.Time
	amount float64
}

// computeXIRR calculates the annualized money-weighted return from external
// flows plus the ending NAV, using Newton-Raphson with a bisection fallback.
// Reported alongside TWR as a supplemental metric; returns 0 when a rate
// cannot be determined.
func computeXIRR(flows models.CashFlowResult, endNAV float64, window models.Window) float64 {
	var cfs []cashFlow
	for _, e := range flows.Events {
		if e.Class != models.FlowExternal || e.Date.IsZero() {
			continue
		}
		// A contribution is capital invested: an outflow from the investor.
		cfs = append(cfs, cashFlow{date: e.Date, amount: -e.Amount})
	}
	if len(cfs) == 0 {
		return 0
	}

	if endNAV > 0 {
		cfs = append(cfs, cashFlow{date: window.End, amount: endNAV})
	}

	sort.Slice(cfs, func(i, j int) bool {
		return cfs[i].date.Before(cfs[j].date)
	})

	// Need at least one negative and one positive flow
	hasNeg, hasPos := false, false
	for _, f := range cfs {
		if f.amount < 0 {
			hasNeg = true
		}
		if f.amount > 0 {
			hasPos = true
		}
	}
	if !hasNeg || !hasPos {
		return 0
	}

	rate := solveXIRR(cfs)
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0
	}
	return rate * 100
}

// solveXIRR uses Newton-Raphson to find the rate r such that NPV(r) = 0.
func solveXIRR(flows []cashFlow) float64 {
	const (
		maxIter = 100
		tol     = 1e-7
		minRate = -0.999
	)

	baseDate := flows[0].date

	years := make([]float64, len(flows))
	for i, f := range flows {
		days := f.date.Sub(baseDate).Hours() / 24
		years[i] = days / 365.25
	}

	// Initial guess from simple return
	totalInvested := 0.0
	totalReceived := 0.0
	for _, f := range flows {
		if f.amount < 0 {
			totalInvested -= f.amount
		} else {
			totalReceived += f.amount
		}
	}

	guess := 0.1
	if totalInvested > 0 {
		simpleReturn := totalReceived/totalInvested - 1
		if simpleReturn > -0.9 && simpleReturn < 10 {
			guess = simpleReturn
		}
	}

	rate := guess

	for iter := 0; iter < maxIter; iter++ {
		npv := 0.0
		dnpv := 0.0

		for i, f := range flows {
			y := years[i]
			base := 1 + rate
			if base <= 0 {
				rate = minRate
				base = 1 + rate
			}
			discount := math.Pow(base, y)
			if discount == 0 {
				continue
			}
			npv += f.amount / discount
			if y != 0 {
				dnpv -= y * f.amount / (discount * base)
			}
		}

		if math.Abs(npv) < tol {
			return rate
		}

		if dnpv == 0 {
			break
		}

		newRate := rate - npv/dnpv
		if newRate < minRate {
			newRate = minRate
		}
		if newRate > 100 {
			newRate = 100
		}
		rate = newRate
	}

	// Fallback: bisection
	return bisectXIRR(flows, years)
}

// bisectXIRR uses bisection as a fallback solver.
func bisectXIRR(flows []cashFlow, years []float64) float64 {
	const (
		maxIter = 200
		tol     = 1e-6
	)

	npvAt := func(rate float64) float64 {
		sum := 0.0
		for i, f := range flows {
			base := 1 + rate
			if base <= 0 {
				return math.NaN()
			}
			sum += f.amount / math.Pow(base, years[i])
		}
		return sum
	}

	lo, hi := -0.99, 10.0
	npvLo := npvAt(lo)
	npvHi := npvAt(hi)

	if math.IsNaN(npvLo) || math.IsNaN(npvHi) {
		return math.NaN()
	}
	if npvLo*npvHi > 0 {
		return math.NaN()
	}

	for iter := 0; iter < maxIter; iter++ {
		mid := (lo + hi) / 2
		npvMid := npvAt(mid)
		if math.IsNaN(npvMid) {
			return math.NaN()
		}
		if math.Abs(npvMid) < tol {
			return mid
		}
		if npvMid*npvLo < 0 {
			hi = mid
		} else {
			lo = mid
			npvLo = npvMid
		}
	}

	return (lo + hi) / 2
}
