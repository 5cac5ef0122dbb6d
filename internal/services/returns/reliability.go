package returns

import (
	"fmt"

	"github.com/bobmcallan/keel/internal/models"
)

// applyReliability attaches the machine-readable trust signal. The verdict
// never suppresses numeric output, it only qualifies it, so downstream
// consumers can act on degraded data deliberately.
//
// reliable is false when coverage is below the floor (exactly at the floor is
// reliable), when synthetic value dominates, or when NAV had to be estimated.
// The note names the dominant cause in one sentence.
func applyReliability(result *models.PerformanceResult, coveragePct, syntheticShare float64, estimated bool, minCoveragePct, maxSyntheticShare float64) {
	lowCoverage := coveragePct < minCoveragePct
	syntheticDominant := syntheticShare > maxSyntheticShare

	result.Reliable = !lowCoverage && !syntheticDominant && !estimated
	if result.Reliable {
		return
	}

	switch {
	case lowCoverage && syntheticDominant:
		// Dominant cause is whichever margin is exceeded by more.
		coverageDeficit := (minCoveragePct - coveragePct) / minCoveragePct
		syntheticExcess := (syntheticShare - maxSyntheticShare) / maxSyntheticShare
		if coverageDeficit >= syntheticExcess {
			result.ReliabilityNote = fmt.Sprintf(
				"Observed transactions cover only %.1f%% of the analysis window (minimum %.0f%%).",
				coveragePct, minCoveragePct)
		} else {
			result.ReliabilityNote = fmt.Sprintf(
				"Synthetic positions account for %.1f%% of market value, exceeding the %.0f%% ceiling.",
				syntheticShare*100, maxSyntheticShare*100)
		}
	case lowCoverage:
		result.ReliabilityNote = fmt.Sprintf(
			"Observed transactions cover only %.1f%% of the analysis window (minimum %.0f%%).",
			coveragePct, minCoveragePct)
	case syntheticDominant:
		result.ReliabilityNote = fmt.Sprintf(
			"Synthetic positions account for %.1f%% of market value, exceeding the %.0f%% ceiling.",
			syntheticShare*100, maxSyntheticShare*100)
	default:
		result.ReliabilityNote = "NAV includes unpriced holdings and is estimated."
	}
}
