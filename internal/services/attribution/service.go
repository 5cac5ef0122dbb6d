// Package attribution decides, per transaction, which source owns an economic
// event when multiple feeds report it. Native broker feeds take priority over
// aggregator mirrors; the precedence is an explicit tie-break table so it is
// testable and auditable.
package attribution

import (
	"math"
	"sort"

	"github.com/bobmcallan/keel/internal/common"
	"github.com/bobmcallan/keel/internal/interfaces"
	"github.com/bobmcallan/keel/internal/models"
)

// Compile-time interface check
var _ interfaces.AttributionService = (*Service)(nil)

// Service implements AttributionService
type Service struct {
	amountTolerance float64 // relative tolerance for fuzzy amount matches
	logger          *common.Logger
}

// NewService creates a new attribution service
func NewService(amountTolerance float64, logger *common.Logger) *Service {
	if amountTolerance <= 0 {
		amountTolerance = 0.005
	}
	return &Service{
		amountTolerance: amountTolerance,
		logger:          logger,
	}
}

// kindPriority orders source kinds for ownership: native > aggregator.
func kindPriority(k models.SourceKind) int {
	switch k {
	case models.SourceNative:
		return 0
	case models.SourceAggregator:
		return 1
	default:
		return 2
	}
}

// matchQuality grades how closely two amounts agree: exact beats fuzzy.
func (s *Service) matchQuality(a, b float64) int {
	if a == b {
		return 0 // exact
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 || math.Abs(a-b)/scale <= s.amountTolerance {
		return 1 // fuzzy
	}
	return -1 // no match
}

// sameEvent reports whether two transactions describe the same underlying
// economic event: same account, symbol and calendar day, amount within
// tolerance.
func (s *Service) sameEvent(a, b models.Transaction) bool {
	if a.Account != b.Account || a.Symbol != b.Symbol || a.Kind != b.Kind {
		return false
	}
	if !a.Day().Equal(b.Day()) {
		return false
	}
	return s.matchQuality(a.BaseAmount, b.BaseAmount) >= 0
}

// Resolve assigns single ownership per event across sources. When a native
// and an aggregator feed both report an event, only the native row is kept as
// canonical; the aggregator's mirror is exempted from cross-source leakage
// checks rather than treated as independent exposure. Ambiguous ties (two
// candidates equally eligible) are logged, retained and surfaced as a data
// quality flag.
func (s *Service) Resolve(txns []models.Transaction) models.AttributionResult {
	// Stable deterministic order before grouping: time, then the tie-break
	// table (kind priority, feed freshness desc, source id, ingestion order).
	ordered := make([]models.Transaction, len(txns))
	copy(ordered, txns)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if kindPriority(a.SourceKind) != kindPriority(b.SourceKind) {
			return kindPriority(a.SourceKind) < kindPriority(b.SourceKind)
		}
		if !a.SourceFresh.Equal(b.SourceFresh) {
			return a.SourceFresh.After(b.SourceFresh)
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.Seq < b.Seq
	})

	result := models.AttributionResult{}
	claimed := make([]bool, len(ordered))
	ambiguous := false

	for i, tx := range ordered {
		if claimed[i] {
			continue
		}
		claimed[i] = true

		// Collect rows from other sources describing the same event.
		var mirrors []int
		for j := i + 1; j < len(ordered); j++ {
			if claimed[j] || ordered[j].SourceID == tx.SourceID {
				continue
			}
			if s.sameEvent(tx, ordered[j]) {
				mirrors = append(mirrors, j)
			}
		}

		result.Transactions = append(result.Transactions, tx)

		// Exact matches sort before fuzzy so mirror handling is deterministic
		// when both kinds are present.
		sort.SliceStable(mirrors, func(x, y int) bool {
			return s.matchQuality(tx.BaseAmount, ordered[mirrors[x]].BaseAmount) <
				s.matchQuality(tx.BaseAmount, ordered[mirrors[y]].BaseAmount)
		})

		for _, j := range mirrors {
			m := ordered[j]
			switch {
			case kindPriority(m.SourceKind) > kindPriority(tx.SourceKind):
				// Aggregator mirror of a native row: exempt, not exposure.
				claimed[j] = true
				result.MirrorsDropped++
				s.logger.Debug().Str("account", tx.Account).Str("symbol", tx.Symbol).
					Str("owner", tx.SourceID).Str("mirror", m.SourceID).
					Msg("Aggregator mirror exempted")
			case m.SourceFresh.Before(tx.SourceFresh):
				// Same priority but the other feed is stale: fresher wins.
				claimed[j] = true
				result.MirrorsDropped++
				s.logger.Debug().Str("account", tx.Account).Str("symbol", tx.Symbol).
					Str("owner", tx.SourceID).Str("stale", m.SourceID).
					Msg("Stale feed duplicate exempted")
			case s.matchQuality(tx.BaseAmount, m.BaseAmount) == 0:
				// Same priority and freshness but the amounts agree exactly:
				// a confident duplicate, not an ambiguity.
				claimed[j] = true
				result.MirrorsDropped++
				s.logger.Debug().Str("account", tx.Account).Str("symbol", tx.Symbol).
					Str("owner", tx.SourceID).Str("mirror", m.SourceID).
					Msg("Exact duplicate exempted")
			default:
				// Equally eligible candidates: retain both, flag it. A
				// double count is preferred to silent data loss.
				ambiguous = true
				s.logger.Warn().Str("account", tx.Account).Str("symbol", tx.Symbol).
					Str("a", tx.SourceID).Str("b", m.SourceID).
					Float64("amount", tx.BaseAmount).
					Msg("Ambiguous cross-source duplicate retained")
			}
		}
	}

	if ambiguous {
		result.Flags = append(result.Flags, models.FlagAmbiguousDuplicate)
	}

	return result
}
