// Package cashflow classifies settlement-affecting events as external
// (contribution/withdrawal) or internal (trade, dividend, fee) flows and
// computes their cash impact in base currency.
//
// Derivative trade legs are reduced to fee-only impact: full contract
// notional produces multi-hundred-percent synthetic swings that do not
// reflect margin-based economics.
package cashflow

import (
	"fmt"
	"math"
	"sort"

	"github.com/bobmcallan/keel/internal/common"
	"github.com/bobmcallan/keel/internal/interfaces"
	"github.com/bobmcallan/keel/internal/models"
)

// Compile-time interface check
var _ interfaces.CashFlowService = (*Service)(nil)

// Service implements CashFlowService
type Service struct {
	amountTolerance float64
	logger          *common.Logger
}

// NewService creates a new cashflow service
func NewService(amountTolerance float64, logger *common.Logger) *Service {
	if amountTolerance <= 0 {
		amountTolerance = 0.005
	}
	return &Service{
		amountTolerance: amountTolerance,
		logger:          logger,
	}
}

// amountsOverlap reports whether two amounts agree within tolerance.
func (s *Service) amountsOverlap(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return true
	}
	return math.Abs(a-b)/scale <= s.amountTolerance
}

// Derive classifies every settlement-affecting transaction into cash flow
// events. Inference of external flows (filling gaps with no explicit
// contribution record) is suppressed while a derivative position is open:
// notional-driven apparent shortfalls during open futures exposure are not
// real external flows.
func (s *Service) Derive(txns []models.Transaction) models.CashFlowResult {
	ordered := make([]models.Transaction, len(txns))
	copy(ordered, txns)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	result := models.CashFlowResult{}

	// Pass 1: mark income/dividend rows that duplicate a provider cash
	// receipt on the same day. The provider flow is authoritative; the
	// income row is dropped to avoid double-booking.
	dropped := s.markIncomeOverlaps(ordered, &result)

	// Pass 2: classify and replay cash.
	var cash float64
	derivativeUnits := map[string]float64{} // symbol → net open derivative qty

	derivativeOpen := func() bool {
		for _, q := range derivativeUnits {
			if q != 0 {
				return true
			}
		}
		return false
	}

	for i, tx := range ordered {
		if dropped[i] {
			continue
		}

		var ev models.CashFlowEvent

		switch tx.Kind {
		case models.EventBuy, models.EventSell:
			amount := tx.BaseAmount
			if tx.IsDerivative {
				// Notional suppression: fee-only impact.
				amount = tx.Fee
				result.FuturesNotionalSuppressed++
				detail := fmt.Sprintf("notional %.2f suppressed to fee %.2f", math.Abs(tx.BaseAmount), tx.Fee)
				if tx.Quantity == 0 || tx.Price == 0 {
					detail = fmt.Sprintf("fee indeterminate without quantity and price; full %.2f suppressed", math.Abs(tx.BaseAmount))
				}
				result.Diagnostics = append(result.Diagnostics, models.Diagnostic{
					Code:   models.DiagNotionalSuppressed,
					Symbol: tx.Symbol,
					Date:   tx.Timestamp,
					Amount: tx.BaseAmount - tx.Fee,
					Detail: detail,
				})
				if tx.Kind == models.EventBuy {
					derivativeUnits[tx.Symbol] += tx.Quantity
				} else {
					derivativeUnits[tx.Symbol] -= tx.Quantity
				}
			}
			ev = models.CashFlowEvent{
				Class: models.FlowInternal, Date: tx.Timestamp,
				Amount: amount, Symbol: tx.Symbol, Kind: tx.Kind,
			}

		case models.EventDividend, models.EventIncome, models.EventCashReceipt, models.EventFee:
			ev = models.CashFlowEvent{
				Class: models.FlowInternal, Date: tx.Timestamp,
				Amount: tx.BaseAmount, Symbol: tx.Symbol, Kind: tx.Kind,
			}

		case models.EventTransfer:
			// Capital crossing the portfolio boundary.
			ev = models.CashFlowEvent{
				Class: models.FlowExternal, Date: tx.Timestamp,
				Amount: tx.BaseAmount, Kind: tx.Kind,
			}

		default:
			continue
		}

		// Cash gap: a buy the ledger cannot fund means a contribution was
		// never recorded. Infer one, unless derivative exposure is open,
		// in which case the shortfall is notional distortion, not capital.
		if ev.Class == models.FlowInternal && cash+ev.Amount < 0 && !tx.IsDerivative {
			shortfall := -(cash + ev.Amount)
			if derivativeOpen() {
				result.Diagnostics = append(result.Diagnostics, models.Diagnostic{
					Code:   models.DiagUnexplainedCashGap,
					Symbol: tx.Symbol,
					Date:   tx.Timestamp,
					Amount: shortfall,
					Detail: "inference suppressed while derivative position open",
				})
				s.logger.Warn().Str("symbol", tx.Symbol).Float64("shortfall", shortfall).
					Msg("Unexplained cash gap during open derivative exposure")
			} else {
				inferred := models.CashFlowEvent{
					Class: models.FlowExternal, Date: tx.Timestamp,
					Amount: shortfall, Inferred: true,
				}
				result.Events = append(result.Events, inferred)
				result.Diagnostics = append(result.Diagnostics, models.Diagnostic{
					Code:   models.DiagInferredFlow,
					Symbol: tx.Symbol,
					Date:   tx.Timestamp,
					Amount: shortfall,
					Detail: "external contribution inferred to fund trade",
				})
				cash += shortfall
			}
		}

		cash += ev.Amount
		result.Events = append(result.Events, ev)
	}

	s.logger.Debug().Int("events", len(result.Events)).
		Int("notional_suppressed", result.FuturesNotionalSuppressed).
		Int("income_overlaps", result.IncomeOverlapDropped).
		Msg("Cash flows derived")

	return result
}

// markIncomeOverlaps flags DIVIDEND/INCOME rows whose date and amount
// duplicate a CASH_RECEIPT row. Returns a parallel drop mask.
func (s *Service) markIncomeOverlaps(ordered []models.Transaction, result *models.CashFlowResult) []bool {
	dropped := make([]bool, len(ordered))

	for i, tx := range ordered {
		if tx.Kind != models.EventDividend && tx.Kind != models.EventIncome {
			continue
		}
		for j, other := range ordered {
			if i == j || dropped[j] || other.Kind != models.EventCashReceipt {
				continue
			}
			if !tx.Day().Equal(other.Day()) || !s.amountsOverlap(tx.BaseAmount, other.BaseAmount) {
				continue
			}
			dropped[i] = true
			result.IncomeOverlapDropped++
			result.Diagnostics = append(result.Diagnostics, models.Diagnostic{
				Code:   models.DiagIncomeOverlap,
				Symbol: tx.Symbol,
				Date:   tx.Timestamp,
				Amount: tx.BaseAmount,
				Detail: "income row duplicates provider cash receipt",
			})
			s.logger.Info().Str("symbol", tx.Symbol).Float64("amount", tx.BaseAmount).
				Msg("Income overlap deduplicated")
			break
		}
	}

	return dropped
}
