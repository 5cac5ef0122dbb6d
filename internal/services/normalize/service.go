// Package normalize ingests heterogeneous trade and cash rows from each
// source and tags them as typed transactions, classifying artifacts (phantom
// unknown-symbol rows, FX conversion rows) for exclusion from cash replay.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/keel/internal/common"
	"github.com/bobmcallan/keel/internal/interfaces"
	"github.com/bobmcallan/keel/internal/models"
)

// Compile-time interface check
var _ interfaces.NormalizeService = (*Service)(nil)

// Service implements NormalizeService
type Service struct {
	baseCurrency string
	logger       *common.Logger
}

// NewService creates a new normalize service
func NewService(baseCurrency string, logger *common.Logger) *Service {
	return &Service{
		baseCurrency: baseCurrency,
		logger:       logger,
	}
}

// MalformedRowError reports a row missing required fields. The row is
// skipped; the batch continues.
type MalformedRowError struct {
	Field  string
	Detail string
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("malformed row: missing %s (%s)", e.Field, e.Detail)
}

// futuresSuffixes marks symbols traded as futures contracts. Month-coded
// contract symbols (e.g. "ESU5", "NQZ4") end in a month letter plus a digit.
var futuresMonthCodes = map[byte]bool{
	'F': true, 'G': true, 'H': true, 'J': true, 'K': true, 'M': true,
	'N': true, 'Q': true, 'U': true, 'V': true, 'X': true, 'Z': true,
}

// isFuturesSymbol reports whether symbol looks like a futures contract code.
func isFuturesSymbol(symbol string) bool {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasPrefix(s, "/") {
		return true // broker convention: "/ES", "/MNQ"
	}
	if len(s) >= 4 && s[len(s)-1] >= '0' && s[len(s)-1] <= '9' && futuresMonthCodes[s[len(s)-2]] {
		return true
	}
	return false
}

// validateRow checks required fields and returns a typed error when absent.
func validateRow(row models.RawRow) error {
	if strings.TrimSpace(row.Timestamp) == "" {
		return &MalformedRowError{Field: "timestamp", Detail: "empty"}
	}
	if row.Amount == nil {
		return &MalformedRowError{Field: "amount", Detail: "absent"}
	}
	if !models.ValidEventKind(models.EventKind(strings.ToUpper(row.Kind))) {
		return &MalformedRowError{Field: "kind", Detail: fmt.Sprintf("unrecognized %q", row.Kind)}
	}
	return nil
}

// Normalize validates and tags every row in the batch. Rows representing
// artifacts (UNKNOWN symbols, FX conversion pairs) go to the discard list
// with a reason code; they do not represent real economic cash movement at
// the portfolio level.
func (s *Service) Normalize(batch models.SourceBatch) models.NormalizeResult {
	result := models.NormalizeResult{}

	for seq, row := range batch.Rows {
		if err := validateRow(row); err != nil {
			s.logger.Warn().Str("source", batch.Source.ID).Str("account", batch.Account).
				Int("row", seq).Err(err).Msg("Row skipped")
			result.Discards = append(result.Discards, models.DiscardedRow{
				Row: row, Reason: models.DiscardMalformed, Detail: err.Error(),
			})
			continue
		}

		if models.IsUnknownSymbol(row.Symbol) {
			s.logger.Info().Str("source", batch.Source.ID).Int("row", seq).
				Msg("Unknown-symbol phantom row excluded from replay")
			result.Discards = append(result.Discards, models.DiscardedRow{
				Row: row, Reason: models.DiscardUnknownSymbol,
			})
			continue
		}

		if models.IsFXPairSymbol(row.Symbol) || strings.EqualFold(row.Kind, string(models.EventFX)) {
			s.logger.Info().Str("source", batch.Source.ID).Str("symbol", row.Symbol).
				Msg("FX conversion row excluded from replay")
			result.Discards = append(result.Discards, models.DiscardedRow{
				Row: row, Reason: models.DiscardFXConversion,
			})
			continue
		}

		ts, err := ParseTimestamp(row.Timestamp)
		if err != nil {
			result.Discards = append(result.Discards, models.DiscardedRow{
				Row: row, Reason: models.DiscardMalformed,
				Detail: (&MalformedRowError{Field: "timestamp", Detail: err.Error()}).Error(),
			})
			continue
		}

		tx := models.Transaction{
			SourceID:    batch.Source.ID,
			SourceKind:  batch.Source.Kind,
			Account:     batch.Account,
			Symbol:      strings.ToUpper(strings.TrimSpace(row.Symbol)),
			Kind:        models.EventKind(strings.ToUpper(row.Kind)),
			Timestamp:   ts.UTC(),
			Currency:    defaultCurrency(row.Currency, s.baseCurrency),
			Amount:      *row.Amount,
			Seq:         seq,
			SourceFresh: batch.Source.UpdatedAt,
		}
		if row.Quantity != nil {
			tx.Quantity = *row.Quantity
		}
		if row.Price != nil {
			tx.Price = *row.Price
		}

		// Convert to base currency when the feed supplies an FX rate.
		tx.BaseAmount = tx.Amount
		if row.FXRate != nil && *row.FXRate > 0 {
			tx.BaseAmount = tx.Amount * *row.FXRate
		}

		if tx.IsTradeLeg() && isFuturesSymbol(tx.Symbol) {
			tx.IsDerivative = true
			// For derivative legs the raw amount is notional plus fees; the
			// fee component is what the trade actually settles for.
			tx.Fee = feeComponent(tx)
		}

		result.Transactions = append(result.Transactions, tx)
	}

	s.logger.Debug().Str("source", batch.Source.ID).Str("account", batch.Account).
		Int("rows", len(batch.Rows)).Int("kept", len(result.Transactions)).
		Int("discarded", len(result.Discards)).Msg("Batch normalized")

	return result
}

// feeComponent isolates commission and exchange fees from a derivative trade
// leg: the residual between raw amount and signed notional.
func feeComponent(tx models.Transaction) float64 {
	if tx.Quantity == 0 || tx.Price == 0 {
		// Without quantity and price the notional cannot be subtracted out,
		// and booking the full contract amount as a fee would reintroduce the
		// swing the suppression exists to remove. Treat the leg as fee-free.
		return 0
	}
	notional := tx.Quantity * tx.Price
	if tx.Kind == models.EventBuy {
		notional = -notional
	}
	fee := tx.BaseAmount - notional
	if fee > 0 {
		// Fees only ever reduce cash.
		return 0
	}
	return fee
}

func defaultCurrency(currency, base string) string {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if c == "" {
		return base
	}
	return c
}

// ParseTimestamp accepts RFC3339 and bare dates.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
