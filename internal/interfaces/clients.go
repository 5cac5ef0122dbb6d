// Package interfaces defines service contracts for Keel
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/keel/internal/models"
)

// PriceClient fetches end-of-day closing prices from a market data service.
// Implementations rate-limit and retry internally with bounded backoff; a
// failed lookup surfaces as an error so callers can fall back to price hints.
type PriceClient interface {
	// ClosingPrice returns the close for symbol on or before date.
	ClosingPrice(ctx context.Context, symbol string, date time.Time) (float64, error)

	// ClosingPrices returns the daily close series for symbol across the window.
	ClosingPrices(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error)
}
