// Package models defines data structures for Keel
package models

import (
	"regexp"
	"strings"
	"time"
)

// SourceKind distinguishes native broker feeds from account-aggregator feeds.
type SourceKind string

const (
	SourceNative     SourceKind = "native"
	SourceAggregator SourceKind = "aggregator"
)

// Source identifies one upstream data feed.
type Source struct {
	ID        string     `json:"id"`
	Kind      SourceKind `json:"kind"`
	UpdatedAt time.Time  `json:"updated_at"` // last feed refresh, used for tie-breaks
}

// EventKind categorizes the economic meaning of a transaction row.
type EventKind string

const (
	EventBuy         EventKind = "BUY"
	EventSell        EventKind = "SELL"
	EventDividend    EventKind = "DIVIDEND"
	EventIncome      EventKind = "INCOME"
	EventCashReceipt EventKind = "CASH_RECEIPT"
	EventFX          EventKind = "FX"
	EventFee         EventKind = "FEE"
	EventTransfer    EventKind = "TRANSFER"
)

// validEventKinds lists all accepted event kinds.
var validEventKinds = map[EventKind]bool{
	EventBuy:         true,
	EventSell:        true,
	EventDividend:    true,
	EventIncome:      true,
	EventCashReceipt: true,
	EventFX:          true,
	EventFee:         true,
	EventTransfer:    true,
}

// ValidEventKind returns true if k is a recognized event kind.
func ValidEventKind(k EventKind) bool {
	return validEventKinds[k]
}

// RawRow is one unvalidated row as delivered by an upstream feed. Field
// presence varies by provider; pointer fields distinguish absent from zero.
type RawRow struct {
	Symbol    string   `json:"symbol,omitempty"`
	Kind      string   `json:"kind"`
	Timestamp string   `json:"timestamp"` // RFC3339, UTC
	Quantity  *float64 `json:"quantity,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	Amount    *float64 `json:"amount,omitempty"`
	Currency  string   `json:"currency,omitempty"`
	FXRate    *float64 `json:"fx_rate,omitempty"` // source currency → base currency
}

// SourceBatch is the input contract from the ingestion layer: all rows one
// source reports for one account.
type SourceBatch struct {
	Source  Source   `json:"source"`
	Account string   `json:"account"`
	Rows    []RawRow `json:"rows"`
}

// Transaction is an immutable normalized record. Timestamp is effective
// economic time, not settlement time. Ordering within an account-symbol
// stream is by Timestamp with ties broken by ingestion order (Seq).
type Transaction struct {
	SourceID     string     `json:"source_id"`
	SourceKind   SourceKind `json:"source_kind"`
	Account      string     `json:"account"`
	Symbol       string     `json:"symbol,omitempty"` // empty for pure cash events
	Kind         EventKind  `json:"kind"`
	Timestamp    time.Time  `json:"timestamp"`
	Quantity     float64    `json:"quantity,omitempty"`
	Price        float64    `json:"price,omitempty"`
	Currency     string     `json:"currency"`
	Amount       float64    `json:"amount"`      // raw amount in source currency
	BaseAmount   float64    `json:"base_amount"` // amount converted to base currency
	IsDerivative bool       `json:"is_derivative,omitempty"`
	Fee          float64    `json:"fee,omitempty"` // commission/exchange fee component
	Seq          int        `json:"seq"`           // ingestion order, tie-break only
	SourceFresh  time.Time  `json:"source_fresh"`  // feed UpdatedAt carried for tie-breaks
}

// IsTradeLeg reports whether the transaction is a buy or sell leg.
func (t Transaction) IsTradeLeg() bool {
	return t.Kind == EventBuy || t.Kind == EventSell
}

// Day returns the transaction's calendar day in UTC.
func (t Transaction) Day() time.Time {
	return t.Timestamp.UTC().Truncate(24 * time.Hour)
}

// fxPairPattern matches currency-pair pseudo-symbols such as "GBP.HKD" or
// "AUD/USD" that brokers emit for FX conversions.
var fxPairPattern = regexp.MustCompile(`^[A-Z]{3}[./][A-Z]{3}$`)

// IsFXPairSymbol reports whether symbol denotes an FX conversion pair rather
// than a security.
func IsFXPairSymbol(symbol string) bool {
	return fxPairPattern.MatchString(strings.ToUpper(strings.TrimSpace(symbol)))
}

// IsUnknownSymbol reports whether symbol is a placeholder for an
// unidentifiable instrument.
func IsUnknownSymbol(symbol string) bool {
	return strings.EqualFold(strings.TrimSpace(symbol), "UNKNOWN")
}

// HoldingsSnapshot is the current-holdings input contract for one account:
// what the broker says is held right now.
type HoldingsSnapshot struct {
	Account  string             `json:"account"`
	AsOf     time.Time          `json:"as_of"`
	Quantity map[string]float64 `json:"quantity"` // symbol → units held
}

// Window is the analysis window. Start is the global inception date synthetic
// openings are backdated to.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the total day count of the window, minimum 1.
func (w Window) Days() int {
	d := int(w.End.Sub(w.Start).Hours() / 24)
	if d < 1 {
		return 1
	}
	return d
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}
