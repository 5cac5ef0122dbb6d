package models

import "time"

// FlowClass separates flows that change invested capital from flows internal
// to the portfolio.
type FlowClass string

const (
	// FlowExternal is a contribution or withdrawal: capital crossing the
	// portfolio boundary. External flows never originate from trade legs.
	FlowExternal FlowClass = "EXTERNAL"
	// FlowInternal is trade settlement, dividend, income or fee activity.
	FlowInternal FlowClass = "INTERNAL"
)

// CashFlowEvent is one classified cash movement in account base currency.
type CashFlowEvent struct {
	Class    FlowClass `json:"class"`
	Date     time.Time `json:"date"`
	Amount   float64   `json:"amount"` // signed, base currency
	Symbol   string    `json:"symbol,omitempty"`
	Kind     EventKind `json:"kind,omitempty"`     // originating event kind, empty for inferred flows
	Inferred bool      `json:"inferred,omitempty"` // true when synthesized to fill a cash gap
}

// Diagnostic codes recorded during cash-flow derivation and replay. These are
// advisory: none of them fail a request.
const (
	DiagUnexplainedCashGap = "UNEXPLAINED_CASH_GAP"
	DiagIncomeOverlap      = "INCOME_OVERLAP_DROPPED"
	DiagNotionalSuppressed = "FUTURES_NOTIONAL_SUPPRESSED"
	DiagInferredFlow       = "EXTERNAL_FLOW_INFERRED"
)

// Diagnostic is one advisory finding attached to a result.
type Diagnostic struct {
	Code    string    `json:"code"`
	Symbol  string    `json:"symbol,omitempty"`
	Date    time.Time `json:"date,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Amount  float64   `json:"amount,omitempty"`
}

// CashFlowResult is the output of cash-flow derivation for one pipeline.
type CashFlowResult struct {
	Events                    []CashFlowEvent `json:"events"`
	Diagnostics               []Diagnostic    `json:"diagnostics,omitempty"`
	FuturesNotionalSuppressed int             `json:"futures_notional_suppressed"`
	IncomeOverlapDropped      int             `json:"income_overlap_dropped_count"`
}

// NetExternal sums external flows: contributions positive, withdrawals negative.
func (r CashFlowResult) NetExternal() float64 {
	var sum float64
	for _, e := range r.Events {
		if e.Class == FlowExternal {
			sum += e.Amount
		}
	}
	return sum
}
