package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated verification call metrics.
// ResponderID narrows the report to one verifier.
type CallsSummaryRequest struct {
	Range       TimeRange `json:"range"`
	ResponderID string    `json:"responder_id,omitempty"`
}

type CallsSummary struct {
	ResponderID string `json:"responder_id,omitempty"`

	TotalCalls     int `json:"total_calls"`
	WaitingCalls   int `json:"waiting_calls"`
	LiveCalls      int `json:"live_calls"`
	CompletedCalls int `json:"completed_calls"`
	RejectedCalls  int `json:"rejected_calls"`

	Approved int `json:"approved"`
	Declined int `json:"declined"`
	// ApprovalRate is Approved over decided calls.
	ApprovalRate float64 `json:"approval_rate"`

	// AverageDecisionSeconds spans creation to the decision write for completed calls.
	AverageDecisionSeconds int `json:"average_decision_seconds"`
}

// ResponderStats is one row of the per-verifier breakdown.
type ResponderStats struct {
	ResponderID string `json:"responder_id"`
	// Handled counts calls the verifier claimed.
	Handled  int `json:"handled"`
	Approved int `json:"approved"`
	Declined int `json:"declined"`
	// Abandoned counts claimed calls that ended without a verdict.
	Abandoned int `json:"abandoned"`
	// Passed counts requests turned down at the prompt, before any claim.
	Passed int `json:"passed"`
}
