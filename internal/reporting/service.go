package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"videokyc-platform/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
// Implementations should read the call records table directly; reports never write.
type Repository interface {
	ListCalls(ctx context.Context, from, to time.Time, responderID string) ([]calls.Record, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	rows, err := s.list(ctx, req.Range, req.ResponderID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{ResponderID: req.ResponderID}
	var decisionTotal time.Duration
	for _, c := range rows {
		out.TotalCalls++
		switch c.Status.Canonical() {
		case calls.StatusWaitingResponder:
			out.WaitingCalls++
		case calls.StatusResponderConnected, calls.StatusInCall:
			out.LiveCalls++
		case calls.StatusCompleted:
			out.CompletedCalls++
			decisionTotal += c.UpdatedAt.Sub(c.CreatedAt)
		case calls.StatusRejected:
			out.RejectedCalls++
		}
		switch c.VerificationResult {
		case calls.ResultApproved:
			out.Approved++
		case calls.ResultRejected:
			out.Declined++
		}
	}
	if decided := out.Approved + out.Declined; decided > 0 {
		out.ApprovalRate = float64(out.Approved) / float64(decided)
	}
	if out.CompletedCalls > 0 {
		out.AverageDecisionSeconds = int((decisionTotal / time.Duration(out.CompletedCalls)).Seconds())
	}
	return out, nil
}

// ResponderBreakdown groups claimed calls by verifier, busiest first.
func (s *Service) ResponderBreakdown(ctx context.Context, r TimeRange) ([]ResponderStats, error) {
	rows, err := s.list(ctx, r, "")
	if err != nil {
		return nil, err
	}

	byID := map[string]*ResponderStats{}
	for _, c := range rows {
		if c.ResponderID == "" {
			continue
		}
		st, ok := byID[c.ResponderID]
		if !ok {
			st = &ResponderStats{ResponderID: c.ResponderID}
			byID[c.ResponderID] = st
		}
		if c.Status.Canonical() == calls.StatusRejected && c.ConnectedAt == nil {
			st.Passed++
			continue
		}
		st.Handled++
		switch {
		case c.VerificationResult == calls.ResultApproved:
			st.Approved++
		case c.VerificationResult == calls.ResultRejected:
			st.Declined++
		case c.Status.Canonical() == calls.StatusRejected:
			st.Abandoned++
		}
	}

	out := make([]ResponderStats, 0, len(byID))
	for _, st := range byID {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Handled != out[j].Handled {
			return out[i].Handled > out[j].Handled
		}
		return out[i].ResponderID < out[j].ResponderID
	})
	return out, nil
}

func (s *Service) list(ctx context.Context, r TimeRange, responderID string) ([]calls.Record, error) {
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return nil, ErrInvalidRequest
	}
	if s == nil || s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}
	return s.repo.ListCalls(ctx, r.From, r.To, responderID)
}
