package calls

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusWaitingResponder, StatusResponderConnected},
		{StatusWaitingResponder, StatusInCall},
		{StatusWaitingResponder, StatusRejected},
		{StatusWaitingAdmin, StatusRejected},
		{StatusResponderConnected, StatusInCall},
		{StatusResponderConnected, StatusRejected},
		{StatusInCall, StatusCompleted},
		{StatusInCall, StatusRejected},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusWaitingResponder, StatusCompleted},
		{StatusResponderConnected, StatusCompleted},
		{StatusInCall, StatusWaitingResponder},
		{StatusCompleted, StatusRejected},
		{StatusRejected, StatusWaitingResponder},
		{StatusRejected, StatusRejected},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s denied", tc.from, tc.to)
		}
	}
}

func TestStatusClassification(t *testing.T) {
	for _, s := range LiveStatuses() {
		if !s.IsLive() || s.IsTerminal() {
			t.Fatalf("%s should be live", s)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusRejected} {
		if s.IsLive() || !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if StatusWaitingAdmin.Canonical() != StatusWaitingResponder {
		t.Fatalf("alias must fold onto waiting_responder")
	}
}

func TestRecordValidate(t *testing.T) {
	base := Record{ID: "c", RequesterID: "u", CallType: CallTypeKYC}

	cases := []struct {
		name string
		mut  func(r *Record)
		ok   bool
	}{
		{"waiting", func(r *Record) { r.Status = StatusWaitingResponder }, true},
		{"result before completion", func(r *Record) {
			r.Status = StatusInCall
			r.ResponderID = "a"
			r.VerificationResult = ResultApproved
		}, false},
		{"completed without result", func(r *Record) {
			r.Status = StatusCompleted
			r.ResponderID = "a"
		}, false},
		{"completed", func(r *Record) {
			r.Status = StatusCompleted
			r.ResponderID = "a"
			r.VerificationResult = ResultRejected
		}, true},
		{"connected without responder", func(r *Record) { r.Status = StatusResponderConnected }, false},
		{"rejected before pickup", func(r *Record) { r.Status = StatusRejected }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := base
			tc.mut(&r)
			if err := r.Validate(); (err == nil) != tc.ok {
				t.Fatalf("validate ok=%v, err=%v", tc.ok, err)
			}
		})
	}
}

func TestFilterMatch(t *testing.T) {
	r := Record{ID: "c1", RequesterID: "u1", Status: StatusWaitingAdmin}
	if !(Filter{Status: StatusWaitingResponder}).Match(r) {
		t.Fatalf("status filter must compare canonical statuses")
	}
	if (Filter{CallID: "c2"}).Match(r) {
		t.Fatalf("call filter must not match other calls")
	}
	if !(Filter{}).Match(r) {
		t.Fatalf("empty filter matches everything")
	}
}

func TestDecodeChangeRejectsMissingRecord(t *testing.T) {
	if _, err := decodeChange(`{"record":{}}`); err == nil {
		t.Fatalf("expected error")
	}
	c, err := decodeChange(`{"record":{"id":"c1","status":"in_call"},"previous":"responder_connected"}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Record.Status != StatusInCall || c.IsInsert() {
		t.Fatalf("unexpected change %+v", c)
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(2, 3); got != "$2, $3, $4" {
		t.Fatalf("unexpected placeholders %q", got)
	}
}
