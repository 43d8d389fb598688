package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonReasoningFailed)
	if Reason(err) != ReasonReasoningFailed {
		t.Fatalf("expected reason %s, got %s", ReasonReasoningFailed, Reason(err))
	}
	if !HasReason(err, ReasonReasoningFailed) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonTranscriptionFailed)
	second := Wrap(first, ReasonReasoningFailed)
	if Reason(second) != ReasonTranscriptionFailed {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestReasonOfNil(t *testing.T) {
	if Wrap(nil, ReasonSynthesisFailed) != nil {
		t.Fatalf("expected nil passthrough")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil error")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
