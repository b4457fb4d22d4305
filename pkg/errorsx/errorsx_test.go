package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonAudioDecode)
	if Reason(err) != ReasonAudioDecode {
		t.Fatalf("expected reason %s, got %s", ReasonAudioDecode, Reason(err))
	}
	if !HasReason(err, ReasonAudioDecode) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSTTSend)
	second := Wrap(first, ReasonNotifyRequest)
	if Reason(second) != ReasonSTTSend {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestReasonSurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", Wrap(assertErr{}, ReasonNotifyStatus))
	if Reason(err) != ReasonNotifyStatus {
		t.Fatalf("expected reason through fmt wrap, got %s", Reason(err))
	}
	if !errors.Is(err, assertErr{}) {
		t.Fatalf("expected original error to stay reachable")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonSTTConnect) != nil {
		t.Fatalf("expected nil")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
