package eventstate

import (
	"testing"
	"time"
)

func TestApplyLegalTransition(t *testing.T) {
	got, err := Apply(StateNew, TriggerDocumentAdded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != StateHydrating {
		t.Fatalf("expected hydrating, got %s", got)
	}
}

func TestApplyIllegalTransitionFromTerminalState(t *testing.T) {
	_, err := Apply(StateMerged, TriggerDocumentAdded)
	if err == nil {
		t.Fatalf("expected error for transition out of a terminal state")
	}
	var illegal *ErrIllegalTransition
	if !errorsAsIllegal(err, &illegal) {
		t.Fatalf("expected ErrIllegalTransition, got %T: %v", err, err)
	}
}

func TestGatingTimeoutKnownForHydrating(t *testing.T) {
	cfg := DefaultGatingConfig()

	d, ok := GatingTimeoutFor(StateHydrating, "FAST_POOL", cfg)
	if !ok || d != 15*time.Second {
		t.Fatalf("expected a 15s gating timeout for hydrating on FAST_POOL, got %v ok=%v", d, ok)
	}

	d, ok = GatingTimeoutFor(StateHydrating, "HEAVY_RENDER_POOL", cfg)
	if !ok || d != 45*time.Second {
		t.Fatalf("expected a 45s gating timeout for hydrating on HEAVY_RENDER_POOL, got %v ok=%v", d, ok)
	}
}

func TestGatingTimeoutQuarantineTTL(t *testing.T) {
	cfg := DefaultGatingConfig()

	d, ok := GatingTimeoutFor(StateQuarantine, "", cfg)
	if !ok || d != 15*time.Minute {
		t.Fatalf("expected a 15m quarantine TTL, got %v ok=%v", d, ok)
	}
}

func TestHydratingCanCrossDirectlyToHot(t *testing.T) {
	got, err := Apply(StateHydrating, TriggerScoreCrossedHot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != StateHot {
		t.Fatalf("expected hot, got %s", got)
	}
}

func TestContradictionFlaggedRoutesEveryNonTerminalStateToQuarantine(t *testing.T) {
	for _, from := range []State{StateNew, StateHydrating, StatePartialEnrich, StateFailedEnrich, StateHot} {
		got, err := Apply(from, TriggerContradictionFlagged)
		if err != nil {
			t.Fatalf("unexpected error from %s: %v", from, err)
		}
		if got != StateQuarantine {
			t.Fatalf("expected quarantine from %s, got %s", from, got)
		}
	}
}

func TestTerminalStatesHaveNoOutgoingTransitions(t *testing.T) {
	for _, s := range []State{StateMerged, StateIgnored, StateExpired} {
		if !IsTerminal(s) {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
}

func errorsAsIllegal(err error, target **ErrIllegalTransition) bool {
	if e, ok := err.(*ErrIllegalTransition); ok {
		*target = e
		return true
	}
	return false
}
