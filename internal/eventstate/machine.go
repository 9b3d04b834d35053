// Package eventstate implements the Event state machine (C8): an explicit
// transition table keyed by (currentStatus, trigger), with gating timeouts
// evaluated against the mockable globaltime clock so tests can simulate
// elapsed time deterministically.
package eventstate

import (
	"fmt"
	"time"
)

// State is one of the Event lifecycle states.
type State string

const (
	StateNew            State = "new"
	StateHydrating      State = "hydrating"
	StatePartialEnrich   State = "partial_enrich"
	StateFailedEnrich    State = "failed_enrich"
	StateQuarantine      State = "quarantine"
	StateHot             State = "hot"
	StateMerged          State = "merged"
	StateIgnored         State = "ignored"
	StateExpired         State = "expired"
)

// Trigger is an event that can cause a state transition.
type Trigger string

const (
	TriggerDocumentAdded     Trigger = "document_added"
	TriggerEnrichSucceeded    Trigger = "enrich_succeeded"
	TriggerEnrichFailed       Trigger = "enrich_failed"
	TriggerEnrichPartial      Trigger = "enrich_partial"
	TriggerScoreCrossedHot    Trigger = "score_crossed_hot"
	TriggerScoreDroppedCold   Trigger = "score_dropped_cold"
	TriggerMergedAway         Trigger = "merged_away"
	TriggerEditorIgnored      Trigger = "editor_ignored"
	TriggerEditorSnoozed      Trigger = "editor_snoozed"
	TriggerGatingTimeout      Trigger = "gating_timeout"
	TriggerTTLExpired         Trigger = "ttl_expired"
	// TriggerContradictionFlagged is raised by the Organizer against any
	// non-terminal Event when a newly attached Document either contradicts
	// evidence already on the Event (the same strong identity anchor kind
	// resolving to two different normalized values) or came from a
	// blacklisted Source. It always routes to QUARANTINE for editorial
	// review, from every non-terminal state.
	TriggerContradictionFlagged Trigger = "contradiction_flagged"
)

// transitions maps (fromState, trigger) to the resulting toState. A missing
// entry means the trigger is not legal from that state.
var transitions = map[State]map[Trigger]State{
	StateNew: {
		TriggerDocumentAdded:        StateHydrating,
		TriggerEditorIgnored:        StateIgnored,
		TriggerEditorSnoozed:        StateQuarantine,
		TriggerContradictionFlagged: StateQuarantine,
	},
	StateHydrating: {
		TriggerScoreCrossedHot:      StateHot,
		TriggerEnrichSucceeded:      StatePartialEnrich,
		TriggerEnrichPartial:        StatePartialEnrich,
		TriggerEnrichFailed:         StateFailedEnrich,
		TriggerGatingTimeout:        StatePartialEnrich,
		TriggerEditorIgnored:        StateIgnored,
		TriggerEditorSnoozed:        StateQuarantine,
		TriggerContradictionFlagged: StateQuarantine,
	},
	StatePartialEnrich: {
		TriggerScoreCrossedHot:      StateHot,
		TriggerEnrichFailed:         StateFailedEnrich,
		TriggerDocumentAdded:        StatePartialEnrich,
		TriggerGatingTimeout:        StateQuarantine,
		TriggerEditorIgnored:        StateIgnored,
		TriggerEditorSnoozed:        StateQuarantine,
		TriggerMergedAway:           StateMerged,
		TriggerContradictionFlagged: StateQuarantine,
	},
	StateFailedEnrich: {
		TriggerDocumentAdded:        StateHydrating,
		TriggerGatingTimeout:        StateQuarantine,
		TriggerEditorIgnored:        StateIgnored,
		TriggerEditorSnoozed:        StateQuarantine,
		TriggerContradictionFlagged: StateQuarantine,
	},
	StateQuarantine: {
		TriggerDocumentAdded: StateHydrating,
		TriggerEditorIgnored: StateIgnored,
		TriggerTTLExpired:    StateExpired,
	},
	StateHot: {
		TriggerScoreDroppedCold:     StatePartialEnrich,
		TriggerDocumentAdded:        StateHot,
		TriggerMergedAway:           StateMerged,
		TriggerEditorIgnored:        StateIgnored,
		TriggerEditorSnoozed:        StateQuarantine,
		TriggerTTLExpired:           StateExpired,
		TriggerContradictionFlagged: StateQuarantine,
	},
	StateMerged:   {},
	StateIgnored:  {},
	StateExpired:  {},
}

// gatingTimeouts lists, per State, how long an Event may remain there before
// TriggerGatingTimeout or TriggerTTLExpired should be raised against it.
// StateHydrating and StateQuarantine are excluded here: their durations are
// literal numbers (15s FAST / 45s RENDER gate, 15 min quarantine TTL) that
// GatingConfig carries instead, so an operator can tune them without a code
// change.
var gatingTimeouts = map[State]time.Duration{
	StatePartialEnrich: 2 * time.Hour,
	StateFailedEnrich:  15 * time.Minute,
	StateHot:           72 * time.Hour,
}

// GatingConfig carries the operator-tunable gating durations, left as
// configurable parameters rather than fixed constants.
type GatingConfig struct {
	// HydratingFastTimeout applies when the Event's earliest Document came
	// through the FAST pool (fast-path gate timeout, 15s default).
	HydratingFastTimeout time.Duration
	// HydratingRenderTimeout applies otherwise — RENDER or DEEP pool
	// (render-path gate timeout, 45s default). DEEP-sourced
	// Events use the same value: they are never expected on the fast path,
	// so the more generous RENDER budget is the better default.
	HydratingRenderTimeout time.Duration
	// QuarantineTTL is the TTL after which an unresolved QUARANTINE Event
	// expires (15 minutes by default).
	QuarantineTTL time.Duration
}

// DefaultGatingConfig returns the literal defaults for a fresh deployment.
func DefaultGatingConfig() GatingConfig {
	return GatingConfig{
		HydratingFastTimeout:   15 * time.Second,
		HydratingRenderTimeout: 45 * time.Second,
		QuarantineTTL:          15 * time.Minute,
	}
}

// ErrIllegalTransition is returned when a trigger is not legal from the
// current state.
type ErrIllegalTransition struct {
	From    State
	Trigger Trigger
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal transition: trigger %q is not valid from state %q", e.Trigger, e.From)
}

// Apply returns the resulting State for (from, trigger), or
// ErrIllegalTransition if the pair is not in the transition table.
func Apply(from State, trigger Trigger) (State, error) {
	byTrigger, ok := transitions[from]
	if !ok {
		return from, &ErrIllegalTransition{From: from, Trigger: trigger}
	}
	to, ok := byTrigger[trigger]
	if !ok {
		return from, &ErrIllegalTransition{From: from, Trigger: trigger}
	}
	return to, nil
}

// IsTerminal reports whether state has no outgoing transitions.
func IsTerminal(s State) bool {
	byTrigger, ok := transitions[s]
	return ok && len(byTrigger) == 0
}

// GatingTimeoutFor returns the maximum duration state may be held before a
// gating trigger should fire, and whether state has a gating timeout at
// all. pool is the sources.PoolFast/PoolRender/PoolDeep value of the
// Source behind the Event's earliest Document; it only affects the
// StateHydrating case.
func GatingTimeoutFor(s State, pool string, cfg GatingConfig) (time.Duration, bool) {
	switch s {
	case StateHydrating:
		if pool == "FAST_POOL" {
			return cfg.HydratingFastTimeout, true
		}
		return cfg.HydratingRenderTimeout, true
	case StateQuarantine:
		return cfg.QuarantineTTL, true
	}
	d, ok := gatingTimeouts[s]
	return d, ok
}

// GatingTriggerFor returns the trigger that should fire once an Event has
// overstayed its gating timeout in state s.
func GatingTriggerFor(s State) Trigger {
	if s == StateQuarantine || s == StateHot {
		return TriggerTTLExpired
	}
	return TriggerGatingTimeout
}
