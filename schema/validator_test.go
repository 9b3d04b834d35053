package payloadschema

import (
	"encoding/json"
	"testing"
)

func TestValidateFeedbackSubmission_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"event_id":"11111111-1111-1111-1111-111111111111",
		"actor":"editor.alice",
		"action":"IGNORE",
		"reason":"duplicate of an older story"
	}`)

	submission, err := ValidateFeedbackSubmission(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}
	if submission.Actor != "editor.alice" {
		t.Fatalf("expected actor=editor.alice, got %q", submission.Actor)
	}
	if submission.Action != "IGNORE" {
		t.Fatalf("expected action=IGNORE, got %q", submission.Action)
	}
}

func TestValidateFeedbackSubmission_MissingRequired(t *testing.T) {
	payload := json.RawMessage(`{"actor":"editor.alice","action":"IGNORE"}`)

	if _, err := ValidateFeedbackSubmission(payload); err == nil {
		t.Fatalf("expected validation to fail for missing event_id")
	}
}

func TestValidateFeedbackSubmission_UnknownAction(t *testing.T) {
	payload := json.RawMessage(`{
		"event_id":"11111111-1111-1111-1111-111111111111",
		"actor":"editor.alice",
		"action":"DELETE"
	}`)

	if _, err := ValidateFeedbackSubmission(payload); err == nil {
		t.Fatalf("expected validation to fail for an action outside the closed registry")
	}
}

func TestValidateFeedbackSubmission_RejectsUnknownFields(t *testing.T) {
	payload := json.RawMessage(`{
		"event_id":"11111111-1111-1111-1111-111111111111",
		"actor":"editor.alice",
		"action":"IGNORE",
		"extra_field":"not allowed"
	}`)

	if _, err := ValidateFeedbackSubmission(payload); err == nil {
		t.Fatalf("expected validation to fail for an unrecognized field")
	}
}

func TestValidateFeedbackSubmission_MergeWithTarget(t *testing.T) {
	payload := json.RawMessage(`{
		"event_id":"11111111-1111-1111-1111-111111111111",
		"actor":"editor.bob",
		"action":"MERGE",
		"target_event_id":"22222222-2222-2222-2222-222222222222"
	}`)

	submission, err := ValidateFeedbackSubmission(payload)
	if err != nil {
		t.Fatalf("expected merge payload to be valid, got error: %v", err)
	}
	if submission.TargetEventID == "" {
		t.Fatalf("expected target_event_id to round-trip")
	}
}

func TestValidateFeedbackSubmission_RejectsTrailingContent(t *testing.T) {
	payload := json.RawMessage(`{"event_id":"1","actor":"a","action":"IGNORE"}garbage`)

	if _, err := ValidateFeedbackSubmission(payload); err == nil {
		t.Fatalf("expected validation to fail for trailing content after the JSON object")
	}
}
