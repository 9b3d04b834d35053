// Package payloadschema validates the wire payload of POST /v1/feedback
// against an embedded JSON Schema before it reaches internal/feedback, the
// same structural-validation-at-the-edge pattern the teacher applies to its
// own inbound news-item payload.
package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed feedback_submission.schema.json
var feedbackSubmissionSchemaJSON string

// FeedbackSubmission is the validated shape of a POST /v1/feedback body.
type FeedbackSubmission struct {
	EventID       string   `json:"event_id"`
	Actor         string   `json:"actor"`
	Action        string   `json:"action"`
	Reason        string   `json:"reason,omitempty"`
	TargetEventID string   `json:"target_event_id,omitempty"`
	DocumentIDs   []string `json:"document_ids,omitempty"`
	Token         string   `json:"token,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateFeedbackSubmission decodes and schema-validates payload, rejecting
// malformed JSON, unknown fields, and actions outside the closed registry
// before any database or state-machine work happens.
func ValidateFeedbackSubmission(payload json.RawMessage) (*FeedbackSubmission, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var submission FeedbackSubmission
	if err := json.Unmarshal(normalized, &submission); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &submission, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("feedback_submission.schema.json", strings.NewReader(feedbackSubmissionSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("feedback_submission.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}
