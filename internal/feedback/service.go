// Package feedback implements the editor feedback sink (C12): validated,
// audited editor actions against an Event, gated by its current state.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"newsradar/internal/broadcast"
	"newsradar/internal/db"
	"newsradar/internal/eventstate"
	"newsradar/internal/globaltime"
)

// ErrInvalidAction is returned when the requested action is not a member of
// the allowed-actions registry, or is not legal from the Event's current
// state.
var ErrInvalidAction = errors.New("invalid feedback action")

// ErrUnauthorized is returned when the submitted editor token does not
// match the configured bcrypt hash.
var ErrUnauthorized = errors.New("invalid editor token")

// Action is one of the closed set of editor actions an Event can receive.
type Action string

const (
	ActionIgnore  Action = "IGNORE"
	ActionSnooze  Action = "SNOOZE"
	ActionPautar  Action = "PAUTAR"
	ActionMerge   Action = "MERGE"
	ActionSplit   Action = "SPLIT"
	ActionNotNews Action = "NOT_NEWS"
)

var allowedActions = map[Action]bool{
	ActionIgnore:  true,
	ActionSnooze:  true,
	ActionPautar:  true,
	ActionMerge:   true,
	ActionSplit:   true,
	ActionNotNews: true,
}

// gatedActions is the set of actions blocked from a MERGED tombstone, an
// IGNORED/EXPIRED Event, or a HYDRATING Event whose gating timeout has not
// yet elapsed, mirroring the original system's action_gating_decision:
// dispatching a draft or reshaping an Event's document set requires the
// Event to have actually started producing evidence.
var gatedActions = map[Action]bool{
	ActionPautar: true,
	ActionMerge:  true,
	ActionSplit:  true,
}

// triggerFor maps an editor action onto the state-machine trigger it
// raises. PAUTAR, MERGE, and SPLIT carry no eventstate.Trigger of their
// own: PAUTAR dispatches a draft without changing lifecycle state, MERGE
// and SPLIT mutate the document graph directly rather than going through
// Apply.
var triggerFor = map[Action]eventstate.Trigger{
	ActionIgnore:  eventstate.TriggerEditorIgnored,
	ActionSnooze:  eventstate.TriggerEditorSnoozed,
	ActionNotNews: eventstate.TriggerEditorIgnored,
}

// Merger folds one Event into another at an editor's direction. Satisfied
// by *organizer.Service.
type Merger interface {
	MergeExplicit(ctx context.Context, sourceID, targetID uuid.UUID, rule, details string) (bool, error)
}

// Dispatcher posts the draft-CMS trigger webhook unconditionally, bypassing
// the automatic cooldown. Satisfied by *alert.Dispatcher.
type Dispatcher interface {
	DispatchForced(ctx context.Context, eventID, headline string, scorePlantao float64, lane string, verified bool) error
}

// Rescorer re-evaluates a single Event's score and state after its document
// set changes outside the regular sweep tick. Satisfied by *sweep.Service.
type Rescorer interface {
	RescoreEvent(ctx context.Context, eventID string) error
}

// SubmitRequest is the wire payload accepted by POST /v1/feedback.
type SubmitRequest struct {
	EventID string `json:"event_id"`
	Actor   string `json:"actor"`
	Action  string `json:"action"`
	Reason  string `json:"reason,omitempty"`
	// TargetEventID is required for MERGE, naming the Event this one merges
	// into.
	TargetEventID string `json:"target_event_id,omitempty"`
	// DocumentIDs is required for SPLIT, naming the Documents to peel off
	// into a new Event.
	DocumentIDs []string `json:"document_ids,omitempty"`
	// Token is the shared editor credential, checked against the
	// configured bcrypt hash when one is set.
	Token string `json:"token,omitempty"`
}

// Service validates and records feedback actions against the database.
type Service struct {
	pool      *db.Pool
	hub       *broadcast.Hub
	merger    Merger
	dispatch  Dispatcher
	rescorer  Rescorer
	tokenHash string
	logger    zerolog.Logger
}

// NewService constructs a feedback Service. tokenHash is a bcrypt hash of
// the shared editor token; an empty hash disables token verification.
// merger, dispatch, and rescorer back MERGE, PAUTAR, and SPLIT/MERGE
// re-scoring respectively; any of them may be nil. A nil merger or dispatch
// rejects MERGE or PAUTAR as unavailable; a nil rescorer only skips the
// re-scoring step.
func NewService(pool *db.Pool, hub *broadcast.Hub, merger Merger, dispatch Dispatcher, rescorer Rescorer, tokenHash string, logger zerolog.Logger) *Service {
	return &Service{pool: pool, hub: hub, merger: merger, dispatch: dispatch, rescorer: rescorer, tokenHash: tokenHash, logger: logger}
}

// Submit validates req and applies the requested action, rejecting actions
// that are unknown, illegal from the target Event's current state, or
// missing a required field.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) error {
	eventID := strings.TrimSpace(req.EventID)
	actor := strings.TrimSpace(req.Actor)
	action := Action(strings.ToUpper(strings.TrimSpace(req.Action)))

	if eventID == "" || actor == "" {
		return fmt.Errorf("%w: event_id and actor are required", ErrInvalidAction)
	}
	if s.tokenHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(s.tokenHash), []byte(req.Token)) != nil {
			return ErrUnauthorized
		}
	}
	if !allowedActions[action] {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidAction, req.Action)
	}
	if action == ActionMerge && strings.TrimSpace(req.TargetEventID) == "" {
		return fmt.Errorf("%w: target_event_id is required for MERGE", ErrInvalidAction)
	}
	if action == ActionSplit && len(req.DocumentIDs) == 0 {
		return fmt.Errorf("%w: document_ids is required for SPLIT", ErrInvalidAction)
	}

	eventUUID, err := uuid.Parse(eventID)
	if err != nil {
		return fmt.Errorf("%w: malformed event_id", ErrInvalidAction)
	}

	var event db.Event
	if err := s.pool.GORM().WithContext(ctx).First(&event, "id = ?", eventUUID).Error; err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	if err := s.checkGating(event, action); err != nil {
		return err
	}

	now := globaltime.UTC()
	record := db.FeedbackEvent{
		ID:        uuid.New(),
		EventID:   eventUUID,
		Actor:     actor,
		Action:    string(action),
		Reason:    strings.TrimSpace(req.Reason),
		CreatedAt: now,
	}
	if err := s.pool.GORM().WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("insert feedback event: %w", err)
	}

	switch action {
	case ActionMerge:
		return s.applyMerge(ctx, event, req)
	case ActionSplit:
		return s.applySplit(ctx, event, req)
	case ActionPautar:
		return s.applyPautar(ctx, event)
	default:
		return s.applyTransition(ctx, event, actor, action, now)
	}
}

// checkGating rejects MERGE/SPLIT/PAUTAR against a MERGED tombstone, an
// IGNORED/EXPIRED Event, or a HYDRATING Event, per §4.8: "HYDRATING
// disables 'dispatch verified draft' and 'manual merge'; allows open
// source, copy link, monitor, snooze, ignore."
func (s *Service) checkGating(event db.Event, action Action) error {
	if !gatedActions[action] {
		return nil
	}
	switch eventstate.State(event.Status) {
	case eventstate.StateMerged:
		return fmt.Errorf("%w: %s is not allowed, event is a merge tombstone", ErrInvalidAction, action)
	case eventstate.StateIgnored, eventstate.StateExpired:
		return fmt.Errorf("%w: %s is not allowed from state %s", ErrInvalidAction, action, event.Status)
	case eventstate.StateHydrating:
		return fmt.Errorf("%w: %s is not allowed while event is still HYDRATING", ErrInvalidAction, action)
	}
	return nil
}

// applyTransition handles the actions that carry a plain state-machine
// trigger: IGNORE, SNOOZE, NOT_NEWS.
func (s *Service) applyTransition(ctx context.Context, event db.Event, actor string, action Action, now time.Time) error {
	eventUUID := event.ID
	from := eventstate.State(event.Status)
	to := from
	if trigger, ok := triggerFor[action]; ok {
		next, err := eventstate.Apply(from, trigger)
		if err == nil && next != from {
			to = next
			if updErr := s.pool.GORM().WithContext(ctx).Model(&db.Event{}).
				Where("id = ?", eventUUID).
				Updates(map[string]any{"status": string(to), "last_touched_at": now}).Error; updErr != nil {
				return fmt.Errorf("update event status: %w", updErr)
			}
			if histErr := s.pool.GORM().WithContext(ctx).Create(&db.EventStateHistory{
				ID: uuid.New(), EventID: eventUUID,
				FromState: string(from), ToState: string(to), Trigger: string(trigger), At: now,
			}).Error; histErr != nil {
				return fmt.Errorf("insert event state history: %w", histErr)
			}
		}
	}

	if s.hub != nil {
		s.hub.Publish(eventUUID.String(), broadcast.EventStateChanged, map[string]any{
			"reason":      "feedback",
			"action":      string(action),
			"actor":       actor,
			"from_state":  string(from),
			"to_state":    string(to),
			"recorded_at": now,
		})
	}

	s.logger.Info().
		Str("event_id", eventUUID.String()).
		Str("actor", actor).
		Str("action", string(action)).
		Msg("feedback recorded")

	return nil
}

// applyMerge folds event into req.TargetEventID via the organizer's
// caller-directed merge path, reusing the same canonicalization mutation
// deferred canonicalization uses.
func (s *Service) applyMerge(ctx context.Context, event db.Event, req SubmitRequest) error {
	if s.merger == nil {
		return fmt.Errorf("%w: MERGE is not available, no merger configured", ErrInvalidAction)
	}
	targetID, err := uuid.Parse(strings.TrimSpace(req.TargetEventID))
	if err != nil {
		return fmt.Errorf("%w: malformed target_event_id", ErrInvalidAction)
	}
	details := fmt.Sprintf("editor_merge actor=%s reason=%s", req.Actor, req.Reason)
	merged, err := s.merger.MergeExplicit(ctx, event.ID, targetID, "editor_feedback_merge", details)
	if err != nil {
		return fmt.Errorf("merge event: %w", err)
	}
	s.logger.Info().
		Str("event_id", event.ID.String()).
		Str("target_event_id", targetID.String()).
		Bool("merged", merged).
		Str("actor", req.Actor).
		Msg("feedback recorded")
	return nil
}

// applySplit creates a new Event at HYDRATING, re-homes req.DocumentIDs
// from event onto it, and re-scores the origin event. Per §4.8 example 6,
// this never emits EVENT_MERGED.
func (s *Service) applySplit(ctx context.Context, event db.Event, req SubmitRequest) error {
	docIDs := make([]uuid.UUID, 0, len(req.DocumentIDs))
	for _, raw := range req.DocumentIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%w: malformed document id %q", ErrInvalidAction, raw)
		}
		docIDs = append(docIDs, id)
	}

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := globaltime.UTC()
	newEventID := uuid.New()
	if _, err := tx.Exec(ctx, `
INSERT INTO events (id, lane, status, headline, first_seen_at, last_touched_at, created_at, updated_at)
VALUES ($1, $2, 'hydrating', $3, $4, $4, $4, $4)
`, newEventID, event.Lane, event.Headline, now); err != nil {
		return fmt.Errorf("create split event: %w", err)
	}

	for _, docID := range docIDs {
		if _, err := tx.Exec(ctx, `
UPDATE event_docs SET event_id = $1
WHERE event_id = $2 AND document_id = $3
`, newEventID, event.ID, docID); err != nil {
			return fmt.Errorf("move document %s: %w", docID, err)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE events SET last_touched_at = $1, updated_at = $1 WHERE id = $2`, now, event.ID); err != nil {
		return fmt.Errorf("touch origin event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	if s.hub != nil {
		s.hub.Publish(event.ID.String(), broadcast.EventUpsert, map[string]any{"split_into": newEventID.String()})
		s.hub.Publish(newEventID.String(), broadcast.EventUpsert, map[string]any{"split_from": event.ID.String()})
	}

	if s.rescorer != nil {
		if err := s.rescorer.RescoreEvent(ctx, event.ID.String()); err != nil {
			s.logger.Error().Err(err).Str("event_id", event.ID.String()).Msg("rescore origin event after split failed")
		}
		if err := s.rescorer.RescoreEvent(ctx, newEventID.String()); err != nil {
			s.logger.Error().Err(err).Str("event_id", newEventID.String()).Msg("rescore split event failed")
		}
	}

	s.logger.Info().
		Str("origin_event_id", event.ID.String()).
		Str("split_event_id", newEventID.String()).
		Int("document_count", len(docIDs)).
		Str("actor", req.Actor).
		Msg("feedback recorded")
	return nil
}

// applyPautar force-dispatches the draft-CMS trigger webhook regardless of
// cooldown, marking verified true only once the Event has actually reached
// HOT; a PARTIAL_ENRICH Event dispatches as an unverified draft per §4.8's
// "PARTIAL_ENRICH additionally allows 'dispatch unverified draft'."
func (s *Service) applyPautar(ctx context.Context, event db.Event) error {
	if s.dispatch == nil {
		return fmt.Errorf("%w: PAUTAR is not available, no dispatcher configured", ErrInvalidAction)
	}
	var score db.EventScore
	scorePlantao := 0.0
	if err := s.pool.GORM().WithContext(ctx).First(&score, "event_id = ?", event.ID).Error; err == nil {
		scorePlantao = score.ScorePlantao
	}
	verified := eventstate.State(event.Status) == eventstate.StateHot
	if err := s.dispatch.DispatchForced(ctx, event.ID.String(), event.Headline, scorePlantao, event.Lane, verified); err != nil {
		return fmt.Errorf("dispatch pautar: %w", err)
	}
	s.logger.Info().Str("event_id", event.ID.String()).Bool("verified", verified).Msg("feedback recorded")
	return nil
}
