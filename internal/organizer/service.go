package organizer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"newsradar/internal/anchor"
	"newsradar/internal/broadcast"
	"newsradar/internal/db"
	"newsradar/internal/eventstate"
	"newsradar/internal/globaltime"
	"newsradar/internal/metrics"
)

const (
	simhashAutoMergeDistance  = 6
	trigramAutoMergeThreshold = 0.55
	tokenJaccardThreshold     = 0.35
	dateConsistencyWindow     = 36 * time.Hour
)

// Service clusters Documents into Events by the cascade described in C6:
// hard merge by shared anchor, near-duplicate by simhash/trigram, same-event
// by token overlap plus entity overlap, else a new Event.
type Service struct {
	pool   *db.Pool
	hub    *broadcast.Hub
	logger zerolog.Logger
}

// NewService constructs an organizer Service.
func NewService(pool *db.Pool, hub *broadcast.Hub, logger zerolog.Logger) *Service {
	return &Service{pool: pool, hub: hub, logger: logger}
}

// OrganizePending claims up to limit pending Documents and assigns each to
// an Event, via FOR UPDATE SKIP LOCKED so multiple organizer workers can run
// concurrently without double-claiming a Document.
func (s *Service) OrganizePending(ctx context.Context, limit int) (int, error) {
	processed := 0
	for i := 0; i < limit; i++ {
		ok, err := s.organizeOne(ctx)
		if err != nil {
			return processed, err
		}
		if !ok {
			break
		}
		processed++
	}
	return processed, nil
}

func (s *Service) organizeOne(ctx context.Context) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var docID uuid.UUID
	row := tx.QueryRow(ctx, `
SELECT id FROM documents
WHERE status = 'pending'
ORDER BY created_at
LIMIT 1
FOR UPDATE SKIP LOCKED
`)
	if err := row.Scan(&docID); err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("claim pending document: %w", err)
	}

	var doc db.Document
	if err := s.pool.GORM().WithContext(ctx).First(&doc, "id = ?", docID).Error; err != nil {
		return false, fmt.Errorf("load document: %w", err)
	}

	anchors := s.loadAnchors(ctx, docID)
	rule, eventID, err := s.matchEvent(ctx, doc, anchors)
	if err != nil {
		return false, fmt.Errorf("match event: %w", err)
	}

	var src db.Source
	if err := s.pool.GORM().WithContext(ctx).First(&src, "id = ?", doc.SourceID).Error; err != nil {
		return false, fmt.Errorf("load document source: %w", err)
	}

	now := globaltime.UTC()
	matchedExisting := eventID != uuid.Nil
	lane := src.Lane
	if eventID == uuid.Nil {
		eventID, err = s.createEventTx(ctx, tx, doc, src.Lane, now)
		if err != nil {
			return false, fmt.Errorf("create event: %w", err)
		}
		rule = "new_event"
	} else {
		if _, err := tx.Exec(ctx, `UPDATE events SET last_touched_at = $1, updated_at = $1 WHERE id = $2`, now, eventID); err != nil {
			return false, fmt.Errorf("touch event: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO event_docs (event_id, document_id, match_rule, added_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (document_id, event_id) DO NOTHING
`, eventID, docID, rule, now); err != nil {
		return false, fmt.Errorf("insert event_docs: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE documents SET status = 'organized' WHERE id = $1`, docID); err != nil {
		return false, fmt.Errorf("mark document organized: %w", err)
	}

	quarantined, quarantineRule, err := s.flagQuarantineIfWarranted(ctx, tx, eventID, docID, src, now)
	if err != nil {
		return false, fmt.Errorf("evaluate quarantine guard: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	metrics.OrganizerDocsTotal.WithLabelValues(src.ID.String(), lane, strconv.FormatBool(matchedExisting)).Inc()

	if s.hub != nil {
		s.hub.Publish(eventID.String(), broadcast.EventUpsert, map[string]any{
			"match_rule":  rule,
			"document_id": docID.String(),
		})
		if quarantined {
			s.hub.Publish(eventID.String(), broadcast.EventStateChanged, map[string]any{
				"to_state": string(eventstate.StateQuarantine),
				"trigger":  string(eventstate.TriggerContradictionFlagged),
				"rule":     quarantineRule,
			})
		}
	}

	return true, nil
}

func (s *Service) loadAnchors(ctx context.Context, docID uuid.UUID) []db.Anchor {
	var anchors []db.Anchor
	if err := s.pool.GORM().WithContext(ctx).Where("document_id = ?", docID).Find(&anchors).Error; err != nil {
		s.logger.Warn().Err(err).Str("document_id", docID.String()).Msg("load anchors failed")
		return nil
	}
	return anchors
}

// matchEvent runs the match cascade and returns the rule that fired and the
// matched EventID, or uuid.Nil if no existing Event qualifies.
func (s *Service) matchEvent(ctx context.Context, doc db.Document, anchors []db.Anchor) (string, uuid.UUID, error) {
	if eventID, err := s.findHardAnchorMatch(ctx, doc, anchors); err != nil {
		return "", uuid.Nil, err
	} else if eventID != uuid.Nil {
		return "hard_anchor", eventID, nil
	}

	if eventID, err := s.findNearDuplicateMatch(ctx, doc); err != nil {
		return "", uuid.Nil, err
	} else if eventID != uuid.Nil {
		return "near_duplicate", eventID, nil
	}

	if eventID, err := s.findSameEventMatch(ctx, doc); err != nil {
		return "", uuid.Nil, err
	} else if eventID != uuid.Nil {
		return "same_event_probabilistic", eventID, nil
	}

	return "", uuid.Nil, nil
}

// findHardAnchorMatch looks for an existing Event whose documents carry the
// same strong identity anchor (CNPJ, CPF, CNJ process, SEI process, TCU act,
// bill, or decree/ordinance number) as this document — a deterministic,
// always-merge signal independent of headline wording.
func (s *Service) findHardAnchorMatch(ctx context.Context, doc db.Document, anchors []db.Anchor) (uuid.UUID, error) {
	for _, a := range anchors {
		if !anchor.StrongKinds[anchor.Kind(a.Kind)] || a.Confidence < 0.9 {
			continue
		}
		var eventID uuid.UUID
		row := s.pool.QueryRow(ctx, `
SELECT ed.event_id
FROM anchors a2
JOIN event_docs ed ON ed.document_id = a2.document_id
JOIN events e ON e.id = ed.event_id
WHERE a2.kind = $1 AND a2.normalized = $2 AND a2.confidence >= 0.9
  AND e.merged_into_id IS NULL
ORDER BY ed.added_at DESC
LIMIT 1
`, a.Kind, a.Normalized)
		if err := row.Scan(&eventID); err == nil {
			return eventID, nil
		} else if !db.IsNoRows(err) {
			return uuid.Nil, fmt.Errorf("query hard anchor match: %w", err)
		}
	}
	return uuid.Nil, nil
}

// findNearDuplicateMatch looks for recent Events containing a document whose
// simhash is within simhashAutoMergeDistance, or whose title trigram
// overlap clears trigramAutoMergeThreshold, within dateConsistencyWindow.
func (s *Service) findNearDuplicateMatch(ctx context.Context, doc db.Document) (uuid.UUID, error) {
	cutoff := doc.CreatedAt.Add(-dateConsistencyWindow)
	if doc.CreatedAt.IsZero() {
		cutoff = globaltime.UTC().Add(-dateConsistencyWindow)
	}

	rows, err := s.pool.Query(ctx, `
SELECT d2.title, d2.body_simhash, ed.event_id
FROM documents d2
JOIN event_docs ed ON ed.document_id = d2.id
JOIN events e ON e.id = ed.event_id
WHERE d2.created_at >= $1 AND d2.id != $2 AND e.merged_into_id IS NULL
ORDER BY d2.created_at DESC
LIMIT 500
`, cutoff, doc.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("query near duplicate candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var title string
		var simhash uint64
		var eventID uuid.UUID
		if err := rows.Scan(&title, &simhash, &eventID); err != nil {
			return uuid.Nil, fmt.Errorf("scan near duplicate candidate: %w", err)
		}
		if doc.BodySimhash != 0 && simhash != 0 && hammingDistance64(doc.BodySimhash, simhash) <= simhashAutoMergeDistance {
			return eventID, nil
		}
		if titleTrigramJaccard(doc.Title, title) >= trigramAutoMergeThreshold {
			return eventID, nil
		}
	}
	if err := rows.Err(); err != nil {
		return uuid.Nil, fmt.Errorf("iterate near duplicate candidates: %w", err)
	}
	return uuid.Nil, nil
}

// findSameEventMatch applies the softer "probably the same unfolding story"
// rule: title token overlap above tokenJaccardThreshold combined with at
// least one shared entity mention.
func (s *Service) findSameEventMatch(ctx context.Context, doc db.Document) (uuid.UUID, error) {
	var entityValues []string
	if err := s.pool.GORM().WithContext(ctx).
		Model(&db.EntityMention{}).
		Where("document_id = ?", doc.ID).
		Pluck("entity_value", &entityValues).Error; err != nil {
		return uuid.Nil, fmt.Errorf("load entity mentions: %w", err)
	}
	if len(entityValues) == 0 {
		return uuid.Nil, nil
	}

	rows, err := s.pool.Query(ctx, `
SELECT d2.title, ed.event_id
FROM entity_mentions em
JOIN documents d2 ON d2.id = em.document_id
JOIN event_docs ed ON ed.document_id = d2.id
JOIN events e ON e.id = ed.event_id
WHERE em.entity_value = ANY($1) AND d2.id != $2 AND e.merged_into_id IS NULL
ORDER BY d2.created_at DESC
LIMIT 200
`, entityValues, doc.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("query same-event candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var title string
		var eventID uuid.UUID
		if err := rows.Scan(&title, &eventID); err != nil {
			return uuid.Nil, fmt.Errorf("scan same-event candidate: %w", err)
		}
		if titleTokenJaccard(doc.Title, title) >= tokenJaccardThreshold {
			return eventID, nil
		}
	}
	if err := rows.Err(); err != nil {
		return uuid.Nil, fmt.Errorf("iterate same-event candidates: %w", err)
	}
	return uuid.Nil, nil
}

// flagQuarantineIfWarranted routes eventID to QUARANTINE when either src is
// blacklisted or docID carries a strong identity anchor that contradicts one
// already attached to the Event (the same anchor kind resolving to a
// different normalized value — a signal the near-duplicate/same-event match
// cascade grouped two Documents that do not actually agree on the facts). It
// is a no-op, not an error, when the Event is already terminal or already in
// QUARANTINE.
func (s *Service) flagQuarantineIfWarranted(ctx context.Context, tx db.Tx, eventID, docID uuid.UUID, src db.Source, now time.Time) (bool, string, error) {
	rule := ""
	details := ""
	switch {
	case src.Blacklisted:
		rule = "source_blacklist"
		details = fmt.Sprintf("source %s is blacklisted", src.Key)
	default:
		kind, value, other, ok, err := s.detectContradiction(ctx, tx, eventID, docID)
		if err != nil {
			return false, "", err
		}
		if !ok {
			return false, "", nil
		}
		rule = "contradictory_evidence"
		details = fmt.Sprintf("anchor kind=%s conflicting values %q vs %q", kind, value, other)
	}

	var current string
	if err := tx.QueryRow(ctx, `SELECT status FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&current); err != nil {
		return false, "", fmt.Errorf("lock event for quarantine guard: %w", err)
	}
	from := eventstate.State(current)
	to, err := eventstate.Apply(from, eventstate.TriggerContradictionFlagged)
	if err != nil {
		// Already quarantined or terminal; nothing to flag.
		return false, "", nil
	}

	if _, err := tx.Exec(ctx, `UPDATE events SET status = $1, last_touched_at = $2, updated_at = $2 WHERE id = $3`, string(to), now, eventID); err != nil {
		return false, "", fmt.Errorf("update event status for quarantine: %w", err)
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO event_state_histories (id, event_id, from_state, to_state, trigger, at)
VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
`, eventID, string(from), string(to), string(eventstate.TriggerContradictionFlagged), now); err != nil {
		return false, "", fmt.Errorf("insert quarantine state history: %w", err)
	}

	metrics.EventStateTransitionsTotal.WithLabelValues(string(from), string(to), string(eventstate.TriggerContradictionFlagged)).Inc()
	s.logger.Warn().Str("event_id", eventID.String()).Str("rule", rule).Str("details", details).Msg("event flagged for quarantine")
	return true, rule, nil
}

// detectContradiction looks for a strong identity anchor already attached to
// eventID under a different normalized value than the same anchor kind on
// docID — e.g. two different CNPJ numbers claimed for what the near-duplicate
// cascade judged to be the same story.
func (s *Service) detectContradiction(ctx context.Context, tx db.Tx, eventID, docID uuid.UUID) (kind, value, otherValue string, found bool, err error) {
	row := tx.QueryRow(ctx, `
SELECT a1.kind, a1.normalized, a2.normalized
FROM anchors a1
JOIN anchors a2 ON a2.kind = a1.kind AND a2.normalized != a1.normalized
JOIN event_docs ed2 ON ed2.document_id = a2.document_id AND ed2.event_id = $1
WHERE a1.document_id = $2 AND a1.confidence >= 0.9 AND a2.confidence >= 0.9
  AND a1.kind = ANY($3)
LIMIT 1
`, eventID, docID, strongAnchorKindList())
	if scanErr := row.Scan(&kind, &value, &otherValue); scanErr != nil {
		if db.IsNoRows(scanErr) {
			return "", "", "", false, nil
		}
		return "", "", "", false, fmt.Errorf("query contradiction candidate: %w", scanErr)
	}
	return kind, value, otherValue, true, nil
}

func (s *Service) createEventTx(ctx context.Context, tx db.Tx, doc db.Document, lane string, now time.Time) (uuid.UUID, error) {
	id := uuid.New()
	headline := strings.TrimSpace(doc.Title)
	if lane == "" {
		lane = "breaking"
	}
	// The founding Document is attached to this Event in the same
	// transaction, so it is never observed sitting at NEW awaiting its
	// first document; it starts life already HYDRATING.
	_, err := tx.Exec(ctx, `
INSERT INTO events (id, lane, status, headline, canonical_doc_id, first_seen_at, last_touched_at, created_at, updated_at)
VALUES ($1, $2, 'hydrating', $3, $4, $5, $5, $5, $5)
`, id, lane, headline, doc.ID, now)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
