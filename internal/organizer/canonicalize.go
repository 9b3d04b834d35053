package organizer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"newsradar/internal/anchor"
	"newsradar/internal/broadcast"
	"newsradar/internal/db"
	"newsradar/internal/globaltime"
	"newsradar/internal/metrics"
)

// Events created independently sometimes turn out to be the same story once
// a later document supplies the strong identity anchor — a tax id, judicial
// process number, administrative process number, audit-court act, bill, or
// decree/ordinance/resolution number — that the organizer's synchronous
// hard-merge rule would have matched on had both documents landed together.
// CanonicalizePending is the deferred reconciliation job: it periodically
// scans for Event pairs that share such an anchor and folds one into the
// other, writing a MergeAudit row. Canonicalization deliberately never
// looks at headline text — a shared strong anchor is the only trigger.
type eventAnchorInfo struct {
	id          uuid.UUID
	firstSeenAt time.Time
	anchorCount int
}

// CanonicalizePending claims up to limit shared-strong-anchor Event pairs
// and folds the younger/thinner Event of each pair into its sibling.
func (s *Service) CanonicalizePending(ctx context.Context, limit int) (int, error) {
	merged := 0
	for i := 0; i < limit; i++ {
		ok, err := s.canonicalizeOne(ctx)
		if err != nil {
			return merged, err
		}
		if !ok {
			break
		}
		merged++
	}
	return merged, nil
}

func strongAnchorKindList() []string {
	kinds := make([]string, 0, len(anchor.StrongKinds))
	for k, strong := range anchor.StrongKinds {
		if strong {
			kinds = append(kinds, string(k))
		}
	}
	return kinds
}

func (s *Service) canonicalizeOne(ctx context.Context) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var anchorKind, anchorValue string
	var eventA, eventB uuid.UUID
	row := tx.QueryRow(ctx, `
SELECT a1.kind, a1.normalized, ed1.event_id, ed2.event_id
FROM anchors a1
JOIN event_docs ed1 ON ed1.document_id = a1.document_id
JOIN anchors a2 ON a2.kind = a1.kind AND a2.normalized = a1.normalized AND a2.document_id != a1.document_id
JOIN event_docs ed2 ON ed2.document_id = a2.document_id AND ed2.event_id != ed1.event_id
JOIN events e1 ON e1.id = ed1.event_id AND e1.merged_into_id IS NULL
JOIN events e2 ON e2.id = ed2.event_id AND e2.merged_into_id IS NULL
WHERE a1.kind = ANY($1) AND a1.confidence >= 0.9 AND a2.confidence >= 0.9
  AND ed1.event_id < ed2.event_id
LIMIT 1
`, strongAnchorKindList())
	if err := row.Scan(&anchorKind, &anchorValue, &eventA, &eventB); err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("find shared-anchor candidate: %w", err)
	}

	infos := make([]eventAnchorInfo, 0, 2)
	for _, id := range []uuid.UUID{eventA, eventB} {
		var info eventAnchorInfo
		info.id = id
		lockRow := tx.QueryRow(ctx, `SELECT first_seen_at FROM events WHERE id = $1 AND merged_into_id IS NULL FOR UPDATE`, id)
		if err := lockRow.Scan(&info.firstSeenAt); err != nil {
			if db.IsNoRows(err) {
				// One side of the pair was merged by a concurrent worker
				// since the candidate query ran; skip this round.
				return false, nil
			}
			return false, fmt.Errorf("lock canonicalization candidate: %w", err)
		}
		countRow := tx.QueryRow(ctx, `
SELECT COUNT(DISTINCT a.id)
FROM event_docs ed
JOIN anchors a ON a.document_id = ed.document_id
WHERE ed.event_id = $1
`, id)
		if err := countRow.Scan(&info.anchorCount); err != nil {
			return false, fmt.Errorf("count event anchors: %w", err)
		}
		infos = append(infos, info)
	}

	// Canonical wins by earliest first_seen_at, then by the higher anchor
	// count on a tie.
	canonical, absorbed := infos[0], infos[1]
	if absorbed.firstSeenAt.Before(canonical.firstSeenAt) ||
		(absorbed.firstSeenAt.Equal(canonical.firstSeenAt) && absorbed.anchorCount > canonical.anchorCount) {
		canonical, absorbed = absorbed, canonical
	}

	details := fmt.Sprintf("shared_anchor kind=%s value=%s", anchorKind, anchorValue)
	if err := mergeWithinTx(ctx, tx, absorbed.id, canonical.id, "deferred_shared_anchor_canonicalization", details); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	if s.hub != nil {
		s.hub.Publish(absorbed.id.String(), broadcast.EventMerged, map[string]any{"merged_into": canonical.id.String()})
		s.hub.Publish(canonical.id.String(), broadcast.EventUpsert, map[string]any{"absorbed": absorbed.id.String()})
	}
	metrics.EventMergesTotal.WithLabelValues("deferred_shared_anchor_canonicalization").Inc()

	s.logger.Info().Str("absorbed_event", absorbed.id.String()).Str("canonical_event", canonical.id.String()).
		Str("anchor_kind", anchorKind).Str("anchor_value", anchorValue).Msg("deferred canonicalization merge")
	return true, nil
}

// mergeWithinTx folds sourceID into targetID: it tombstones the source
// Event, re-homes its event_docs to the target, and writes a MergeAudit row.
// Both canonicalizeOne's automatic policy merge and MergeExplicit's
// editor-directed merge share this mutation.
func mergeWithinTx(ctx context.Context, tx db.Tx, sourceID, targetID uuid.UUID, rule, details string) error {
	now := globaltime.UTC()
	if _, err := tx.Exec(ctx, `UPDATE events SET merged_into_id = $1, status = 'merged', updated_at = $2 WHERE id = $3`, targetID, now, sourceID); err != nil {
		return fmt.Errorf("mark event merged: %w", err)
	}
	if _, err := tx.Exec(ctx, `
UPDATE event_docs SET event_id = $1
WHERE event_id = $2
  AND NOT EXISTS (SELECT 1 FROM event_docs ed2 WHERE ed2.event_id = $1 AND ed2.document_id = event_docs.document_id)
`, targetID, sourceID); err != nil {
		return fmt.Errorf("reparent event_docs: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM event_docs WHERE event_id = $1`, sourceID); err != nil {
		return fmt.Errorf("clear stale event_docs: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE events SET last_touched_at = $1, updated_at = $1 WHERE id = $2`, now, targetID); err != nil {
		return fmt.Errorf("touch target event: %w", err)
	}

	auditID := uuid.New()
	if _, err := tx.Exec(ctx, `
INSERT INTO merge_audits (id, source_event, target_event, rule, details, merged_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, auditID, sourceID, targetID, rule, details, now); err != nil {
		return fmt.Errorf("insert merge audit: %w", err)
	}
	return nil
}

// MergeExplicit folds sourceID into targetID at an editor's direction,
// honoring the caller's chosen direction rather than canonicalizeOne's
// first-seen-wins policy. It is idempotent: if sourceID is already merged
// into targetID, it reports merged=false and writes no second MergeAudit
// row.
func (s *Service) MergeExplicit(ctx context.Context, sourceID, targetID uuid.UUID, rule, details string) (bool, error) {
	if sourceID == targetID {
		return false, fmt.Errorf("cannot merge event into itself")
	}

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var currentStatus string
	var mergedInto *uuid.UUID
	row := tx.QueryRow(ctx, `SELECT status, merged_into_id FROM events WHERE id = $1 FOR UPDATE`, sourceID)
	if err := row.Scan(&currentStatus, &mergedInto); err != nil {
		return false, fmt.Errorf("lock source event: %w", err)
	}
	if currentStatus == "merged" && mergedInto != nil && *mergedInto == targetID {
		return false, nil
	}

	var targetExists bool
	targetRow := tx.QueryRow(ctx, `SELECT true FROM events WHERE id = $1 AND merged_into_id IS NULL FOR UPDATE`, targetID)
	if err := targetRow.Scan(&targetExists); err != nil {
		if db.IsNoRows(err) {
			return false, fmt.Errorf("target event %s does not exist or is itself merged", targetID)
		}
		return false, fmt.Errorf("lock target event: %w", err)
	}

	if err := mergeWithinTx(ctx, tx, sourceID, targetID, rule, details); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	if s.hub != nil {
		s.hub.Publish(sourceID.String(), broadcast.EventMerged, map[string]any{"merged_into": targetID.String()})
		s.hub.Publish(targetID.String(), broadcast.EventUpsert, map[string]any{"absorbed": sourceID.String()})
	}
	metrics.EventMergesTotal.WithLabelValues(rule).Inc()

	s.logger.Info().Str("source_event", sourceID.String()).Str("target_event", targetID.String()).
		Str("rule", rule).Msg("explicit editor-directed merge")
	return true, nil
}
