package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventSummary is a read model used by the events-list CLI command and HTTP listing endpoint.
type EventSummary struct {
	EventID         string    `json:"event_id"`
	Lane            string    `json:"lane"`
	Status          string    `json:"status"`
	Headline        string    `json:"headline"`
	DocumentCount   int       `json:"document_count"`
	SourceCount     int       `json:"source_count"`
	ScorePlantao    float64   `json:"score_plantao"`
	ScoreOceanoAzul float64   `json:"score_oceano_azul"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastTouchedAt   time.Time `json:"last_touched_at"`
}

// EventListOptions controls list queries scoped by lane and touch window.
type EventListOptions struct {
	Lane  string
	From  time.Time
	To    time.Time
	Limit int
}

// EventDetail contains one event and all member documents.
type EventDetail struct {
	Event     EventDetailHeader     `json:"event"`
	Documents []EventDetailDocument `json:"documents"`
}

// EventDetailHeader is the event section of event-detail output.
type EventDetailHeader struct {
	EventID       string    `json:"event_id"`
	Lane          string    `json:"lane"`
	Status        string    `json:"status"`
	Headline      string    `json:"headline"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastTouchedAt time.Time `json:"last_touched_at"`
}

// EventDetailDocument is a document row within an event.
type EventDetailDocument struct {
	DocumentID   string     `json:"document_id"`
	Title        string     `json:"title"`
	CanonicalURL string     `json:"canonical_url"`
	SourceID     string     `json:"source_id"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	MatchRule    string     `json:"match_rule"`
	AddedAt      time.Time  `json:"added_at"`
}

// ListEventsByTouchWindow lists events last touched within the given UTC window.
func (p *Pool) ListEventsByTouchWindow(ctx context.Context, opts EventListOptions) ([]EventSummary, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	from := opts.From.UTC()
	to := opts.To.UTC()
	if !from.Before(to) {
		return nil, fmt.Errorf("from must be before to")
	}

	const q = `
SELECT
	e.id::text,
	e.lane,
	e.status,
	e.headline,
	COUNT(DISTINCT ed.document_id) AS document_count,
	COUNT(DISTINCT d.source_id) AS source_count,
	COALESCE(es.score_plantao, 0),
	COALESCE(es.score_oceano_azul, 0),
	e.first_seen_at,
	e.last_touched_at
FROM events e
LEFT JOIN event_docs ed ON ed.event_id = e.id
LEFT JOIN documents d ON d.id = ed.document_id
LEFT JOIN event_scores es ON es.event_id = e.id
WHERE e.last_touched_at >= $1
  AND e.last_touched_at < $2
  AND ($3 = '' OR e.lane = $3)
  AND e.merged_into_id IS NULL
GROUP BY e.id, e.lane, e.status, e.headline, e.first_seen_at, e.last_touched_at, es.score_plantao, es.score_oceano_azul
ORDER BY es.score_plantao DESC NULLS LAST, e.last_touched_at DESC
LIMIT $4
`

	rows, err := p.Query(ctx, q, from, to, normalizeLane(opts.Lane), opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("query events by touch window: %w", err)
	}
	defer rows.Close()

	return scanEventSummaries(rows, opts.Limit)
}

// SearchEventsByHeadline performs an ILIKE headline search.
func (p *Pool) SearchEventsByHeadline(ctx context.Context, query, lane string, limit int) ([]EventSummary, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, fmt.Errorf("query is required")
	}
	search := "%" + trimmed + "%"

	const q = `
SELECT
	e.id::text,
	e.lane,
	e.status,
	e.headline,
	COUNT(DISTINCT ed.document_id),
	COUNT(DISTINCT d.source_id),
	COALESCE(es.score_plantao, 0),
	COALESCE(es.score_oceano_azul, 0),
	e.first_seen_at,
	e.last_touched_at
FROM events e
LEFT JOIN event_docs ed ON ed.event_id = e.id
LEFT JOIN documents d ON d.id = ed.document_id
LEFT JOIN event_scores es ON es.event_id = e.id
WHERE ($1 = '' OR e.lane = $1)
  AND e.headline ILIKE $2
  AND e.merged_into_id IS NULL
GROUP BY e.id, e.lane, e.status, e.headline, e.first_seen_at, e.last_touched_at, es.score_plantao, es.score_oceano_azul
ORDER BY es.score_plantao DESC NULLS LAST, e.last_touched_at DESC
LIMIT $3
`
	rows, err := p.Query(ctx, q, normalizeLane(lane), search, limit)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	defer rows.Close()
	return scanEventSummaries(rows, limit)
}

// GetEventDetail returns one event and all its member documents. A lookup
// of an Event that has been merged away follows merged_into_id to its
// canonical successor before reading the header and members, so a stale
// link to an absorbed Event still resolves to the story it was folded into.
func (p *Pool) GetEventDetail(ctx context.Context, eventID string) (*EventDetail, error) {
	trimmed := strings.TrimSpace(eventID)
	if trimmed == "" {
		return nil, fmt.Errorf("event id is required")
	}

	canonicalID, err := p.resolveCanonicalEventID(ctx, trimmed)
	if err != nil {
		return nil, err
	}

	const eventQuery = `
SELECT e.id::text, e.lane, e.status, e.headline, e.first_seen_at, e.last_touched_at
FROM events e
WHERE e.id = $1::uuid
`
	var header EventDetailHeader
	if err := p.QueryRow(ctx, eventQuery, canonicalID).Scan(
		&header.EventID, &header.Lane, &header.Status, &header.Headline,
		&header.FirstSeenAt, &header.LastTouchedAt,
	); err != nil {
		if errors.Is(err, ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query event detail header: %w", err)
	}
	trimmed = canonicalID

	const membersQuery = `
SELECT d.id::text, d.title, d.canonical_url, d.source_id::text, d.published_at, ed.match_rule, ed.added_at
FROM event_docs ed
JOIN documents d ON d.id = ed.document_id
WHERE ed.event_id = $1::uuid
ORDER BY ed.added_at DESC
`
	rows, err := p.Query(ctx, membersQuery, trimmed)
	if err != nil {
		return nil, fmt.Errorf("query event detail members: %w", err)
	}
	defer rows.Close()

	members := make([]EventDetailDocument, 0, 8)
	for rows.Next() {
		var m EventDetailDocument
		if err := rows.Scan(&m.DocumentID, &m.Title, &m.CanonicalURL, &m.SourceID, &m.PublishedAt, &m.MatchRule, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("scan event detail member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event detail members: %w", err)
	}

	return &EventDetail{Event: header, Documents: members}, nil
}

// resolveCanonicalEventID follows an Event's merged_into_id chain to the
// Event it ultimately resolves to. A merge chain is expected to be at most
// one hop deep (mergeWithinTx always folds into a non-merged target), but
// the walk is bounded defensively rather than assumed.
func (p *Pool) resolveCanonicalEventID(ctx context.Context, eventID string) (string, error) {
	current := eventID
	const maxHops = 8
	for i := 0; i < maxHops; i++ {
		var mergedInto *string
		row := p.QueryRow(ctx, `SELECT merged_into_id::text FROM events WHERE id = $1::uuid`, current)
		if err := row.Scan(&mergedInto); err != nil {
			if errors.Is(err, ErrNoRows) {
				return current, ErrNoRows
			}
			return current, fmt.Errorf("resolve canonical event: %w", err)
		}
		if mergedInto == nil {
			return current, nil
		}
		current = *mergedInto
	}
	return current, nil
}

func scanEventSummaries(rows *Rows, capacity int) ([]EventSummary, error) {
	if capacity < 0 {
		capacity = 0
	}
	items := make([]EventSummary, 0, capacity)
	for rows.Next() {
		var row EventSummary
		if err := rows.Scan(
			&row.EventID, &row.Lane, &row.Status, &row.Headline,
			&row.DocumentCount, &row.SourceCount, &row.ScorePlantao, &row.ScoreOceanoAzul,
			&row.FirstSeenAt, &row.LastTouchedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event summary row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event summary rows: %w", err)
	}
	return items, nil
}

func normalizeLane(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}

// EventFeatureRow is the aggregated feature set the scoring engine and
// state machine sweep a non-terminal Event against.
type EventFeatureRow struct {
	EventID             string
	Status              string
	Lane                string
	Headline            string
	FirstSeenAt         time.Time
	DocumentCount       int
	SourceCount         int
	OfficialSourceCount int
	AnchorCount         int
	StrongAnchorCount   int
	MoneyMentionCount   int
	HasPDF              bool
	HasOfficialDomain   bool
	HasTableLike        bool
	MaxEvidenceScore    float64
	// HasTier1Source reports whether any Document currently attached to the
	// Event came from a tier1 Source, feeding the UNVERIFIED_VIRAL override.
	HasTier1Source bool
	// FirstTier1AddedAt is when the earliest Tier-1-sourced Document joined
	// the Event, or nil if none has yet — the input to the scoring engine's
	// coverage-lag term.
	FirstTier1AddedAt *time.Time
	// PrimaryStrategy is the extract.Strategy of the Source behind the
	// Event's earliest attached Document, used to pick which Fetcher pool's
	// gating timeout applies to a HYDRATING Event (see internal/eventstate).
	PrimaryStrategy string
	Flags           Flags
}

// LoadActiveEventFeatures returns the feature set for every non-terminal,
// non-merged Event, for the scoring/state sweep to evaluate.
func (p *Pool) LoadActiveEventFeatures(ctx context.Context, terminalStates []string) ([]EventFeatureRow, error) {
	placeholders := make([]string, len(terminalStates))
	args := make([]any, 0, len(terminalStates)+0)
	for i, s := range terminalStates {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, s)
	}
	notIn := "''"
	if len(placeholders) > 0 {
		notIn = strings.Join(placeholders, ", ")
	}

	q := fmt.Sprintf(`
SELECT
	e.id::text,
	e.status,
	e.lane,
	e.headline,
	e.first_seen_at,
	e.flags,
	COUNT(DISTINCT ed.document_id),
	COUNT(DISTINCT d.source_id),
	COUNT(DISTINCT d.source_id) FILTER (WHERE s.is_official),
	COUNT(DISTINCT d.source_id) FILTER (WHERE s.tier = 'tier1') > 0,
	MIN(ed.added_at) FILTER (WHERE s.tier = 'tier1'),
	COALESCE(SUM(ef.anchor_count), 0),
	COALESCE(SUM(ef.strong_anchor_count), 0),
	COALESCE(SUM(ef.money_mention_count), 0),
	COALESCE(BOOL_OR(ef.has_pdf), false),
	COALESCE(BOOL_OR(ef.has_official_domain), false),
	COALESCE(BOOL_OR(ef.has_table_like), false),
	COALESCE(MAX(ef.evidence_score), 0),
	COALESCE(primary_src.strategy, '')
FROM events e
LEFT JOIN event_docs ed ON ed.event_id = e.id
LEFT JOIN documents d ON d.id = ed.document_id
LEFT JOIN sources s ON s.id = d.source_id
LEFT JOIN evidence_features ef ON ef.document_id = d.id
LEFT JOIN LATERAL (
	SELECT s2.strategy
	FROM event_docs ed2
	JOIN documents d2 ON d2.id = ed2.document_id
	JOIN sources s2 ON s2.id = d2.source_id
	WHERE ed2.event_id = e.id
	ORDER BY ed2.added_at ASC
	LIMIT 1
) primary_src ON true
WHERE e.merged_into_id IS NULL
  AND e.status NOT IN (%s)
GROUP BY e.id, e.status, e.lane, e.headline, e.first_seen_at, e.flags, primary_src.strategy
`, notIn)

	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query active event features: %w", err)
	}
	defer rows.Close()

	var out []EventFeatureRow
	for rows.Next() {
		var row EventFeatureRow
		if err := rows.Scan(
			&row.EventID, &row.Status, &row.Lane, &row.Headline, &row.FirstSeenAt, &row.Flags,
			&row.DocumentCount, &row.SourceCount, &row.OfficialSourceCount, &row.HasTier1Source,
			&row.FirstTier1AddedAt,
			&row.AnchorCount, &row.StrongAnchorCount, &row.MoneyMentionCount,
			&row.HasPDF, &row.HasOfficialDomain, &row.HasTableLike, &row.MaxEvidenceScore,
			&row.PrimaryStrategy,
		); err != nil {
			return nil, fmt.Errorf("scan active event feature row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active event feature rows: %w", err)
	}
	return out, nil
}

// LoadEventFeature returns the feature set for a single Event by id,
// regardless of its status, for on-demand re-scoring after an editorial
// MERGE or SPLIT action.
func (p *Pool) LoadEventFeature(ctx context.Context, eventID string) (EventFeatureRow, error) {
	const q = `
SELECT
	e.id::text,
	e.status,
	e.lane,
	e.headline,
	e.first_seen_at,
	e.flags,
	COUNT(DISTINCT ed.document_id),
	COUNT(DISTINCT d.source_id),
	COUNT(DISTINCT d.source_id) FILTER (WHERE s.is_official),
	COUNT(DISTINCT d.source_id) FILTER (WHERE s.tier = 'tier1') > 0,
	MIN(ed.added_at) FILTER (WHERE s.tier = 'tier1'),
	COALESCE(SUM(ef.anchor_count), 0),
	COALESCE(SUM(ef.strong_anchor_count), 0),
	COALESCE(SUM(ef.money_mention_count), 0),
	COALESCE(BOOL_OR(ef.has_pdf), false),
	COALESCE(BOOL_OR(ef.has_official_domain), false),
	COALESCE(BOOL_OR(ef.has_table_like), false),
	COALESCE(MAX(ef.evidence_score), 0),
	COALESCE(primary_src.strategy, '')
FROM events e
LEFT JOIN event_docs ed ON ed.event_id = e.id
LEFT JOIN documents d ON d.id = ed.document_id
LEFT JOIN sources s ON s.id = d.source_id
LEFT JOIN evidence_features ef ON ef.document_id = d.id
LEFT JOIN LATERAL (
	SELECT s2.strategy
	FROM event_docs ed2
	JOIN documents d2 ON d2.id = ed2.document_id
	JOIN sources s2 ON s2.id = d2.source_id
	WHERE ed2.event_id = e.id
	ORDER BY ed2.added_at ASC
	LIMIT 1
) primary_src ON true
WHERE e.id = $1::uuid
GROUP BY e.id, e.status, e.lane, e.headline, e.first_seen_at, e.flags, primary_src.strategy
`
	var row EventFeatureRow
	if err := p.QueryRow(ctx, q, eventID).Scan(
		&row.EventID, &row.Status, &row.Lane, &row.Headline, &row.FirstSeenAt, &row.Flags,
		&row.DocumentCount, &row.SourceCount, &row.OfficialSourceCount, &row.HasTier1Source,
		&row.FirstTier1AddedAt,
		&row.AnchorCount, &row.StrongAnchorCount, &row.MoneyMentionCount,
		&row.HasPDF, &row.HasOfficialDomain, &row.HasTableLike, &row.MaxEvidenceScore,
		&row.PrimaryStrategy,
	); err != nil {
		return EventFeatureRow{}, fmt.Errorf("query event feature: %w", err)
	}
	return row, nil
}
