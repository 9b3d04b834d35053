// Package documents turns an extracted article body into a pending
// Document row plus its Anchor, EvidenceFeatures, and EntityMention
// children — the step between the Fetcher handing back a body and the
// Organizer picking the Document up for clustering.
package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"newsradar/internal/anchor"
	"newsradar/internal/db"
	"newsradar/internal/extract"
	"newsradar/internal/fetch"
	"newsradar/internal/globaltime"
	"newsradar/internal/metrics"
	"newsradar/internal/organizer"
	"newsradar/internal/scheduler"
)

// Builder extracts, anchors, and persists Documents from a fetched body.
type Builder struct {
	pool         *db.Pool
	chromeBinary string
	logger       zerolog.Logger
}

// NewBuilder constructs a Builder. chromeBinary is the chromedp executable
// path used to render SPA_HEADLESS sources; empty uses chromedp's bundled
// default.
func NewBuilder(pool *db.Pool, chromeBinary string, logger zerolog.Logger) *Builder {
	return &Builder{pool: pool, chromeBinary: chromeBinary, logger: logger}
}

// HandleFetched is the extractFn the Fetcher's pools call after every fetch
// that produced a new Snapshot. It dispatches on the Source's strategy,
// builds one or more candidate Documents, and persists each as 'pending'
// for the Organizer to cluster. For SPA_HEADLESS sources, HandleFetched
// renders the page itself through fetch.RenderSPA and extracts from that
// HTML instead of body.
func (b *Builder) HandleFetched(ctx context.Context, job scheduler.Job, snapshotID uuid.UUID, body []byte, contentType string) error {
	src := job.SourceID

	switch extract.Strategy(src.Strategy) {
	case extract.StrategyRSS:
		items, err := extract.ExtractRSS(body)
		if err != nil {
			return fmt.Errorf("extract rss: %w", err)
		}
		var firstErr error
		for _, item := range items {
			if err := b.persist(ctx, src, snapshotID, item); err != nil {
				b.logger.Error().Err(err).Str("source", src.Key).Msg("persist rss item failed")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr

	case extract.StrategyPDF:
		text, err := extract.ExtractPDF(body, int64(len(body)))
		if err != nil {
			return fmt.Errorf("extract pdf: %w", err)
		}
		return b.persist(ctx, src, snapshotID, extract.Item{
			CanonicalURL: src.BaseURL, Title: src.Name, BodyText: text,
		})

	case extract.StrategySPAHeadless:
		rendered, err := fetch.RenderSPA(ctx, src.BaseURL, b.chromeBinary)
		if err != nil {
			return fmt.Errorf("render spa: %w", err)
		}
		text, err := extract.ExtractHTML([]byte(rendered), src.BaseURL, src.Name)
		if err != nil {
			return fmt.Errorf("extract rendered html: %w", err)
		}
		return b.persist(ctx, src, snapshotID, extract.Item{
			CanonicalURL: src.BaseURL, Title: src.Name, BodyText: text,
		})

	default: // HTML, API, SPA_API — all hand in an HTML body by this point
		text, err := extract.ExtractHTML(body, src.BaseURL, src.Name)
		if err != nil {
			return fmt.Errorf("extract html: %w", err)
		}
		return b.persist(ctx, src, snapshotID, extract.Item{
			CanonicalURL: src.BaseURL, Title: src.Name, BodyText: text,
		})
	}
}

func (b *Builder) persist(ctx context.Context, src db.Source, snapshotID uuid.UUID, item extract.Item) error {
	title := strings.TrimSpace(item.Title)
	body := strings.TrimSpace(item.BodyText)
	if body == "" {
		return fmt.Errorf("empty body text for %s", item.CanonicalURL)
	}
	if title == "" {
		title = firstLine(body)
	}

	canonicalURL := organizer.NormalizeURL(item.CanonicalURL)
	anchors := anchor.Extract(body)
	mentions := anchor.ExtractEntityMentions(body)
	lang := anchor.DetectLanguage(body)
	now := globaltime.UTC()
	docID := uuid.New()

	tx, err := b.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO documents (id, source_id, snapshot_id, canonical_url, title, body_text, published_at,
	detected_language, title_simhash, body_simhash, content_hash, extract_strategy, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'pending', $13)
ON CONFLICT (canonical_url) DO NOTHING
`, docID, src.ID, snapshotID, canonicalURL, title, body, item.PublishedAt,
		lang, organizer.Simhash64(title), organizer.Simhash64(body), contentHash(canonicalURL, body), src.Strategy, now,
	); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for _, a := range anchors {
		if _, err := tx.Exec(ctx, `
INSERT INTO anchors (id, document_id, kind, value, normalized, confidence, span_start, span_end, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, uuid.New(), docID, string(a.Kind), a.Value, a.Normalized, a.Confidence, a.SpanStart, a.SpanEnd, now); err != nil {
			return fmt.Errorf("insert anchor: %w", err)
		}
	}
	for _, m := range mentions {
		if _, err := tx.Exec(ctx, `
INSERT INTO entity_mentions (id, document_id, entity_value, entity_kind) VALUES ($1, $2, $3, $4)
`, uuid.New(), docID, strings.ToLower(m.Value), "proxy"); err != nil {
			return fmt.Errorf("insert entity mention: %w", err)
		}
	}

	features := anchor.EvidenceScoreInput{
		StrongAnchorCount: anchor.StrongAnchorCount(anchors),
		MoneyMentionCount: anchor.MoneyMentionCount(anchors),
		HasPDF:            anchor.HasPDFArtifact(anchors),
		HasOfficialDomain: anchor.HasOfficialDomainArtifact(anchors) || src.IsOfficial,
		HasTableLike:      anchor.HasTableLikeLayout(body),
	}
	evidenceScore := anchor.ComputeEvidenceScore(features)

	if _, err := tx.Exec(ctx, `
INSERT INTO evidence_features (document_id, evidence_score, anchor_count, strong_anchor_count,
	money_mention_count, has_pdf, has_official_domain, has_table_like, official_source, entity_overlap, computed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)
`, docID, evidenceScore, len(anchors), features.StrongAnchorCount, features.MoneyMentionCount,
		features.HasPDF, features.HasOfficialDomain, features.HasTableLike, src.IsOfficial, now); err != nil {
		return fmt.Errorf("insert evidence features: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit document: %w", err)
	}

	metrics.ExtractItemsTotal.WithLabelValues(src.ID.String(), src.Strategy).Inc()
	metrics.AnchorYieldTotal.WithLabelValues(src.ID.String()).Add(float64(len(anchors)))
	metrics.EvidenceScoreHistogram.WithLabelValues(src.ID.String()).Observe(evidenceScore)

	b.logger.Info().Str("document_id", docID.String()).Str("source", src.Key).Msg("document persisted")
	return nil
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		return strings.TrimSpace(text[:idx])
	}
	if len(text) > 120 {
		return strings.TrimSpace(text[:120])
	}
	return text
}

func contentHash(canonicalURL, body string) string {
	sum := sha256.Sum256([]byte(canonicalURL + "|" + body))
	return hex.EncodeToString(sum[:])
}
