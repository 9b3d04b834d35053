// Package ingest records one Fetcher attempt (C3) against a Source: it
// writes the FetchAttempt bookkeeping row and, when the fetched body differs
// from the last stored Snapshot by content hash, a new Snapshot row. This is
// the transactional boundary spec §8's "conditional re-fetch does not create
// a duplicate Snapshot" property is checked against.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"newsradar/internal/db"
	"newsradar/internal/globaltime"
)

// Service records fetch outcomes into the database.
type Service struct {
	pool   *db.Pool
	logger zerolog.Logger
}

// NewService constructs an ingest Service.
func NewService(pool *db.Pool, logger zerolog.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// Request describes one completed fetch attempt awaiting persistence.
type Request struct {
	SourceID     uuid.UUID
	Pool         string
	URL          string
	StatusCode   int
	Outcome      string
	ErrorMessage string
	DurationMS   int64
	ContentType  string
	ETag         string
	LastModified string
	Body         []byte

	// NotModified marks a literal HTTP 304 response. When true, IngestOne
	// records the FetchAttempt only and never creates a Snapshot, regardless
	// of what the (typically empty) body hashes to.
	NotModified bool
}

// Result reports whether a new Snapshot was created; SnapshotNew is false
// when the body's content hash matched the most recent Snapshot for this
// URL, i.e. a logical "not modified" outcome even over a fetcher that does
// not itself support conditional GET.
type Result struct {
	AttemptID      uuid.UUID
	SnapshotID     *uuid.UUID
	SnapshotNew    bool
	ContentHashHex string
}

// LastConditionalHeaders returns the ETag and Last-Modified header values
// stored on the most recent Snapshot recorded for url, so the Fetcher can
// send them back as If-None-Match/If-Modified-Since on the next attempt. It
// returns empty strings, not an error, when no prior Snapshot exists.
func (s *Service) LastConditionalHeaders(ctx context.Context, url string) (etag, lastModified string, err error) {
	if s == nil || s.pool == nil {
		return "", "", fmt.Errorf("ingest service is not initialized")
	}
	row := s.pool.QueryRow(ctx, `SELECT etag, last_modified FROM snapshots WHERE url = $1 ORDER BY fetched_at DESC LIMIT 1`, url)
	if scanErr := row.Scan(&etag, &lastModified); scanErr != nil {
		if db.IsNoRows(scanErr) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("lookup previous snapshot headers: %w", scanErr)
	}
	return etag, lastModified, nil
}

// IngestOne persists a FetchAttempt row and, if the body's content hash
// differs from the URL's most recent Snapshot, a new Snapshot row, inside a
// single transaction.
func (s *Service) IngestOne(ctx context.Context, req Request) (Result, error) {
	if s == nil || s.pool == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}
	if req.SourceID == uuid.Nil {
		return Result{}, fmt.Errorf("source_id is required")
	}
	if req.URL == "" {
		return Result{}, fmt.Errorf("url is required")
	}

	hash := sha256.Sum256(req.Body)
	hashHex := hex.EncodeToString(hash[:])
	now := globaltime.UTC()

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var lastHash string
	row := tx.QueryRow(ctx, `SELECT content_hash FROM snapshots WHERE url = $1 ORDER BY fetched_at DESC LIMIT 1`, req.URL)
	scanErr := row.Scan(&lastHash)
	if scanErr != nil && !db.IsNoRows(scanErr) {
		return Result{}, fmt.Errorf("lookup previous snapshot: %w", scanErr)
	}

	attemptID := uuid.New()
	var snapshotID *uuid.UUID
	snapshotNew := !req.NotModified && (lastHash == "" || lastHash != hashHex)

	if snapshotNew {
		newID := uuid.New()
		const insertSnapshot = `
INSERT INTO snapshots (id, source_id, url, content_hash, etag, last_modified, content_type, body, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
		if _, err := tx.Exec(ctx, insertSnapshot, newID, req.SourceID, req.URL, hashHex, req.ETag, req.LastModified, req.ContentType, req.Body, now); err != nil {
			return Result{}, fmt.Errorf("insert snapshot: %w", err)
		}
		snapshotID = &newID
	}

	const insertAttempt = `
INSERT INTO fetch_attempts (id, source_id, pool, url, status_code, outcome, error_message, duration_ms, attempted_at, snapshot_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	if _, err := tx.Exec(ctx, insertAttempt, attemptID, req.SourceID, req.Pool, req.URL, req.StatusCode, req.Outcome, req.ErrorMessage, req.DurationMS, now, snapshotID); err != nil {
		return Result{}, fmt.Errorf("insert fetch_attempt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info().
		Str("source_id", req.SourceID.String()).
		Str("url", req.URL).
		Bool("snapshot_new", snapshotNew).
		Msg("fetch attempt recorded")

	return Result{
		AttemptID:      attemptID,
		SnapshotID:     snapshotID,
		SnapshotNew:    snapshotNew,
		ContentHashHex: hashHex,
	}, nil
}
