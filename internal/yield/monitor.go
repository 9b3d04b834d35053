// Package yield implements the yield monitor (C11): it keeps a rolling
// baseline of evidence-bearing documents produced per source and raises
// DATA_STARVATION when a source's recent throughput falls far enough below
// its own baseline. The baseline is a flat average of the source's recent
// snapshots; it does not account for business days or hour of day, and the
// profile's business_calendar field is not read here.
package yield

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"newsradar/internal/db"
	"newsradar/internal/globaltime"
	"newsradar/internal/metrics"
)

const (
	sampleWindow    = 1 * time.Hour
	baselineWindow  = 14 * 24 * time.Hour
	starvationRatio = 0.25 // current/baseline below this ratio is starvation
)

// Monitor samples recent throughput per source and flags starvation.
type Monitor struct {
	pool   *db.Pool
	logger zerolog.Logger
}

// NewMonitor constructs a yield Monitor.
func NewMonitor(pool *db.Pool, logger zerolog.Logger) *Monitor {
	return &Monitor{pool: pool, logger: logger}
}

// StarvationSignal is emitted for a source whose recent evidence-bearing
// yield is far below its own historical baseline — the literal "HTTP 200
// with anchors=0 for 2 hours" scenario, which a raw document-row count
// alone cannot distinguish from healthy throughput.
type StarvationSignal struct {
	SourceID     uuid.UUID
	SourceKey    string
	Lane         string
	YieldCount   int
	RawCount     int
	BaselineMean float64
	Ratio        float64
}

// SampleAndDetect records one YieldSnapshot per enabled Source in lanes for
// the trailing sampleWindow and returns the sources whose evidence-bearing
// yield looks starved relative to their own trailing baselineWindow
// average.
func (m *Monitor) SampleAndDetect(ctx context.Context, lanes []string) ([]StarvationSignal, error) {
	now := globaltime.UTC()
	windowStart := now.Add(-sampleWindow)

	var srcs []db.Source
	if err := m.pool.GORM().WithContext(ctx).Where("enabled = ? AND lane IN ?", true, lanes).Find(&srcs).Error; err != nil {
		return nil, fmt.Errorf("load sources for yield sampling: %w", err)
	}

	var signals []StarvationSignal
	for _, src := range srcs {
		yieldCount, rawCount, err := m.countWindow(ctx, src.ID, windowStart, now)
		if err != nil {
			return nil, fmt.Errorf("count window for source %s: %w", src.Key, err)
		}

		starved := false
		baselineMean, err := m.baselineMean(ctx, src.ID, now)
		if err != nil {
			return nil, fmt.Errorf("compute baseline for source %s: %w", src.Key, err)
		}

		ratio := 1.0
		if baselineMean > 0 {
			ratio = float64(yieldCount) / baselineMean
			if ratio < starvationRatio {
				starved = true
			}
		} else if rawCount > 0 && yieldCount == 0 {
			// No baseline yet, but the source is actively returning content
			// with zero evidence — the literal HTTP-200-empty-content case.
			starved = true
		}

		if err := m.pool.GORM().WithContext(ctx).Create(&db.YieldSnapshot{
			ID:          uuid.New(),
			SourceID:    src.ID,
			Lane:        src.Lane,
			WindowStart: windowStart,
			WindowEnd:   now,
			YieldCount:  yieldCount,
			EventCount:  rawCount,
			Starved:     starved,
		}).Error; err != nil {
			return nil, fmt.Errorf("insert yield snapshot for source %s: %w", src.Key, err)
		}

		if starved {
			signals = append(signals, StarvationSignal{
				SourceID: src.ID, SourceKey: src.Key, Lane: src.Lane,
				YieldCount: yieldCount, RawCount: rawCount, BaselineMean: baselineMean, Ratio: ratio,
			})
			metrics.DataStarvationIncidentsTotal.WithLabelValues(hostOf(src.BaseURL)).Inc()
			m.logger.Warn().
				Str("source", src.Key).
				Int("yield_count", yieldCount).
				Int("raw_count", rawCount).
				Float64("ratio", ratio).
				Msg("DATA_STARVATION detected")
		}
	}
	return signals, nil
}

// countWindow returns (yieldCount, rawCount) for sourceID over [from, to):
// rawCount is every Document fetched, yieldCount is the subset carrying at
// least one anchor or a positive evidence score. A source stuck returning
// HTTP 200 with boilerplate content shows rawCount healthy but yieldCount
// at zero.
func (m *Monitor) countWindow(ctx context.Context, sourceID uuid.UUID, from, to time.Time) (int, int, error) {
	var rawCount int64
	if err := m.pool.GORM().WithContext(ctx).
		Model(&db.Document{}).
		Where("source_id = ? AND created_at >= ? AND created_at < ?", sourceID, from, to).
		Count(&rawCount).Error; err != nil {
		return 0, 0, err
	}

	var yieldCount int64
	if err := m.pool.GORM().WithContext(ctx).
		Table("documents d").
		Joins("JOIN evidence_features ef ON ef.document_id = d.id").
		Where("d.source_id = ? AND d.created_at >= ? AND d.created_at < ? AND (ef.anchor_count > 0 OR ef.evidence_score > 0)", sourceID, from, to).
		Count(&yieldCount).Error; err != nil {
		return 0, 0, err
	}

	return int(yieldCount), int(rawCount), nil
}

// baselineMean computes the average per-sample-window yield count for
// sourceID over the preceding baselineWindow, from previously recorded
// YieldSnapshot rows. Falls back to zero when there is not yet enough
// history, which SampleAndDetect treats as "no baseline yet" rather than
// dividing by zero.
func (m *Monitor) baselineMean(ctx context.Context, sourceID uuid.UUID, now time.Time) (float64, error) {
	var mean float64
	row := m.pool.QueryRow(ctx, `
SELECT COALESCE(AVG(yield_count), 0)
FROM yield_snapshots
WHERE source_id = $1 AND window_start >= $2
`, sourceID, now.Add(-baselineWindow))
	if err := row.Scan(&mean); err != nil && !db.IsNoRows(err) {
		return 0, err
	}
	return mean, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
