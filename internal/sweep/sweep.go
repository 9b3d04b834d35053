// Package sweep is the periodic worker that ties scoring (C7), the event
// state machine (C8), alerting (C9), and the yield monitor (C11) together:
// it walks every non-terminal Event, recomputes its dual score, decides
// whether a state transition is due, and dispatches an alert when an Event
// crosses into the hot state.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"newsradar/internal/alert"
	"newsradar/internal/broadcast"
	"newsradar/internal/db"
	"newsradar/internal/eventstate"
	"newsradar/internal/globaltime"
	"newsradar/internal/metrics"
	"newsradar/internal/scoring"
	"newsradar/internal/sources"
	"newsradar/internal/yield"
)

// unverifiedViralVelocityPerHour is the velocity (documents/hour) above
// which an Event is a candidate for the UNVERIFIED_VIRAL override, per
// §4.8: "velocity is extreme and (high tier or high source diversity or
// minimal evidence)".
const unverifiedViralVelocityPerHour = 8.0

// unverifiedViralSourceDiversity is the source-count threshold that counts
// as "high source diversity" for the override.
const unverifiedViralSourceDiversity = 3

// unverifiedViralMinEvidence is the evidence-score ceiling below which
// evidence counts as "minimal" for the override.
const unverifiedViralMinEvidence = 0.2

const flagUnverifiedViral = "UNVERIFIED_VIRAL"

// Thresholds carries the two score-crossing thresholds left as
// configurable parameters rather than pinned constants ("the blueprint does
// not pin the exact HOT score threshold").
type Thresholds struct {
	Hot  float64
	Cold float64
}

// DefaultThresholds returns reasonable defaults for a fresh deployment.
func DefaultThresholds() Thresholds {
	return Thresholds{Hot: 0.6, Cold: 0.35}
}

// terminalStates lists every eventstate.State the sweep should not bother
// loading features for.
var terminalStates = []string{
	string(eventstate.StateMerged),
	string(eventstate.StateIgnored),
	string(eventstate.StateExpired),
}

// Service runs the sweep loop.
type Service struct {
	pool       *db.Pool
	hub        *broadcast.Hub
	alerter    *alert.Dispatcher
	yielder    *yield.Monitor
	lanes      []string
	thresholds Thresholds
	gating     eventstate.GatingConfig
	logger     zerolog.Logger
}

// NewService constructs a sweep Service. alerter and yielder may be nil to
// run scoring/state-machine evaluation without alert dispatch or yield
// monitoring, e.g. in tests or a minimal deployment.
func NewService(pool *db.Pool, hub *broadcast.Hub, alerter *alert.Dispatcher, yielder *yield.Monitor, lanes []string, thresholds Thresholds, gating eventstate.GatingConfig, logger zerolog.Logger) *Service {
	return &Service{pool: pool, hub: hub, alerter: alerter, yielder: yielder, lanes: lanes, thresholds: thresholds, gating: gating, logger: logger}
}

// Run evaluates every active Event and samples lane yield every interval,
// until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("sweep failed")
			}
			if s.yielder != nil && len(s.lanes) > 0 {
				if _, err := s.yielder.SampleAndDetect(ctx, s.lanes); err != nil {
					s.logger.Error().Err(err).Msg("yield sample failed")
				}
			}
		}
	}
}

// SweepOnce evaluates every non-terminal Event once.
func (s *Service) SweepOnce(ctx context.Context) error {
	rows, err := s.pool.LoadActiveEventFeatures(ctx, terminalStates)
	if err != nil {
		return fmt.Errorf("load active event features: %w", err)
	}

	now := globaltime.UTC()
	for _, row := range rows {
		if err := s.evaluate(ctx, row, now); err != nil {
			s.logger.Error().Err(err).Str("event_id", row.EventID).Msg("evaluate event failed")
		}
	}
	return nil
}

func (s *Service) evaluate(ctx context.Context, row db.EventFeatureRow, now time.Time) error {
	ageHours := now.Sub(row.FirstSeenAt).Hours()
	velocity := 0.0
	if ageHours > 0 {
		velocity = float64(row.DocumentCount) / ageHours
	}

	var tierOneCoverageLag time.Duration
	if row.FirstTier1AddedAt != nil {
		tierOneCoverageLag = now.Sub(*row.FirstTier1AddedAt)
	}

	result := scoring.Compute(scoring.Input{
		DocumentCount:       row.DocumentCount,
		SourceCount:         row.SourceCount,
		OfficialSourceCount: row.OfficialSourceCount,
		AnchorCount:         row.AnchorCount,
		StrongAnchorCount:   row.StrongAnchorCount,
		MoneyMentionCount:   row.MoneyMentionCount,
		HasPDF:              row.HasPDF,
		HasOfficialDomain:   row.HasOfficialDomain,
		HasTableLike:        row.HasTableLike,
		EvidenceScore:       row.MaxEvidenceScore,
		FirstSeenAt:         row.FirstSeenAt,
		Now:                 now,
		VelocityPerHour:     velocity,
		LaneIsNiche:         row.Lane == "blue_ocean",
		HasTier1Coverage:    row.FirstTier1AddedAt != nil,
		TierOneCoverageLag:  tierOneCoverageLag,
	})

	if err := s.persistScore(ctx, row.EventID, result, now); err != nil {
		return fmt.Errorf("persist score: %w", err)
	}
	metrics.EventScoreHistogram.WithLabelValues("plantao", row.Lane).Observe(result.ScorePlantao)
	metrics.EventScoreHistogram.WithLabelValues("oceano_azul", row.Lane).Observe(result.ScoreOceanoAzul)

	if err := s.applyUnverifiedViral(ctx, row, velocity, now); err != nil {
		s.logger.Error().Err(err).Str("event_id", row.EventID).Msg("apply unverified_viral flag failed")
	}

	trigger, ok, err := s.nextTrigger(ctx, row, result, now)
	if err != nil {
		return fmt.Errorf("determine trigger: %w", err)
	}
	if !ok {
		return nil
	}

	from := eventstate.State(row.Status)
	to, err := eventstate.Apply(from, trigger)
	if err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}
	if to == from {
		return nil
	}

	if err := s.transition(ctx, row.EventID, from, to, trigger, now); err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	metrics.EventStateTransitionsTotal.WithLabelValues(string(from), string(to), string(trigger)).Inc()

	if s.hub != nil {
		s.hub.Publish(row.EventID, broadcast.EventStateChanged, map[string]any{
			"from_state": string(from), "to_state": string(to), "trigger": string(trigger),
		})
	}

	if to == eventstate.StateHot && s.alerter != nil {
		if _, err := s.alerter.DispatchIfDue(ctx, row.EventID, row.Headline, result.ScorePlantao, row.Lane); err != nil {
			s.logger.Error().Err(err).Str("event_id", row.EventID).Msg("alert dispatch failed")
		}
	}
	return nil
}

// applyUnverifiedViral sets or clears the UNVERIFIED_VIRAL flag per §4.8: an
// extreme-velocity Event with a high-tier source, high source diversity, or
// minimal evidence is flagged so the UI colours the dispatch action red and
// forces the unverified-draft path; the flag clears once velocity settles.
func (s *Service) applyUnverifiedViral(ctx context.Context, row db.EventFeatureRow, velocity float64, now time.Time) error {
	extreme := velocity >= unverifiedViralVelocityPerHour &&
		(row.HasTier1Source || row.SourceCount >= unverifiedViralSourceDiversity || row.MaxEvidenceScore < unverifiedViralMinEvidence)

	hasFlag := row.Flags.Has(flagUnverifiedViral)
	if extreme == hasFlag {
		return nil
	}

	var next db.Flags
	if extreme {
		next = row.Flags.With(flagUnverifiedViral)
	} else {
		next = row.Flags.Without(flagUnverifiedViral)
	}
	if _, err := s.pool.Exec(ctx, `UPDATE events SET flags = $1, updated_at = $2 WHERE id = $3::uuid`, next, now, row.EventID); err != nil {
		return fmt.Errorf("update event flags: %w", err)
	}
	if extreme {
		metrics.UnverifiedViralEventsTotal.WithLabelValues(row.Lane).Inc()
	}
	return nil
}

// RescoreEvent re-runs scoring and state-machine evaluation for a single
// Event outside the regular sweep tick, used after an editorial MERGE or
// SPLIT changes its document set.
func (s *Service) RescoreEvent(ctx context.Context, eventID string) error {
	row, err := s.pool.LoadEventFeature(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load event feature: %w", err)
	}
	return s.evaluate(ctx, row, globaltime.UTC())
}

// nextTrigger decides the single next trigger to raise against an Event
// given its current state, freshly computed score, and how long it has
// been sitting in that state.
func (s *Service) nextTrigger(ctx context.Context, row db.EventFeatureRow, result scoring.Result, now time.Time) (eventstate.Trigger, bool, error) {
	state := eventstate.State(row.Status)
	hasEvidence := row.AnchorCount > 0 || row.StrongAnchorCount > 0
	// hotGuard is the "and at least one strong anchor or Tier-1
	// confirmation" half of the HOT crossing condition: SCORE_PLANTAO's
	// formula never reads StrongAnchorCount, so a purely-viral Event with
	// zero evidence must not reach HOT on velocity alone.
	hotGuard := row.StrongAnchorCount > 0 || row.HasTier1Source
	scoreCrossedHot := result.ScorePlantao >= s.thresholds.Hot && hotGuard

	switch state {
	case eventstate.StateNew:
		if row.DocumentCount > 0 {
			return eventstate.TriggerDocumentAdded, true, nil
		}
	case eventstate.StateFailedEnrich, eventstate.StateQuarantine:
		if row.DocumentCount > 0 {
			return eventstate.TriggerDocumentAdded, true, nil
		}
	case eventstate.StateHydrating:
		if scoreCrossedHot {
			return eventstate.TriggerScoreCrossedHot, true, nil
		}
		if hasEvidence {
			return eventstate.TriggerEnrichSucceeded, true, nil
		}
	case eventstate.StatePartialEnrich:
		if scoreCrossedHot {
			return eventstate.TriggerScoreCrossedHot, true, nil
		}
	case eventstate.StateHot:
		if result.ScorePlantao < s.thresholds.Cold {
			return eventstate.TriggerScoreDroppedCold, true, nil
		}
	}

	pool := sources.PoolForStrategy(row.PrimaryStrategy)
	timeout, hasTimeout := eventstate.GatingTimeoutFor(state, pool, s.gating)
	if !hasTimeout {
		return "", false, nil
	}
	since, err := s.timeInState(ctx, row.EventID, row.FirstSeenAt)
	if err != nil {
		return "", false, err
	}
	if now.Sub(since) >= timeout {
		return eventstate.GatingTriggerFor(state), true, nil
	}
	return "", false, nil
}

func (s *Service) timeInState(ctx context.Context, eventID string, fallback time.Time) (time.Time, error) {
	var at time.Time
	row := s.pool.QueryRow(ctx, `
SELECT at FROM event_state_histories
WHERE event_id = $1::uuid
ORDER BY at DESC
LIMIT 1
`, eventID)
	if err := row.Scan(&at); err != nil {
		if db.IsNoRows(err) {
			return fallback, nil
		}
		return time.Time{}, err
	}
	return at, nil
}

func (s *Service) persistScore(ctx context.Context, eventID string, result scoring.Result, now time.Time) error {
	codes := ""
	for i, c := range result.Reasons {
		if i > 0 {
			codes += ","
		}
		codes += string(c)
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO event_scores (event_id, score_plantao, score_oceano_azul, reason_codes, computed_at)
VALUES ($1::uuid, $2, $3, $4, $5)
ON CONFLICT (event_id) DO UPDATE SET
  score_plantao = EXCLUDED.score_plantao,
  score_oceano_azul = EXCLUDED.score_oceano_azul,
  reason_codes = EXCLUDED.reason_codes,
  computed_at = EXCLUDED.computed_at
`, eventID, result.ScorePlantao, result.ScoreOceanoAzul, codes, now)
	return err
}

func (s *Service) transition(ctx context.Context, eventID string, from, to eventstate.State, trigger eventstate.Trigger, now time.Time) error {
	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE events SET status = $1, last_touched_at = $2 WHERE id = $3::uuid`, string(to), now, eventID); err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO event_state_histories (id, event_id, from_state, to_state, trigger, at)
VALUES (gen_random_uuid(), $1::uuid, $2, $3, $4, $5)
`, eventID, string(from), string(to), string(trigger), now); err != nil {
		return fmt.Errorf("insert event state history: %w", err)
	}
	return tx.Commit(ctx)
}
