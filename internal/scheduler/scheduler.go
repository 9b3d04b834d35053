// Package scheduler implements the Scheduler (C2): it wakes on each
// Source's configured cadence (cron expression or fixed interval) and
// dispatches a fetch job onto the appropriate Fetcher pool's channel.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"newsradar/internal/db"
	"newsradar/internal/globaltime"
	"newsradar/internal/metrics"
	"newsradar/internal/sources"
)

// dispatchTimeoutBudget bounds how long a dispatched job may run with no
// FetchAttempt recorded against it before the Scheduler gives up waiting
// and treats the job as lost, allowing redispatch even though the cadence
// window alone would still call it in flight.
const dispatchTimeoutBudget = 5 * time.Minute

// Job is one dispatched unit of work: fetch the Source's BaseURL with its
// Strategy. The pool is chosen by the channel the Job is sent on.
type Job struct {
	SourceID db.Source
	DueAt    time.Time
}

// Scheduler owns the per-pool dispatch channels and a cron parser for
// cadence strings.
type Scheduler struct {
	pool       *db.Pool
	logger     zerolog.Logger
	cronParser cron.Parser

	fastJobs   chan Job
	renderJobs chan Job
	deepJobs   chan Job
}

// New constructs a Scheduler. fastJobs/renderJobs/deepJobs are the
// already-buffered channels the Fetcher's three pools drain from.
func New(pool *db.Pool, logger zerolog.Logger, fastJobs, renderJobs, deepJobs chan Job) *Scheduler {
	return &Scheduler{
		pool:       pool,
		logger:     logger,
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		fastJobs:   fastJobs,
		renderJobs: renderJobs,
		deepJobs:   deepJobs,
	}
}

// Run polls enabled Sources every tick and dispatches any whose cadence is
// due, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.dispatchDue(ctx); err != nil {
				s.logger.Error().Err(err).Msg("dispatch due sources failed")
			}
			metrics.QueueBacklogEstimate.WithLabelValues("fast").Set(float64(len(s.fastJobs)))
			metrics.QueueBacklogEstimate.WithLabelValues("render").Set(float64(len(s.renderJobs)))
			metrics.QueueBacklogEstimate.WithLabelValues("deep").Set(float64(len(s.deepJobs)))
		}
	}
}

// dispatchDue loads every enabled Source ordered by (tier ascending,
// last_dispatched_at ascending, nulls first) — the same starvation-avoidance
// tie-break a fair scheduler uses so a batch of simultaneously-due sources
// never lets a low-tier source monopolize dispatch ahead of a tier1 source
// that has been waiting longer — and dispatches each one that is both due by
// cadence and not still in flight from its previous dispatch.
func (s *Scheduler) dispatchDue(ctx context.Context) error {
	var enabled []db.Source
	if err := s.pool.GORM().WithContext(ctx).
		Where("enabled = ?", true).
		Order("tier ASC").
		Order("last_dispatched_at ASC NULLS FIRST").
		Find(&enabled).Error; err != nil {
		return fmt.Errorf("load enabled sources: %w", err)
	}

	now := globaltime.UTC()
	for _, src := range enabled {
		last := time.Time{}
		if src.LastDispatchedAt != nil {
			last = *src.LastDispatchedAt
		}

		due, err := s.isDue(src, last, now)
		if err != nil {
			s.logger.Warn().Str("source", src.Key).Err(err).Msg("bad cadence, skipping")
			continue
		}
		if !due {
			continue
		}

		inFlight, err := s.stillInFlight(ctx, src, last, now)
		if err != nil {
			s.logger.Warn().Str("source", src.Key).Err(err).Msg("in-flight check failed, dispatching anyway")
		} else if inFlight {
			continue
		}

		job := Job{SourceID: src, DueAt: now}
		s.routeJob(src.Strategy, job)

		if _, err := s.pool.Exec(ctx, `UPDATE sources SET last_dispatched_at = $1 WHERE id = $2`, now, src.ID); err != nil {
			s.logger.Warn().Err(err).Str("source", src.Key).Msg("persist last_dispatched_at failed")
		}
	}
	return nil
}

// stillInFlight reports whether the job dispatched at last has not yet
// reached a terminal outcome: no FetchAttempt has been recorded against
// src since last, and dispatchTimeoutBudget has not yet elapsed. Past that
// budget the prior job is presumed lost and redispatch proceeds regardless.
func (s *Scheduler) stillInFlight(ctx context.Context, src db.Source, last, now time.Time) (bool, error) {
	if last.IsZero() {
		return false, nil
	}
	if now.Sub(last) >= dispatchTimeoutBudget {
		return false, nil
	}

	var attempts int
	row := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM fetch_attempts WHERE source_id = $1 AND attempted_at >= $2`, src.ID, last)
	if err := row.Scan(&attempts); err != nil {
		return false, fmt.Errorf("count fetch attempts since last dispatch: %w", err)
	}
	return attempts == 0, nil
}

func (s *Scheduler) isDue(src db.Source, last time.Time, now time.Time) (bool, error) {
	if src.CadenceCron != "" {
		schedule, err := s.cronParser.Parse(src.CadenceCron)
		if err != nil {
			return false, fmt.Errorf("parse cron %q: %w", src.CadenceCron, err)
		}
		if last.IsZero() {
			return true, nil
		}
		return !schedule.Next(last).After(now), nil
	}
	if src.CadenceInterval != nil && *src.CadenceInterval > 0 {
		interval := time.Duration(*src.CadenceInterval) * time.Second
		return last.IsZero() || now.Sub(last) >= interval, nil
	}
	return false, fmt.Errorf("source %s has no cadence configured", src.Key)
}

func (s *Scheduler) routeJob(strategy string, job Job) {
	switch sources.PoolForStrategy(strategy) {
	case sources.PoolRender:
		s.send(s.renderJobs, job)
	case sources.PoolDeep:
		s.send(s.deepJobs, job)
	default: // sources.PoolFast: RSS, HTML, API
		s.send(s.fastJobs, job)
	}
}

func (s *Scheduler) send(ch chan Job, job Job) {
	select {
	case ch <- job:
	default:
		s.logger.Warn().Str("source", job.SourceID.Key).Msg("fetch pool channel full, dropping tick")
	}
}
