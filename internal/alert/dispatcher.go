// Package alert implements the alert dispatcher (C9): it watches Events
// that just crossed into the "hot" state and decides whether to notify the
// configured draft-CMS trigger webhook, applying a cooldown/fingerprint
// dedup so the same Event does not re-alert on every minor touch.
package alert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"newsradar/internal/broker"
	"newsradar/internal/db"
	"newsradar/internal/globaltime"
	"newsradar/internal/kv"
)

const defaultCooldown = 15 * time.Minute

// Dispatcher decides whether a hot Event warrants notifying the draft-CMS
// trigger webhook, and records the outcome in EventAlertState.
type Dispatcher struct {
	pool     *db.Pool
	kv       *kv.Store
	broker   *broker.Client
	cooldown time.Duration
	logger   zerolog.Logger
}

// NewDispatcher constructs a Dispatcher that posts to webhookURL, HMAC-signed
// with hmacSecret via internal/broker, using store for cooldown bookkeeping
// shared across replicas.
func NewDispatcher(pool *db.Pool, store *kv.Store, webhookURL string, hmacSecret []byte, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		pool:     pool,
		kv:       store,
		broker:   broker.NewClient(webhookURL, hmacSecret),
		cooldown: defaultCooldown,
		logger:   logger,
	}
}

type triggerPayload struct {
	EventID   string    `json:"event_id"`
	Headline  string    `json:"headline"`
	Lane      string    `json:"lane"`
	Score     float64   `json:"score_plantao"`
	Verified  bool      `json:"verified"`
	Timestamp time.Time `json:"timestamp"`
}

// DispatchIfDue evaluates whether eventID should be alerted now: it must not
// have alerted within the cooldown window, and its fingerprint (headline)
// must differ meaningfully from the last alert, preventing duplicate
// notifications for an Event that is simply being re-touched.
func (d *Dispatcher) DispatchIfDue(ctx context.Context, eventID string, headline string, scorePlantao float64, lane string) (bool, error) {
	cooldownKey := fmt.Sprintf("newsradar:alert:cooldown:%s", eventID)

	set, err := d.kv.SetNX(ctx, cooldownKey, d.cooldown)
	if err != nil {
		return false, fmt.Errorf("check alert cooldown: %w", err)
	}
	if !set {
		return false, nil
	}

	fingerprint := fingerprintOf(headline)
	var state db.EventAlertState
	err = d.pool.GORM().WithContext(ctx).First(&state, "event_id = ?", eventID).Error
	if err == nil && state.LastFingerprint == fingerprint {
		return false, nil
	}

	payload := triggerPayload{
		EventID:   eventID,
		Headline:  headline,
		Lane:      lane,
		Score:     scorePlantao,
		Verified:  true,
		Timestamp: globaltime.UTC(),
	}
	if err := d.broker.Post(ctx, payload); err != nil {
		return false, fmt.Errorf("post alert webhook: %w", err)
	}

	now := globaltime.UTC()
	if err := d.pool.GORM().WithContext(ctx).
		Exec(`
INSERT INTO event_alert_states (event_id, last_alerted_at, last_fingerprint, alert_count)
VALUES (?, ?, ?, 1)
ON CONFLICT (event_id) DO UPDATE SET
  last_alerted_at = EXCLUDED.last_alerted_at,
  last_fingerprint = EXCLUDED.last_fingerprint,
  alert_count = event_alert_states.alert_count + 1
`, eventID, now, fingerprint).Error; err != nil {
		return false, fmt.Errorf("record alert state: %w", err)
	}

	d.logger.Info().Str("event_id", eventID).Float64("score_plantao", scorePlantao).Msg("dispatched alert")
	return true, nil
}

// DispatchForced posts the draft-CMS trigger webhook unconditionally,
// bypassing the cooldown/fingerprint dedup DispatchIfDue applies. This backs
// the editor's PAUTAR action: an explicit "send this draft now" instruction
// overrides the automatic pacing, and verified marks whether the underlying
// Event has reached HOT (a verified draft) or is still short of it (an
// unverified draft, dispatched at editorial discretion).
func (d *Dispatcher) DispatchForced(ctx context.Context, eventID, headline string, scorePlantao float64, lane string, verified bool) error {
	payload := triggerPayload{
		EventID:   eventID,
		Headline:  headline,
		Lane:      lane,
		Score:     scorePlantao,
		Verified:  verified,
		Timestamp: globaltime.UTC(),
	}
	if err := d.broker.Post(ctx, payload); err != nil {
		return fmt.Errorf("post forced alert webhook: %w", err)
	}

	fingerprint := fingerprintOf(headline)
	now := globaltime.UTC()
	if err := d.pool.GORM().WithContext(ctx).
		Exec(`
INSERT INTO event_alert_states (event_id, last_alerted_at, last_fingerprint, alert_count)
VALUES (?, ?, ?, 1)
ON CONFLICT (event_id) DO UPDATE SET
  last_alerted_at = EXCLUDED.last_alerted_at,
  last_fingerprint = EXCLUDED.last_fingerprint,
  alert_count = event_alert_states.alert_count + 1
`, eventID, now, fingerprint).Error; err != nil {
		return fmt.Errorf("record forced alert state: %w", err)
	}

	d.logger.Info().Str("event_id", eventID).Bool("verified", verified).Msg("dispatched forced alert (PAUTAR)")
	return nil
}

func fingerprintOf(headline string) string {
	sum := sha256.Sum256([]byte(headline))
	return hex.EncodeToString(sum[:8])
}
