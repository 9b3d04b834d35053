package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds process-wide settings loaded from the environment. Field names
// and validation mirror the envconfig + manual Validate() convention used
// throughout this codebase.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"NR_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"NR_DB_MAX_CONNS" default:"8"`

	RedisURL string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	NatsURL  string `envconfig:"NATS_URL" default:"nats://localhost:4222"`

	FetchUserAgent      string `envconfig:"FETCH_USER_AGENT" default:"newsradar/1.0 (+https://example.invalid/bot)"`
	FetchFastPoolSize   int    `envconfig:"FETCH_FAST_POOL_SIZE" default:"8"`
	FetchRenderPoolSize int    `envconfig:"FETCH_RENDER_POOL_SIZE" default:"2"`
	FetchDeepPoolSize   int    `envconfig:"FETCH_DEEP_POOL_SIZE" default:"2"`
	ChromeDPBinary      string `envconfig:"CHROMEDP_BINARY" default:""`

	HTTPHost string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`

	AlertWebhookURL string `envconfig:"ALERT_WEBHOOK_URL" default:"http://localhost:8091/v1/triggers/newsradar"`
	AlertHMACSecret string `envconfig:"ALERT_HMAC_SECRET" default:"dev-secret-change-me"`

	// FeedbackTokenHash is a bcrypt hash of the shared editor token required
	// on every POST /v1/feedback submission. Empty disables the check, for
	// local development against a database with no editors configured yet.
	FeedbackTokenHash string `envconfig:"FEEDBACK_TOKEN_HASH" default:""`

	Lanes string `envconfig:"LANES" default:"breaking,blue_ocean"`

	// ScoreHotThreshold/ScoreColdThreshold gate the PARTIAL_ENRICH -> HOT
	// and HOT -> PARTIAL_ENRICH transitions. Left as configurable
	// parameters rather than pinned constants.
	ScoreHotThreshold  float64 `envconfig:"SCORE_HOT_THRESHOLD" default:"0.6"`
	ScoreColdThreshold float64 `envconfig:"SCORE_COLD_THRESHOLD" default:"0.35"`

	// GateTimeoutFastSeconds/GateTimeoutRenderSeconds are the HYDRATING
	// gate timeouts (15s FAST-sourced, 45s RENDER/DEEP-sourced) before an
	// Event with no successful enrichment is force-transitioned along.
	GateTimeoutFastSeconds   int `envconfig:"GATE_TIMEOUT_FAST_SECONDS" default:"15"`
	GateTimeoutRenderSeconds int `envconfig:"GATE_TIMEOUT_RENDER_SECONDS" default:"45"`

	// QuarantineTTLMinutes is how long an unresolved QUARANTINE Event sits
	// before it expires (15 minutes by default).
	QuarantineTTLMinutes int `envconfig:"QUARANTINE_TTL_MINUTES" default:"15"`
}

// Load reads Config from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("NR_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("NR_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("NR_DB_MIN_CONNS (%d) cannot exceed NR_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.FetchUserAgent) == "" {
		return fmt.Errorf("FETCH_USER_AGENT is required")
	}
	if c.FetchFastPoolSize < 1 || c.FetchRenderPoolSize < 1 || c.FetchDeepPoolSize < 1 {
		return fmt.Errorf("fetch pool sizes must be >= 1")
	}
	if c.HTTPPort < 1 {
		return fmt.Errorf("HTTP_PORT must be >= 1")
	}
	if c.ScoreHotThreshold <= c.ScoreColdThreshold {
		return fmt.Errorf("SCORE_HOT_THRESHOLD must be greater than SCORE_COLD_THRESHOLD")
	}
	if c.GateTimeoutFastSeconds < 1 || c.GateTimeoutRenderSeconds < 1 {
		return fmt.Errorf("gate timeout seconds must be >= 1")
	}
	if c.QuarantineTTLMinutes < 1 {
		return fmt.Errorf("QUARANTINE_TTL_MINUTES must be >= 1")
	}
	return nil
}

// SweepThresholds returns the configured HOT/COLD score cutoffs, in the
// order sweep.Thresholds expects them.
func (c *Config) SweepThresholds() (hot, cold float64) {
	return c.ScoreHotThreshold, c.ScoreColdThreshold
}

// GatingDurations returns the configured HYDRATING gate timeouts and
// QUARANTINE TTL, in the order eventstate.GatingConfig expects them.
func (c *Config) GatingDurations() (fastTimeout, renderTimeout, quarantineTTL time.Duration) {
	return time.Duration(c.GateTimeoutFastSeconds) * time.Second,
		time.Duration(c.GateTimeoutRenderSeconds) * time.Second,
		time.Duration(c.QuarantineTTLMinutes) * time.Minute
}

// LaneList splits the comma-separated Lanes setting into a slice.
func (c *Config) LaneList() []string {
	if c == nil {
		return nil
	}
	var lanes []string
	for _, part := range strings.Split(c.Lanes, ",") {
		lane := strings.TrimSpace(part)
		if lane != "" {
			lanes = append(lanes, lane)
		}
	}
	return lanes
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
