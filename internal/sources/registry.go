// Package sources implements the Source Profile Registry (C1): YAML-defined
// source profiles validated against a JSON Schema and upserted into the
// database. Sync keeps an existing row's enabled flag, so an operator can
// toggle it without redeploying; every other profile field, tier and
// is_official included, is overwritten from the YAML on each sync.
package sources

import (
	"context"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"newsradar/internal/db"
)

// Fetcher pool names matching the external Source Profile contract's
// pool ∈ {FAST_POOL, HEAVY_RENDER_POOL, DEEP_EXTRACT_POOL}.
const (
	PoolFast   = "FAST_POOL"
	PoolRender = "HEAVY_RENDER_POOL"
	PoolDeep   = "DEEP_EXTRACT_POOL"
)

// PoolForStrategy returns the Fetcher pool a Strategy runs on. The mapping
// from strategy to pool is total and unambiguous (RENDER for both SPA_API
// and SPA_HEADLESS, DEEP for PDF, FAST otherwise), so the pool is derived
// here rather than duplicated as a second authored field on Profile — there
// is no valid profile for which the two could disagree.
func PoolForStrategy(strategy string) string {
	switch strategy {
	case "SPA_API", "SPA_HEADLESS":
		return PoolRender
	case "PDF":
		return PoolDeep
	default: // RSS, HTML, API
		return PoolFast
	}
}

// Profile is one source's fetch/extract configuration.
type Profile struct {
	Key              string `yaml:"key"`
	Name             string `yaml:"name"`
	Tier             string `yaml:"tier"`
	IsOfficial       bool   `yaml:"is_official"`
	Lane             string `yaml:"lane"`
	Strategy         string `yaml:"strategy"`
	CadenceCron      string `yaml:"cadence_cron,omitempty"`
	CadenceInterval  *int   `yaml:"cadence_interval_seconds,omitempty"`
	BaseURL          string `yaml:"base_url"`
	UserAgent        string `yaml:"user_agent,omitempty"`
	RateLimitPerMin  int    `yaml:"rate_limit_per_min"`
	BusinessCalendar string `yaml:"business_calendar,omitempty"`
}

const profileSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["key", "name", "tier", "lane", "strategy", "base_url", "rate_limit_per_min"],
  "properties": {
    "key": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "tier": {"type": "string", "enum": ["tier1", "tier2", "tier3"]},
    "is_official": {"type": "boolean"},
    "lane": {"type": "string", "enum": ["breaking", "blue_ocean"]},
    "strategy": {"type": "string", "enum": ["RSS", "HTML", "API", "SPA_API", "SPA_HEADLESS", "PDF"]},
    "cadence_cron": {"type": "string"},
    "cadence_interval_seconds": {"type": "integer", "minimum": 1},
    "base_url": {"type": "string", "minLength": 1},
    "user_agent": {"type": "string"},
    "rate_limit_per_min": {"type": "integer", "minimum": 1},
    "business_calendar": {"type": "string"}
  }
}`

// LoadProfilesFile parses a YAML document containing a top-level "sources"
// list, validating each profile against the embedded schema.
func LoadProfilesFile(path string) ([]Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source profiles file: %w", err)
	}
	return LoadProfiles(raw)
}

// LoadProfiles parses and validates raw YAML bytes shaped as
// {"sources": [...]}.
func LoadProfiles(raw []byte) ([]Profile, error) {
	var doc struct {
		Sources []Profile `yaml:"sources"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse source profiles YAML: %w", err)
	}

	schema, err := jsonschema.CompileString("profile.schema.json", profileSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile source profile schema: %w", err)
	}

	for _, p := range doc.Sources {
		asMap, err := toJSONCompatible(p)
		if err != nil {
			return nil, fmt.Errorf("encode profile %s for validation: %w", p.Key, err)
		}
		if err := schema.Validate(asMap); err != nil {
			return nil, fmt.Errorf("validate profile %s: %w", p.Key, err)
		}
	}

	return doc.Sources, nil
}

// Sync upserts each profile into the sources table, preserving any
// operator-managed overrides already recorded (enabled flag is left
// untouched if the row already exists).
func Sync(ctx context.Context, pool *db.Pool, profiles []Profile) error {
	for _, p := range profiles {
		row := db.Source{
			Key: p.Key, Name: p.Name, Tier: p.Tier, IsOfficial: p.IsOfficial,
			Lane: p.Lane, Strategy: p.Strategy, CadenceCron: p.CadenceCron,
			CadenceInterval: p.CadenceInterval, BaseURL: p.BaseURL,
			UserAgent: p.UserAgent, RateLimitPerMin: p.RateLimitPerMin,
			BusinessCalendar: p.BusinessCalendar, Enabled: true,
		}
		if err := pool.GORM().WithContext(ctx).
			Where("key = ?", p.Key).
			Assign(map[string]any{
				"name": row.Name, "tier": row.Tier, "is_official": row.IsOfficial,
				"lane": row.Lane, "strategy": row.Strategy, "cadence_cron": row.CadenceCron,
				"cadence_interval": row.CadenceInterval, "base_url": row.BaseURL,
				"user_agent": row.UserAgent, "rate_limit_per_min": row.RateLimitPerMin,
				"business_calendar": row.BusinessCalendar,
			}).
			FirstOrCreate(&row).Error; err != nil {
			return fmt.Errorf("sync source profile %s: %w", p.Key, err)
		}
	}
	return nil
}

func toJSONCompatible(p Profile) (any, error) {
	m := map[string]any{
		"key": p.Key, "name": p.Name, "tier": p.Tier, "is_official": p.IsOfficial,
		"lane": p.Lane, "strategy": p.Strategy, "base_url": p.BaseURL,
		"rate_limit_per_min": p.RateLimitPerMin,
	}
	if p.CadenceCron != "" {
		m["cadence_cron"] = p.CadenceCron
	}
	if p.CadenceInterval != nil {
		m["cadence_interval_seconds"] = *p.CadenceInterval
	}
	if p.UserAgent != "" {
		m["user_agent"] = p.UserAgent
	}
	if p.BusinessCalendar != "" {
		m["business_calendar"] = p.BusinessCalendar
	}
	return m, nil
}
