package sources

import "testing"

func TestLoadProfiles_Valid(t *testing.T) {
	t.Parallel()

	raw := []byte(`
sources:
  - key: example_rss
    name: "Example RSS Feed"
    tier: tier1
    is_official: true
    lane: breaking
    strategy: RSS
    cadence_interval_seconds: 120
    base_url: "https://example.invalid/feed.rss"
    rate_limit_per_min: 30
`)

	profiles, err := LoadProfiles(raw)
	if err != nil {
		t.Fatalf("expected profiles to load, got error: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(profiles))
	}
	if profiles[0].Key != "example_rss" {
		t.Fatalf("unexpected key: %q", profiles[0].Key)
	}
}

func TestLoadProfiles_RejectsUnknownLane(t *testing.T) {
	t.Parallel()

	raw := []byte(`
sources:
  - key: bad_lane
    name: "Bad Lane"
    tier: tier1
    lane: niche
    strategy: RSS
    base_url: "https://example.invalid/feed.rss"
    rate_limit_per_min: 30
`)

	if _, err := LoadProfiles(raw); err == nil {
		t.Fatalf("expected validation to fail for lane outside breaking/blue_ocean")
	}
}

func TestLoadProfiles_RejectsMissingRequiredField(t *testing.T) {
	t.Parallel()

	raw := []byte(`
sources:
  - key: missing_rate_limit
    name: "Missing Rate Limit"
    tier: tier1
    lane: breaking
    strategy: RSS
    base_url: "https://example.invalid/feed.rss"
`)

	if _, err := LoadProfiles(raw); err == nil {
		t.Fatalf("expected validation to fail for missing rate_limit_per_min")
	}
}

func TestLoadProfiles_RejectsUnknownStrategy(t *testing.T) {
	t.Parallel()

	raw := []byte(`
sources:
  - key: bad_strategy
    name: "Bad Strategy"
    tier: tier1
    lane: breaking
    strategy: CARRIER_PIGEON
    base_url: "https://example.invalid/feed.rss"
    rate_limit_per_min: 30
`)

	if _, err := LoadProfiles(raw); err == nil {
		t.Fatalf("expected validation to fail for an unrecognized strategy")
	}
}
