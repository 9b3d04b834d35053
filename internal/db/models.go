package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Flags is a set-valued JSONB column, e.g. `["UNVERIFIED_VIRAL"]`, mirroring
// the original system's `events.flags` JSONB column.
type Flags []string

// Value implements driver.Valuer for storing Flags as a JSONB array.
func (f Flags) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(f))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for reading a JSONB array back into Flags.
func (f *Flags) Scan(value any) error {
	if value == nil {
		*f = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for Flags", value)
	}
	if len(raw) == 0 {
		*f = nil
		return nil
	}
	return json.Unmarshal(raw, f)
}

// Has reports whether flag is set.
func (f Flags) Has(flag string) bool {
	for _, v := range f {
		if v == flag {
			return true
		}
	}
	return false
}

// With returns f with flag set, unchanged if already present.
func (f Flags) With(flag string) Flags {
	if f.Has(flag) {
		return f
	}
	return append(append(Flags{}, f...), flag)
}

// Without returns f with flag cleared.
func (f Flags) Without(flag string) Flags {
	out := make(Flags, 0, len(f))
	for _, v := range f {
		if v != flag {
			out = append(out, v)
		}
	}
	return out
}

// Source is a registered content origin profile (C1).
type Source struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Key              string     `gorm:"uniqueIndex;not null"`
	Name             string     `gorm:"not null"`
	Tier             string     `gorm:"not null"`
	IsOfficial       bool       `gorm:"not null;default:false"`
	Lane             string     `gorm:"not null;default:'breaking'"`
	Strategy         string     `gorm:"not null"`
	CadenceCron      string     `gorm:""`
	CadenceInterval  *int       `gorm:""`
	BaseURL          string     `gorm:""`
	UserAgent        string     `gorm:""`
	RateLimitPerMin  int        `gorm:"not null;default:30"`
	Enabled          bool       `gorm:"not null;default:true"`
	// Blacklisted marks a Source an editor has flagged as untrustworthy
	// (e.g. a repeat offender for fabricated stories). The Organizer still
	// clusters a Document from a blacklisted Source, then routes the Event
	// it joined to QUARANTINE.
	Blacklisted      bool       `gorm:"not null;default:false"`
	BusinessCalendar string     `gorm:""`
	// LastDispatchedAt is the Scheduler's own bookkeeping of when this
	// Source's job was last routed to a Fetcher pool, persisted so the
	// (tier, last_dispatched_at) tie-break survives a Scheduler restart.
	LastDispatchedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FetchAttempt records one Fetcher pool execution against a source (C3).
type FetchAttempt struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SourceID     uuid.UUID  `gorm:"type:uuid;index;not null"`
	Pool         string     `gorm:"not null"`
	URL          string     `gorm:"not null"`
	StatusCode   int        `gorm:""`
	Outcome      string     `gorm:"not null"`
	ErrorMessage string     `gorm:""`
	DurationMS   int64      `gorm:"not null"`
	AttemptedAt  time.Time  `gorm:"not null"`
	SnapshotID   *uuid.UUID `gorm:"type:uuid;index"`
}

// Snapshot is raw fetched bytes plus conditional-request metadata (C3/§8).
type Snapshot struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SourceID     uuid.UUID `gorm:"type:uuid;index;not null"`
	URL          string    `gorm:"not null"`
	ContentHash  string    `gorm:"index;not null"`
	ETag         string    `gorm:""`
	LastModified string    `gorm:""`
	ContentType  string    `gorm:""`
	Body         []byte    `gorm:"type:bytea"`
	FetchedAt    time.Time `gorm:"not null"`
}

// Document is an extracted article body with derived signals (C4/C5).
type Document struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SourceID         uuid.UUID `gorm:"type:uuid;index;not null"`
	SnapshotID       uuid.UUID `gorm:"type:uuid;index;not null"`
	CanonicalURL     string    `gorm:"not null"`
	Title            string    `gorm:"not null"`
	BodyText         string    `gorm:""`
	PublishedAt      *time.Time
	DetectedLanguage string `gorm:""`
	TitleSimhash     uint64 `gorm:"index"`
	BodySimhash      uint64 `gorm:"index"`
	ContentHash      string `gorm:"index;not null"`
	ExtractStrategy  string `gorm:"not null"`
	Status           string `gorm:"not null;default:'pending'"`
	CreatedAt        time.Time
}

// Anchor is an extracted evidentiary span (identifier, money amount, date,
// or classified link) (C5).
type Anchor struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	DocumentID uuid.UUID `gorm:"type:uuid;index;not null"`
	Kind       string    `gorm:"not null"`
	Value      string    `gorm:"not null"`
	Normalized string    `gorm:"index;not null"`
	Confidence float64   `gorm:"not null"`
	SpanStart  int       `gorm:""`
	SpanEnd    int       `gorm:""`
	CreatedAt  time.Time
}

// EvidenceFeatures caches the per-Document evidence summary:
// EvidenceScore, has_pdf, has_official_domain, anchor count, money-mention
// count, has_table_like — the inputs the Scoring engine's Blue Ocean
// evidence multiplier and the yield monitor read.
type EvidenceFeatures struct {
	DocumentID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	EvidenceScore     float64   `gorm:"not null;default:0"`
	AnchorCount       int       `gorm:"not null;default:0"`
	StrongAnchorCount int       `gorm:"not null;default:0"`
	MoneyMentionCount int       `gorm:"not null;default:0"`
	HasPDF            bool      `gorm:"not null;default:false"`
	HasOfficialDomain bool      `gorm:"not null;default:false"`
	HasTableLike      bool      `gorm:"not null;default:false"`
	OfficialSource    bool      `gorm:"not null;default:false"`
	EntityOverlap     float64   `gorm:"not null;default:0"`
	ComputedAt        time.Time
}

// EntityMention links a normalized entity value to a document (C5/C6).
type EntityMention struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	DocumentID  uuid.UUID `gorm:"type:uuid;index;not null"`
	EntityValue string    `gorm:"not null"`
	EntityKind  string    `gorm:"not null"`
}

// Event is a clustered, editorially relevant story (C6).
type Event struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Lane           string     `gorm:"not null;default:'breaking'"`
	Status         string     `gorm:"not null;default:'new'"`
	Headline       string     `gorm:"not null"`
	CanonicalDocID *uuid.UUID `gorm:"type:uuid"`
	// Flags carries set-valued overrides that ride alongside Status without
	// being a lifecycle state themselves, e.g. UNVERIFIED_VIRAL.
	Flags         Flags      `gorm:"type:jsonb;not null;default:'[]'"`
	FirstSeenAt   time.Time  `gorm:"not null"`
	LastTouchedAt time.Time  `gorm:"not null"`
	MergedIntoID  *uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// EventDoc is the membership join between an Event and its constituent Documents.
type EventDoc struct {
	EventID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	DocumentID uuid.UUID `gorm:"type:uuid;primaryKey"`
	MatchRule  string    `gorm:"not null"`
	AddedAt    time.Time `gorm:"not null"`
}

// EventScore is the latest dual-score snapshot for an Event (C7).
type EventScore struct {
	EventID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ScorePlantao    float64   `gorm:"not null"`
	ScoreOceanoAzul float64   `gorm:"not null"`
	ReasonCodes     string    `gorm:"not null"` // comma-joined closed registry codes
	ComputedAt      time.Time `gorm:"not null"`
}

// EventStateHistory records every state-machine transition (C8).
type EventStateHistory struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	EventID   uuid.UUID `gorm:"type:uuid;index;not null"`
	FromState string    `gorm:"not null"`
	ToState   string    `gorm:"not null"`
	Trigger   string    `gorm:"not null"`
	At        time.Time `gorm:"not null"`
}

// EventAlertState tracks cooldown/fingerprint bookkeeping for dispatched alerts (C9).
type EventAlertState struct {
	EventID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	LastAlertedAt   *time.Time
	LastFingerprint string `gorm:""`
	AlertCount      int    `gorm:"not null;default:0"`
}

// MergeAudit is the lineage trail left by deferred canonicalization (C6).
type MergeAudit struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SourceEvent uuid.UUID `gorm:"type:uuid;index;not null"`
	TargetEvent uuid.UUID `gorm:"type:uuid;index;not null"`
	Rule        string    `gorm:"not null"`
	Details     string    `gorm:""`
	MergedAt    time.Time `gorm:"not null"`
}

// FeedbackEvent is an editor action recorded against an Event (C12).
type FeedbackEvent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	EventID   uuid.UUID `gorm:"type:uuid;index;not null"`
	Actor     string    `gorm:"not null"`
	Action    string    `gorm:"not null"`
	Reason    string    `gorm:""`
	CreatedAt time.Time `gorm:"not null"`
}

// YieldSnapshot is a rolling per-source yield baseline sample (C11). Yield
// counts anchor-bearing/non-zero-evidence Documents, not raw fetch volume,
// so a source that returns HTTP 200 with empty or boilerplate content shows
// as starved even though its raw document count looks healthy.
type YieldSnapshot struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SourceID      uuid.UUID `gorm:"type:uuid;index;not null"`
	Lane          string    `gorm:"index;not null"`
	WindowStart   time.Time `gorm:"not null"`
	WindowEnd     time.Time `gorm:"not null"`
	YieldCount    int       `gorm:"not null"`
	EventCount    int       `gorm:"not null"`
	Starved       bool      `gorm:"not null;default:false"`
}

func autoMigrateModels() []any {
	return []any{
		&Source{},
		&FetchAttempt{},
		&Snapshot{},
		&Document{},
		&Anchor{},
		&EvidenceFeatures{},
		&EntityMention{},
		&Event{},
		&EventDoc{},
		&EventScore{},
		&EventStateHistory{},
		&EventAlertState{},
		&MergeAudit{},
		&FeedbackEvent{},
		&YieldSnapshot{},
	}
}
