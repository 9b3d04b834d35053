// Package scoring implements the dual scoring engine (C7): SCORE_PLANTAO
// (how urgent/breaking an Event is right now) and SCORE_OCEANO_AZUL (how
// editorially differentiated/underreported it is), each accompanied by a
// stable, closed set of reason codes explaining the score.
package scoring

import (
	"sort"
	"time"
)

// ReasonCode is a member of the closed registry of scoring reasons. New
// codes are additive; existing codes are never repurposed to a different
// meaning once shipped.
type ReasonCode string

const (
	ReasonOfficialSource     ReasonCode = "OFFICIAL_SOURCE"
	ReasonMultiSourceCorroboration ReasonCode = "MULTI_SOURCE_CORROBORATION"
	ReasonFreshFirstSeen     ReasonCode = "FRESH_FIRST_SEEN"
	ReasonHighVelocity       ReasonCode = "HIGH_VELOCITY"
	ReasonStrongAnchorPresent ReasonCode = "STRONG_ANCHOR_PRESENT"
	ReasonMoneyEvidencePresent ReasonCode = "MONEY_EVIDENCE_PRESENT"
	ReasonDocumentArtifactPresent ReasonCode = "DOCUMENT_ARTIFACT_PRESENT"
	ReasonSingleSourceOnly   ReasonCode = "SINGLE_SOURCE_ONLY"
	ReasonLowOfficialSourceCoverage ReasonCode = "LOW_OFFICIAL_SOURCE_COVERAGE"
	ReasonStale               ReasonCode = "STALE"
	ReasonNicheLane           ReasonCode = "NICHE_LANE"

	// The five codes below are the blueprint-literal names; they are emitted
	// alongside the descriptive codes above rather than replacing
	// them, since the registry is additive-only and a code is never renamed
	// or repurposed once shipped.
	ReasonPlantaoVelocitySpike     ReasonCode = "PLANTAO_VELOCITY_SPIKE"
	ReasonPlantaoTier1Confirmation ReasonCode = "PLANTAO_TIER1_CONFIRMATION"
	ReasonOceanoEvidencePDF        ReasonCode = "OCEANO_EVIDENCE_PDF"
	ReasonOceanoCoverageLag        ReasonCode = "OCEANO_COVERAGE_LAG"
	ReasonTrustPenaltyLowTier      ReasonCode = "TRUST_PENALTY_LOW_TIER"
)

// tier1CoverageDecayWindow is the horizon over which the coverage-lag term
// decays back to zero once a Tier-1 source has picked a story up: a Tier-1
// confirmation an hour old still reads as fresh differentiation, one three
// days old does not.
const tier1CoverageDecayWindow = 72 * time.Hour

// Input is the feature set scoring is computed from, aggregated across all
// Documents currently belonging to an Event.
type Input struct {
	DocumentCount       int
	SourceCount         int
	OfficialSourceCount int
	AnchorCount         int
	StrongAnchorCount   int
	MoneyMentionCount   int
	HasPDF              bool
	HasOfficialDomain   bool
	HasTableLike        bool
	EvidenceScore       float64 // max per-document evidence_score across the event's documents
	FirstSeenAt         time.Time
	Now                 time.Time
	VelocityPerHour      float64 // new documents joining the event per hour
	LaneIsNiche          bool

	// HasTier1Coverage reports whether any Document currently attached to
	// the Event came from a Tier-1 source. TierOneCoverageLag is the elapsed
	// time since that Tier-1 source's Document joined the Event; it is
	// meaningless when HasTier1Coverage is false, which stands in for "not
	// yet covered" (an infinite lag — the strongest possible differentiation
	// signal, since nothing mainstream has touched the story yet).
	HasTier1Coverage    bool
	TierOneCoverageLag  time.Duration
}

// Result is one computed dual score with its reason codes.
type Result struct {
	ScorePlantao    float64
	ScoreOceanoAzul float64
	Reasons         []ReasonCode
}

// Compute derives SCORE_PLANTAO and SCORE_OCEANO_AZUL from in, each clamped
// to [0, 1], with the reason codes that contributed to either score.
func Compute(in Input) Result {
	reasons := make(map[ReasonCode]struct{})

	age := in.Now.Sub(in.FirstSeenAt)
	freshness := 1.0
	if age > 0 {
		freshness = clamp01(1 - age.Hours()/6)
	}
	if freshness > 0.5 {
		reasons[ReasonFreshFirstSeen] = struct{}{}
	}

	velocityScore := clamp01(in.VelocityPerHour / 4)
	if velocityScore > 0.5 {
		reasons[ReasonHighVelocity] = struct{}{}
		reasons[ReasonPlantaoVelocitySpike] = struct{}{}
	}

	officialRatio := 0.0
	if in.SourceCount > 0 {
		officialRatio = float64(in.OfficialSourceCount) / float64(in.SourceCount)
	}
	if officialRatio > 0 {
		reasons[ReasonOfficialSource] = struct{}{}
	} else {
		reasons[ReasonLowOfficialSourceCoverage] = struct{}{}
	}
	if in.HasTier1Coverage {
		reasons[ReasonPlantaoTier1Confirmation] = struct{}{}
	}

	corroboration := clamp01(float64(in.SourceCount-1) / 4)
	if in.SourceCount >= 2 {
		reasons[ReasonMultiSourceCorroboration] = struct{}{}
	} else {
		reasons[ReasonSingleSourceOnly] = struct{}{}
	}

	scorePlantao := clamp01(0.35*freshness + 0.30*velocityScore + 0.20*officialRatio + 0.15*corroboration)

	if in.StrongAnchorCount > 0 {
		reasons[ReasonStrongAnchorPresent] = struct{}{}
	}
	if in.MoneyMentionCount > 0 {
		reasons[ReasonMoneyEvidencePresent] = struct{}{}
	}
	if in.HasPDF || in.HasTableLike {
		reasons[ReasonDocumentArtifactPresent] = struct{}{}
	}
	if in.HasPDF {
		reasons[ReasonOceanoEvidencePDF] = struct{}{}
	}

	nicheBoost := 0.0
	if in.LaneIsNiche {
		nicheBoost = 1
		reasons[ReasonNicheLane] = struct{}{}
	}

	// coverageLag is 1.0 when no Tier-1 source has covered the story yet —
	// the maximal "blue ocean" signal — and decays toward 0 over
	// tier1CoverageDecayWindow once one has, since every hour a Tier-1
	// source has already had the story chips away at how differentiated
	// covering it still is.
	coverageLag := 1.0
	if in.HasTier1Coverage {
		coverageLag = clamp01(1 - in.TierOneCoverageLag.Hours()/tier1CoverageDecayWindow.Hours())
	}
	if coverageLag > 0.5 {
		reasons[ReasonOceanoCoverageLag] = struct{}{}
	}
	if age.Hours() > 48 {
		reasons[ReasonStale] = struct{}{}
	}

	// trustPenalty tracks how little official corroboration an Event has.
	// It depends only on officialRatio: no term that a strong anchor can
	// improve is allowed to also degrade this term, or adding a strong
	// anchor could lower SCORE_OCEANO_AZUL overall even though every
	// individual channel it touches (evidenceMultiplier, the reason set)
	// only ever goes up.
	trustPenalty := clamp01(1 - officialRatio)
	if trustPenalty > 0.5 {
		reasons[ReasonTrustPenaltyLowTier] = struct{}{}
	}
	g := clamp01(0.6*coverageLag + 0.4*trustPenalty)
	evidenceMultiplier := clamp01(0.5 + 0.5*in.EvidenceScore)

	scoreOceanoAzul := clamp01(evidenceMultiplier*g + 0.2*nicheBoost)

	codes := make([]ReasonCode, 0, len(reasons))
	for code := range reasons {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	return Result{
		ScorePlantao:    scorePlantao,
		ScoreOceanoAzul: scoreOceanoAzul,
		Reasons:         codes,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

