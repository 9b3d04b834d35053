package scoring

import (
	"testing"
	"time"
)

func TestComputeFreshMultiSourceOfficialScoresHigh(t *testing.T) {
	now := time.Now()
	result := Compute(Input{
		DocumentCount:       4,
		SourceCount:         3,
		OfficialSourceCount: 1,
		StrongAnchorCount:   2,
		MoneyMentionCount:   1,
		FirstSeenAt:         now.Add(-30 * time.Minute),
		Now:                 now,
		VelocityPerHour:     3,
	})

	if result.ScorePlantao < 0.5 {
		t.Fatalf("expected high plantao score for fresh corroborated event, got %f", result.ScorePlantao)
	}

	found := false
	for _, r := range result.Reasons {
		if r == ReasonMultiSourceCorroboration {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected MULTI_SOURCE_CORROBORATION reason, got %v", result.Reasons)
	}
}

func TestComputeStaleSingleSourceScoresLow(t *testing.T) {
	now := time.Now()
	result := Compute(Input{
		DocumentCount:       1,
		SourceCount:         1,
		OfficialSourceCount: 0,
		FirstSeenAt:         now.Add(-72 * time.Hour),
		Now:                 now,
	})

	if result.ScorePlantao > 0.3 {
		t.Fatalf("expected low plantao score for stale single-source event, got %f", result.ScorePlantao)
	}

	hasStale := false
	hasSingleSource := false
	for _, r := range result.Reasons {
		if r == ReasonStale {
			hasStale = true
		}
		if r == ReasonSingleSourceOnly {
			hasSingleSource = true
		}
	}
	if !hasStale || !hasSingleSource {
		t.Fatalf("expected STALE and SINGLE_SOURCE_ONLY reasons, got %v", result.Reasons)
	}
}

func TestScoreOceanoAzulNeverDropsFromAddingStrongAnchor(t *testing.T) {
	now := time.Now()
	base := Input{
		SourceCount: 1,
		FirstSeenAt: now.Add(-30 * time.Minute),
		Now:         now,
	}
	before := Compute(base)

	withAnchor := base
	withAnchor.StrongAnchorCount = 1
	withAnchor.EvidenceScore = 0.18
	after := Compute(withAnchor)

	if after.ScoreOceanoAzul < before.ScoreOceanoAzul {
		t.Fatalf("adding a strong anchor decreased SCORE_OCEANO_AZUL: %f -> %f", before.ScoreOceanoAzul, after.ScoreOceanoAzul)
	}
}

func TestScoreOceanoAzulTier1SourceWithPDFEvidenceClearsThreshold(t *testing.T) {
	now := time.Now()
	result := Compute(Input{
		SourceCount:        1,
		StrongAnchorCount:  1,
		MoneyMentionCount:  1,
		HasPDF:             true,
		HasOfficialDomain:  true,
		EvidenceScore:      0.56,
		FirstSeenAt:        now,
		Now:                now,
		HasTier1Coverage:   true,
		TierOneCoverageLag: time.Minute,
	})

	if result.ScoreOceanoAzul < 0.7 {
		t.Fatalf("expected SCORE_OCEANO_AZUL >= 0.7 for a fresh tier-1-covered event with PDF/official-domain evidence, got %f", result.ScoreOceanoAzul)
	}

	hasPDFReason := false
	for _, r := range result.Reasons {
		if r == ReasonOceanoEvidencePDF {
			hasPDFReason = true
		}
	}
	if !hasPDFReason {
		t.Fatalf("expected OCEANO_EVIDENCE_PDF reason, got %v", result.Reasons)
	}
}

func TestScoresAlwaysClamped(t *testing.T) {
	result := Compute(Input{
		DocumentCount:       1000,
		SourceCount:         1000,
		OfficialSourceCount: 1000,
		StrongAnchorCount:   1000,
		MoneyMentionCount:   1000,
		EvidenceScore:       1000,
		VelocityPerHour:     1000,
		LaneIsNiche:         true,
	})
	if result.ScorePlantao > 1 || result.ScoreOceanoAzul > 1 {
		t.Fatalf("scores must be clamped to [0,1], got plantao=%f oceano=%f", result.ScorePlantao, result.ScoreOceanoAzul)
	}
}
