package organizer

import "testing"

func TestNormalizeURLStripsTracking(t *testing.T) {
	got := normalizeURL("HTTPS://Example.com/story/?utm_source=twitter&id=42&ref=home")
	want := normalizeURL("https://example.com/story?id=42")
	if got != want {
		t.Fatalf("normalizeURL mismatch: got %q want %q", got, want)
	}
}

func TestSimhash64NearDuplicateDistance(t *testing.T) {
	a := simhash64("city council approves new downtown transit budget")
	b := simhash64("city council approves downtown transit budget plan")
	if hammingDistance64(a, b) > 8 {
		t.Fatalf("expected near-duplicate titles to have small hamming distance, got %d", hammingDistance64(a, b))
	}

	c := simhash64("quarterly earnings beat analyst expectations for retailer")
	if hammingDistance64(a, c) < 12 {
		t.Fatalf("expected unrelated titles to have large hamming distance, got %d", hammingDistance64(a, c))
	}
}

func TestTitleTrigramJaccardIdentical(t *testing.T) {
	if got := titleTrigramJaccard("same title here", "same title here"); got != 1 {
		t.Fatalf("identical titles should have jaccard 1, got %f", got)
	}
}

func TestTitleTokenJaccardPartialOverlap(t *testing.T) {
	got := titleTokenJaccard("mayor announces new park plan", "mayor unveils new park plan")
	if got <= 0 || got >= 1 {
		t.Fatalf("expected partial overlap in (0,1), got %f", got)
	}
}
