package documents

import "testing"

func TestFirstLine_UsesFirstNewline(t *testing.T) {
	t.Parallel()

	got := firstLine("Headline sentence.\nRest of the body follows here.")
	if got != "Headline sentence." {
		t.Fatalf("unexpected first line: %q", got)
	}
}

func TestFirstLine_TruncatesLongSingleLineBody(t *testing.T) {
	t.Parallel()

	body := make([]byte, 200)
	for i := range body {
		body[i] = 'a'
	}
	got := firstLine(string(body))
	if len(got) != 120 {
		t.Fatalf("expected truncated title of length 120, got %d", len(got))
	}
}

func TestFirstLine_ShortSingleLineBody(t *testing.T) {
	t.Parallel()

	got := firstLine("short body")
	if got != "short body" {
		t.Fatalf("unexpected first line: %q", got)
	}
}

func TestContentHash_IsDeterministicAndSensitiveToInput(t *testing.T) {
	t.Parallel()

	a := contentHash("https://example.com/a", "body text")
	b := contentHash("https://example.com/a", "body text")
	if a != b {
		t.Fatalf("expected contentHash to be deterministic for identical input")
	}

	c := contentHash("https://example.com/a", "different body text")
	if a == c {
		t.Fatalf("expected contentHash to differ when body text changes")
	}

	d := contentHash("https://example.com/b", "body text")
	if a == d {
		t.Fatalf("expected contentHash to differ when canonical URL changes")
	}
}
