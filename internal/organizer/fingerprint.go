// Package organizer implements the Organizer (C6): clustering Documents into
// Events by a cascade of match rules, plus the deferred canonicalization job
// that periodically folds together Events sharing a strong identity anchor.
// The fingerprint
// primitives below (URL normalization, 64-bit simhash, trigram/token
// Jaccard) are the same locality-sensitive building blocks a document
// dedup pipeline uses, generalized from document-level matching to
// event-level clustering.
package organizer

import (
	"hash/fnv"
	"math/bits"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var trackingParamPrefixes = []string{"utm_", "ref_"}
var trackingParamExact = map[string]bool{
	"ref": true, "fbclid": true, "gclid": true, "mc_cid": true, "mc_eid": true,
}

// normalizeURL strips tracking query parameters and canonicalizes scheme,
// host casing, and query ordering so equivalent URLs hash identically.
func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		drop := trackingParamExact[lower]
		for _, prefix := range trackingParamPrefixes {
			if strings.HasPrefix(lower, prefix) {
				drop = true
				break
			}
		}
		if drop {
			q.Del(key)
		}
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sorted := url.Values{}
	for _, k := range keys {
		sorted[k] = q[k]
	}
	u.RawQuery = sorted.Encode()

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String()
}

var wordSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// tokenize lowercases and splits text on non-alphanumeric runs.
func tokenize(text string) []string {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return nil
	}
	fields := wordSplit.Split(lower, -1)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func hashToken64(token string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	return h.Sum64()
}

// simhash64 computes a 64-bit locality-sensitive fingerprint over text's
// tokens: bit i of the result is set when more hashed tokens had bit i set
// than clear.
func simhash64(text string) uint64 {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return 0
	}

	var bitWeights [64]int
	for _, tok := range tokens {
		h := hashToken64(tok)
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				bitWeights[i]++
			} else {
				bitWeights[i]--
			}
		}
	}

	var out uint64
	for i := 0; i < 64; i++ {
		if bitWeights[i] > 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

// hammingDistance64 is the number of differing bits between two simhashes.
func hammingDistance64(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// trigramSet returns the set of character trigrams in text.
func trigramSet(text string) map[string]struct{} {
	normalized := strings.Join(tokenize(text), " ")
	set := make(map[string]struct{})
	if len(normalized) < 3 {
		if normalized != "" {
			set[normalized] = struct{}{}
		}
		return set
	}
	runes := []rune(normalized)
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

// jaccard computes the Jaccard similarity of two sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// titleTrigramJaccard is the trigram Jaccard similarity between two titles.
func titleTrigramJaccard(a, b string) float64 {
	return jaccard(trigramSet(a), trigramSet(b))
}

// titleTokenJaccard is the token Jaccard similarity between two titles.
func titleTokenJaccard(a, b string) float64 {
	setA := make(map[string]struct{})
	for _, t := range tokenize(a) {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{})
	for _, t := range tokenize(b) {
		setB[t] = struct{}{}
	}
	return jaccard(setA, setB)
}

// Simhash64 and NormalizeURL are exported so the document-build stage can
// compute the same fingerprints at ingestion time that the match cascade
// above compares against.
func Simhash64(text string) uint64      { return simhash64(text) }
func NormalizeURL(raw string) string    { return normalizeURL(raw) }
