// Package anchor implements the Anchor & Evidence engine (C5): regex-based
// extraction of deterministic, typed evidentiary facts from a Document's
// clean text — official identifiers, monetary values, dates, and links to
// government/gazette/PDF artefacts — plus the EvidenceFeatures summary the
// Scoring engine and Organizer both consume.
package anchor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"newsradar/internal/langdetect"
	"newsradar/internal/language"
)

// Kind is one of the closed set of anchor kinds this engine extracts.
type Kind string

const (
	KindCNPJ    Kind = "CNPJ"
	KindCPF     Kind = "CPF"
	KindCNJ     Kind = "CNJ"
	KindSEI     Kind = "SEI"
	KindTCU     Kind = "TCU"
	KindPL      Kind = "PL"
	KindACT     Kind = "ACT"
	KindMoney   Kind = "MONEY"
	KindDate    Kind = "DATE"
	KindGovLink Kind = "GOV_LINK"
	KindPDFLink Kind = "PDF_LINK"
	// KindGazetteLink is narrower than KindGovLink: a gov.br (or state
	// equivalent) URL whose host is specifically an official-gazette
	// publisher. Every gazette link is also emitted as a GOV_LINK.
	KindGazetteLink Kind = "GAZETTE_LINK"
)

// StrongKinds is the set of anchor kinds treated as identity
// anchors: deterministic official-document identifiers eligible for
// hard-merge and deferred canonicalization decisions. MONEY, DATE, and the
// three link kinds are corroborating evidence, never a merge key on their
// own (an Event about "R$ 4.5 billion" merging with any other Event that
// happens to mention the same figure would be nonsense).
var StrongKinds = map[Kind]bool{
	KindCNPJ: true,
	KindCPF:  true,
	KindCNJ:  true,
	KindSEI:  true,
	KindTCU:  true,
	KindPL:   true,
	KindACT:  true,
}

// Anchor is one extracted evidentiary span.
type Anchor struct {
	Kind       Kind
	Value      string
	Normalized string
	Confidence float64
	SpanStart  int
	SpanEnd    int
}

var (
	cnpjMaskedRe   = regexp.MustCompile(`\b\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}\b`)
	cnpjBareRe     = regexp.MustCompile(`\b\d{14}\b`)
	cpfMaskedRe    = regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`)
	cpfBareRe      = regexp.MustCompile(`\b\d{11}\b`)
	cnjRe          = regexp.MustCompile(`\b\d{7}-\d{2}\.\d{4}\.\d\.\d{2}\.\d{4}\b`)
	seiRe          = regexp.MustCompile(`\b\d{5}\.\d{6}/\d{4}-\d{2}\b`)
	tcuRe          = regexp.MustCompile(`(?i)\b(Ac[oó]rd[aã]o|TC)\s*n?[ºo°]?\.?\s*[:#]?\s*(\d{1,6}(?:[./]\d{2,4}){1,2}(?:-\d)?)\b`)
	plRe           = regexp.MustCompile(`(?i)\b(PL|PLS|PLC|PEC|MPV)\s*n?[ºo°]?\.?\s*[:#]?\s*(\d{1,6}/\d{4})\b`)
	actRe          = regexp.MustCompile(`(?i)\b(Decreto|Portaria|Resolu[cç][aã]o|Instru[cç][aã]o Normativa)\s*n?[ºo°]?\.?\s*[:#]?\s*(\d{1,3}(?:\.\d{3})*/\d{4})\b`)
	moneyRe        = regexp.MustCompile(`R\$\s?(?:\d{1,3}(?:\.\d{3})+(?:,\d{2})?|\d+(?:,\d{2})?)`)
	dateNumericRe  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	dateTextualRe  = regexp.MustCompile(`(?i)\b(\d{1,2}) de (janeiro|fevereiro|março|marco|abril|maio|junho|julho|agosto|setembro|outubro|novembro|dezembro) de (\d{4})\b`)
	urlRe          = regexp.MustCompile(`https?://[^\s"'<>)]+`)
	capitalizedRun = regexp.MustCompile(`\b([A-Z][a-zà-ú]+(?:\s[A-Z][a-zà-ú]+){1,3})\b`)

	monthIndex = map[string]string{
		"janeiro": "01", "fevereiro": "02", "março": "03", "marco": "03",
		"abril": "04", "maio": "05", "junho": "06", "julho": "07",
		"agosto": "08", "setembro": "09", "outubro": "10", "novembro": "11",
		"dezembro": "12",
	}

	// gazetteHostMarkers matches the handful of official-gazette publishing
	// hosts this system's sources actually cover (federal DOU plus a few
	// well-known state/court gazettes); a GOV_LINK that isn't one of these
	// is still a GOV_LINK, just not a GAZETTE_LINK.
	gazetteHostMarkers = []string{"in.gov.br", "diariooficial", "dje.jus.br", "doe."}
)

// Extract scans clean document text and returns every deterministic anchor
// found. Bare CNPJ/CPF digit runs are dropped where a masked identifier
// already claimed the span; a URL is emitted once per link kind it
// qualifies for (GOV_LINK, PDF_LINK, GAZETTE_LINK).
func Extract(text string) []Anchor {
	var out []Anchor

	out = append(out, matchSimple(text, cnpjMaskedRe, KindCNPJ, 0.95, normalizeDigits)...)
	out = append(out, matchSimple(text, cpfMaskedRe, KindCPF, 0.95, normalizeDigits)...)
	out = append(out, matchSimple(text, cnjRe, KindCNJ, 0.97, normalizeDigits)...)
	out = append(out, matchSimple(text, seiRe, KindSEI, 0.9, normalizeDigits)...)

	// Bare (unmasked) CNPJ/CPF digit runs are lower-confidence: an 11- or
	// 14-digit run with no punctuation is easy to confuse with an
	// unrelated numeric ID. Skip any run already covered by a masked match
	// to avoid double-counting the same identifier.
	claimed := spanSet(out)
	out = append(out, filterUnclaimed(matchSimple(text, cnpjBareRe, KindCNPJ, 0.6, normalizeDigits), claimed)...)
	claimed = spanSet(out)
	out = append(out, filterUnclaimed(matchSimple(text, cpfBareRe, KindCPF, 0.55, normalizeDigits), claimed)...)

	out = append(out, matchGroup(text, tcuRe, KindTCU, 0.9, normalizeActLike)...)
	out = append(out, matchPLGroup(text)...)
	out = append(out, matchGroup(text, actRe, KindACT, 0.93, normalizeActLike)...)
	out = append(out, matchSimple(text, moneyRe, KindMoney, 0.85, normalizeMoney)...)
	out = append(out, matchDates(text)...)
	out = append(out, matchLinks(text)...)

	return out
}

// EntityMention is a coarse named-entity proxy independent of Anchor: it
// backs the Organizer's same-event probabilistic rule (title/entity
// overlap), not the deterministic hard-merge rule, so it is kept as its
// own extraction rather than an Anchor kind.
type EntityMention struct {
	Value     string
	SpanStart int
}

// ExtractEntityMentions returns deduplicated capitalized multi-word runs —
// a crude named-entity proxy standing in for the NER/LLM model this system
// deliberately does not run on the fast path.
func ExtractEntityMentions(text string) []EntityMention {
	seen := make(map[string]int)
	var order []string
	for _, m := range capitalizedRun.FindAllStringSubmatchIndex(text, -1) {
		value := text[m[2]:m[3]]
		if _, ok := seen[value]; !ok {
			seen[value] = m[2]
			order = append(order, value)
		}
	}
	out := make([]EntityMention, 0, len(order))
	for _, v := range order {
		out = append(out, EntityMention{Value: v, SpanStart: seen[v]})
	}
	return out
}

func matchSimple(text string, re *regexp.Regexp, kind Kind, confidence float64, norm func(string) string) []Anchor {
	var out []Anchor
	for _, m := range re.FindAllStringIndex(text, -1) {
		value := text[m[0]:m[1]]
		out = append(out, Anchor{
			Kind: kind, Value: value, Normalized: norm(value),
			Confidence: confidence, SpanStart: m[0], SpanEnd: m[1],
		})
	}
	return out
}

// matchGroup extracts anchors from a regex whose submatch group 1 is the
// label (e.g. "Decreto") and group 2 the number, normalizing the pair and
// keeping the full match as the span and Value.
func matchGroup(text string, re *regexp.Regexp, kind Kind, confidence float64, norm func(kindLabel, num string) string) []Anchor {
	var out []Anchor
	for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
		full := text[m[0]:m[1]]
		label := text[m[2]:m[3]]
		num := text[m[4]:m[5]]
		out = append(out, Anchor{
			Kind: kind, Value: full, Normalized: norm(label, num),
			Confidence: confidence, SpanStart: m[0], SpanEnd: m[1],
		})
	}
	return out
}

// matchPLGroup is matchGroup specialized for bills: the label (PL, PEC,
// MPV, ...) is itself part of the identity, so normalization keeps it.
func matchPLGroup(text string) []Anchor {
	var out []Anchor
	for _, m := range plRe.FindAllStringSubmatchIndex(text, -1) {
		full := text[m[0]:m[1]]
		label := strings.ToUpper(text[m[2]:m[3]])
		num := text[m[4]:m[5]]
		out = append(out, Anchor{
			Kind: KindPL, Value: full, Normalized: fmt.Sprintf("%s %s", label, num),
			Confidence: 0.93, SpanStart: m[0], SpanEnd: m[1],
		})
	}
	return out
}

func normalizeActLike(label, num string) string {
	return fmt.Sprintf("%s %s", strings.ToLower(strings.TrimSpace(label)), num)
}

func normalizeDigits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeMoney turns a Brazilian-formatted "R$ 4.500.000.000,00" (or
// unpunctuated "R$ 4500000000") into a canonical decimal string in reais,
// e.g. "4500000000.00".
func normalizeMoney(value string) string {
	digits := strings.TrimSpace(strings.TrimPrefix(value, "R$"))
	digits = strings.TrimSpace(digits)

	cents := "00"
	if idx := strings.LastIndex(digits, ","); idx != -1 && len(digits)-idx == 3 {
		cents = digits[idx+1:]
		digits = digits[:idx]
	}
	digits = strings.ReplaceAll(digits, ".", "")
	if digits == "" {
		return "0.00"
	}
	if _, err := strconv.ParseInt(digits, 10, 64); err != nil {
		return digits
	}
	return digits + "." + cents
}

func matchDates(text string) []Anchor {
	var out []Anchor
	for _, m := range dateNumericRe.FindAllStringSubmatchIndex(text, -1) {
		full := text[m[0]:m[1]]
		day, month, year := text[m[2]:m[3]], text[m[4]:m[5]], text[m[6]:m[7]]
		out = append(out, Anchor{
			Kind: KindDate, Value: full, Normalized: isoDate(year, month, day),
			Confidence: 0.7, SpanStart: m[0], SpanEnd: m[1],
		})
	}
	for _, m := range dateTextualRe.FindAllStringSubmatchIndex(text, -1) {
		full := text[m[0]:m[1]]
		day := text[m[2]:m[3]]
		monthName := strings.ToLower(text[m[4]:m[5]])
		year := text[m[6]:m[7]]
		month, ok := monthIndex[monthName]
		if !ok {
			continue
		}
		out = append(out, Anchor{
			Kind: KindDate, Value: full, Normalized: isoDate(year, month, day),
			Confidence: 0.85, SpanStart: m[0], SpanEnd: m[1],
		})
	}
	return out
}

func isoDate(year, month, day string) string {
	if len(day) == 1 {
		day = "0" + day
	}
	if len(month) == 1 {
		month = "0" + month
	}
	return fmt.Sprintf("%s-%s-%sT00:00:00Z", year, month, day)
}

func matchLinks(text string) []Anchor {
	var out []Anchor
	for _, m := range urlRe.FindAllStringIndex(text, -1) {
		raw := text[m[0]:m[1]]
		lower := strings.ToLower(raw)

		isPDF := strings.HasSuffix(strings.TrimRight(lower, ").,;"), ".pdf")
		isGov := strings.Contains(lower, ".gov.br") || strings.Contains(lower, ".gov/") || strings.HasSuffix(lower, ".gov")
		isGazette := false
		if isGov {
			for _, marker := range gazetteHostMarkers {
				if strings.Contains(lower, marker) {
					isGazette = true
					break
				}
			}
		}

		if isPDF {
			out = append(out, Anchor{Kind: KindPDFLink, Value: raw, Normalized: lower, Confidence: 0.9, SpanStart: m[0], SpanEnd: m[1]})
		}
		if isGov {
			out = append(out, Anchor{Kind: KindGovLink, Value: raw, Normalized: lower, Confidence: 0.9, SpanStart: m[0], SpanEnd: m[1]})
		}
		if isGazette {
			out = append(out, Anchor{Kind: KindGazetteLink, Value: raw, Normalized: lower, Confidence: 0.92, SpanStart: m[0], SpanEnd: m[1]})
		}
	}
	return out
}

func spanSet(anchors []Anchor) map[[2]int]bool {
	set := make(map[[2]int]bool, len(anchors))
	for _, a := range anchors {
		set[[2]int{a.SpanStart, a.SpanEnd}] = true
	}
	return set
}

// filterUnclaimed drops bare-digit matches whose span overlaps a
// higher-confidence masked match already found (e.g. the 11 trailing
// digits of a masked CNPJ should not also be counted as a bare CPF).
func filterUnclaimed(anchors []Anchor, claimed map[[2]int]bool) []Anchor {
	var out []Anchor
	for _, a := range anchors {
		overlaps := false
		for span := range claimed {
			if a.SpanStart < span[1] && span[0] < a.SpanEnd {
				overlaps = true
				break
			}
		}
		if !overlaps {
			out = append(out, a)
		}
	}
	return out
}

// DetectLanguage wraps langdetect for callers in this package's domain so
// the Extractor/Anchor pipeline has a single language-detection entry
// point, normalizing the result to a bare lowercase subtag (language.NormalizeCode)
// so Document.DetectedLanguage never stores a stray case or region variant.
func DetectLanguage(text string) string {
	return language.NormalizeCode(langdetect.DetectISO6391(text))
}

// MoneyMentionCount counts MONEY anchors, one of the EvidenceFeatures
// inputs the evidence score combines.
func MoneyMentionCount(anchors []Anchor) int { return countKind(anchors, KindMoney) }

// StrongAnchorCount counts anchors whose Kind is in StrongKinds — the
// input EvidenceFeatures.evidence_score and the Organizer's hard-merge
// rule both key on.
func StrongAnchorCount(anchors []Anchor) int {
	n := 0
	for _, a := range anchors {
		if StrongKinds[a.Kind] {
			n++
		}
	}
	return n
}

// HasPDFArtifact reports a PDF_LINK anchor.
func HasPDFArtifact(anchors []Anchor) bool { return countKind(anchors, KindPDFLink) > 0 }

// HasOfficialDomainArtifact reports a GOV_LINK or GAZETTE_LINK anchor.
func HasOfficialDomainArtifact(anchors []Anchor) bool {
	return countKind(anchors, KindGovLink) > 0 || countKind(anchors, KindGazetteLink) > 0
}

// EvidenceScoreInput is the feature set ComputeEvidenceScore combines.
type EvidenceScoreInput struct {
	StrongAnchorCount int
	MoneyMentionCount int
	HasPDF            bool
	HasOfficialDomain bool
	HasTableLike      bool
}

// ComputeEvidenceScore combines strong-anchor count, money-mention count,
// and document-artifact presence (PDF, official domain, table-like layout)
// into a single [0,1] score. Every term is additive and non-negative, so
// adding a strong anchor never reduces the score.
func ComputeEvidenceScore(in EvidenceScoreInput) float64 {
	score := 0.0
	score += 0.18 * clamp(float64(in.StrongAnchorCount), 0, 3)
	score += 0.08 * clamp(float64(in.MoneyMentionCount), 0, 2)
	if in.HasPDF {
		score += 0.15
	}
	if in.HasOfficialDomain {
		score += 0.15
	}
	if in.HasTableLike {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func countKind(anchors []Anchor, k Kind) int {
	n := 0
	for _, a := range anchors {
		if a.Kind == k {
			n++
		}
	}
	return n
}

// HasTableLikeLayout is a crude heuristic for a table-like layout: several
// consecutive lines each containing two or more whitespace-separated
// numeric tokens, the shape a rendered HTML/PDF table degrades to once
// flattened into clean text.
func HasTableLikeLayout(text string) bool {
	numericLine := regexp.MustCompile(`(?:\d[\d.,]*\s+){2,}\d[\d.,]*`)
	streak := 0
	for _, line := range strings.Split(text, "\n") {
		if numericLine.MatchString(line) {
			streak++
			if streak >= 3 {
				return true
			}
		} else {
			streak = 0
		}
	}
	return false
}
