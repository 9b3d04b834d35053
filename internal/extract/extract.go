// Package extract implements the Extractor (C4): it turns a fetched body
// into plain article text, branching on the Source's configured strategy.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	goreadability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"github.com/mmcdole/gofeed"

	"newsradar/internal/reader"
)

// Strategy is one of the Source-configured extraction strategies.
type Strategy string

const (
	StrategyRSS         Strategy = "RSS"
	StrategyHTML         Strategy = "HTML"
	StrategyAPI          Strategy = "API"
	StrategySPAAPI       Strategy = "SPA_API"
	StrategySPAHeadless  Strategy = "SPA_HEADLESS"
	StrategyPDF          Strategy = "PDF"
)

// Item is one extracted article candidate, ready to become a Document.
type Item struct {
	CanonicalURL string
	Title        string
	BodyText     string
	PublishedAt  *time.Time
}

// ExtractHTML extracts the primary article text from an HTML body, falling
// back to go-shiori/go-readability when the primary extractor fails to
// produce usable content (e.g. on markup it cannot parse).
func ExtractHTML(body []byte, pageURL, title string) (string, error) {
	text, err := reader.ExtractHTMLFromBytes(body, pageURL, title)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}

	article, fallbackErr := goreadability.FromReader(bytes.NewReader(body), pageURL)
	if fallbackErr != nil {
		if err != nil {
			return "", fmt.Errorf("html extraction failed (primary: %v, fallback: %w)", err, fallbackErr)
		}
		return "", fmt.Errorf("html extraction fallback failed: %w", fallbackErr)
	}

	text = reader.CleanText(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("fallback html extraction produced empty content")
	}
	return text, nil
}

// ExtractRSS parses an RSS/Atom feed body into one Item per entry.
func ExtractRSS(body []byte) ([]Item, error) {
	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		item := Item{
			CanonicalURL: entry.Link,
			Title:        strings.TrimSpace(entry.Title),
		}
		if entry.PublishedParsed != nil {
			item.PublishedAt = entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			item.PublishedAt = entry.UpdatedParsed
		}

		content := entry.Content
		if content == "" {
			content = entry.Description
		}
		item.BodyText = reader.CleanText(stripTags(content))

		items = append(items, item)
	}
	return items, nil
}

// ExtractPDF extracts plain text from a PDF body, page by page. PDFs with
// no extractable text layer (scanned images) return an empty string rather
// than an error; OCR is out of scope for the fast path.
func ExtractPDF(body []byte, sizeHint int64) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(body), sizeHint)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return cleanPDFText(sb.String()), nil
}

func cleanPDFText(raw string) string {
	return strings.TrimSpace(raw)
}

func stripTags(html string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
