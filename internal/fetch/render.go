package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

const renderTimeout = 20 * time.Second

// RenderSPA drives a headless Chrome instance to targetURL, with image
// loading disabled, and returns the fully hydrated document's HTML
// once the body is present. This is the SPA_HEADLESS extraction strategy's
// only path to getting text out of a client-rendered page.
func RenderSPA(ctx context.Context, targetURL, binaryPath string) (string, error) {
	renderCtx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if binaryPath != "" {
		opts = append(opts, chromedp.ExecPath(binaryPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(renderCtx, opts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	var html string
	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("render %s: %w", targetURL, err)
	}
	return html, nil
}
