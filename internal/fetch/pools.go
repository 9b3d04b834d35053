// Package fetch implements the Fetcher (C3): three independently-budgeted
// worker pools (FAST, RENDER, DEEP) draining Scheduler jobs, each fetch
// attempt SSRF-guarded, rate-limited per source, and recorded via the
// ingest service. A per-domain circuit breaker short-circuits further
// attempts once a domain has failed repeatedly, grounded on the same
// failed-domain bookkeeping a crawler's content fetcher uses to avoid
// hammering a source that is already down.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"newsradar/internal/ingest"
	"newsradar/internal/kv"
	"newsradar/internal/metrics"
	"newsradar/internal/scheduler"
	"newsradar/internal/ssrf"
)

const (
	maxBodyBytes          = 8 << 20
	circuitBreakThreshold = 5
	circuitBreakCooldown  = 10 * time.Minute
	fetchTimeout          = 15 * time.Second
)

// Pool runs N worker goroutines draining jobs from a channel.
type Pool struct {
	name       string
	client     *http.Client
	ingestSvc  *ingest.Service
	extractFn  func(ctx context.Context, job scheduler.Job, snapshotID uuid.UUID, body []byte, contentType string) error
	kv         *kv.Store
	logger     zerolog.Logger

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	breakerMu sync.Mutex
	breaker   map[string]*domainBreaker
}

type domainBreaker struct {
	failures  int
	openUntil time.Time
}

// NewPool constructs a Pool named name, calling extractFn for every
// successfully fetched body that produced a new Snapshot. store, when
// non-nil, mirrors circuit-breaker state across replicas; a nil store
// leaves the breaker process-local, which is fine for a single-replica
// deployment or tests.
func NewPool(name string, ingestSvc *ingest.Service, extractFn func(context.Context, scheduler.Job, uuid.UUID, []byte, string) error, store *kv.Store, logger zerolog.Logger) *Pool {
	return &Pool{
		name: name,
		client: &http.Client{
			Timeout:       fetchTimeout,
			CheckRedirect: ssrf.CheckRedirect,
		},
		ingestSvc: ingestSvc,
		extractFn: extractFn,
		kv:        store,
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
		breaker:   make(map[string]*domainBreaker),
	}
}

// Run starts n worker goroutines draining jobs until ctx is cancelled or
// jobs is closed.
func (p *Pool) Run(ctx context.Context, jobs <-chan scheduler.Job, n int) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, jobs)
		}()
	}
	wg.Wait()
}

func (p *Pool) worker(ctx context.Context, jobs <-chan scheduler.Job) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			p.process(ctx, job)
		}
	}
}

func (p *Pool) process(ctx context.Context, job scheduler.Job) {
	targetURL := job.SourceID.BaseURL
	domain := hostOf(targetURL)

	if p.breakerOpen(ctx, domain) {
		p.logger.Debug().Str("domain", domain).Msg("circuit breaker open, skipping")
		return
	}

	if err := p.limiterFor(job.SourceID.Key, job.SourceID.RateLimitPerMin).Wait(ctx); err != nil {
		return
	}

	etag, lastModified, condErr := p.ingestSvc.LastConditionalHeaders(ctx, targetURL)
	if condErr != nil {
		p.logger.Warn().Err(condErr).Str("url", targetURL).Msg("lookup conditional headers failed")
	}

	start := time.Now()
	fr, err := p.doFetch(ctx, targetURL, job.SourceID.UserAgent, etag, lastModified)
	duration := time.Since(start)

	outcome := "ok"
	errMsg := ""
	errorClass := "none"
	switch {
	case err != nil:
		outcome = "error"
		errMsg = err.Error()
		errorClass = classifyFetchError(err)
		p.recordFailure(ctx, domain)
	case fr.statusCode == http.StatusNotModified:
		outcome = "not_modified"
		p.recordSuccess(ctx, domain)
	default:
		p.recordSuccess(ctx, domain)
	}

	metrics.FetchAttemptsTotal.WithLabelValues(
		job.SourceID.ID.String(), job.SourceID.Strategy, p.name,
		metrics.StatusClass(fr.statusCode), errorClass,
	).Inc()
	metrics.FetchLatencySeconds.WithLabelValues(job.SourceID.Strategy, p.name).Observe(duration.Seconds())

	result, ierr := p.ingestSvc.IngestOne(ctx, ingest.Request{
		SourceID: job.SourceID.ID, Pool: p.name, URL: targetURL, StatusCode: fr.statusCode,
		Outcome: outcome, ErrorMessage: errMsg, DurationMS: duration.Milliseconds(),
		ContentType: fr.contentType, Body: fr.body,
		ETag: fr.etag, LastModified: fr.lastModified, NotModified: outcome == "not_modified",
	})
	if ierr != nil {
		p.logger.Error().Err(ierr).Str("url", targetURL).Msg("record fetch attempt failed")
	}

	if err != nil || outcome == "not_modified" || p.extractFn == nil || !result.SnapshotNew || result.SnapshotID == nil {
		return
	}
	if err := p.extractFn(ctx, job, *result.SnapshotID, fr.body, fr.contentType); err != nil {
		p.logger.Error().Err(err).Str("url", targetURL).Msg("extract after fetch failed")
	}
}

// fetchResult is what one HTTP round trip against a Source's baseURL
// produced, including the conditional-request metadata the next attempt
// against the same URL will send back.
type fetchResult struct {
	body         []byte
	contentType  string
	statusCode   int
	etag         string
	lastModified string
}

// doFetch issues the request, sending ifNoneMatch/ifModifiedSince as
// conditional headers when the caller has a prior Snapshot's ETag/
// Last-Modified on file, so an unchanged page can come back as a cheap 304
// instead of a full body re-fetch (§4.3's FAST pool contract).
func (p *Pool) doFetch(ctx context.Context, target, userAgent, ifNoneMatch, ifModifiedSince string) (fetchResult, error) {
	if err := ssrf.CheckURL(ctx, target); err != nil {
		return fetchResult{}, fmt.Errorf("ssrf guard: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fetchResult{}, fmt.Errorf("build request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}
	if ifModifiedSince != "" {
		req.Header.Set("If-Modified-Since", ifModifiedSince)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fetchResult{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fetchResult{statusCode: resp.StatusCode}, fmt.Errorf("read body: %w", err)
	}
	fr := fetchResult{
		body: body, contentType: resp.Header.Get("Content-Type"), statusCode: resp.StatusCode,
		etag: resp.Header.Get("ETag"), lastModified: resp.Header.Get("Last-Modified"),
	}
	if resp.StatusCode >= 400 {
		return fr, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return fr, nil
}

func classifyFetchError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ssrf guard"):
		return "ssrf_blocked"
	case strings.Contains(msg, "http status"):
		return "http_error"
	default:
		return "network"
	}
}

func (p *Pool) limiterFor(key string, perMinute int) *rate.Limiter {
	p.limitersMu.Lock()
	defer p.limitersMu.Unlock()
	if l, ok := p.limiters[key]; ok {
		return l
	}
	if perMinute <= 0 {
		perMinute = 30
	}
	l := rate.NewLimiter(rate.Limit(float64(perMinute)/60), 1)
	p.limiters[key] = l
	return l
}

func (p *Pool) breakerOpen(ctx context.Context, domain string) bool {
	p.breakerMu.Lock()
	b, ok := p.breaker[domain]
	open := ok && b.failures >= circuitBreakThreshold && time.Now().Before(b.openUntil)
	p.breakerMu.Unlock()
	if open {
		return true
	}

	if p.kv == nil {
		return false
	}
	_, sharedOpen, err := p.kv.Get(ctx, breakerKey(domain))
	if err != nil {
		p.logger.Warn().Err(err).Str("domain", domain).Msg("breaker state lookup failed")
		return false
	}
	return sharedOpen
}

func (p *Pool) recordFailure(ctx context.Context, domain string) {
	p.breakerMu.Lock()
	b, ok := p.breaker[domain]
	if !ok {
		b = &domainBreaker{}
		p.breaker[domain] = b
	}
	b.failures++
	tripped := b.failures >= circuitBreakThreshold
	if tripped {
		b.openUntil = time.Now().Add(circuitBreakCooldown)
	}
	p.breakerMu.Unlock()

	if tripped && p.kv != nil {
		if err := p.kv.Set(ctx, breakerKey(domain), "1", circuitBreakCooldown); err != nil {
			p.logger.Warn().Err(err).Str("domain", domain).Msg("breaker state write failed")
		}
	}
}

func (p *Pool) recordSuccess(ctx context.Context, domain string) {
	p.breakerMu.Lock()
	delete(p.breaker, domain)
	p.breakerMu.Unlock()

	if p.kv != nil {
		if err := p.kv.Del(ctx, breakerKey(domain)); err != nil {
			p.logger.Warn().Err(err).Str("domain", domain).Msg("breaker state clear failed")
		}
	}
}

func breakerKey(domain string) string {
	return "newsradar:breaker:" + domain
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
