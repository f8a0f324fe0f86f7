// Package scraper fetches many sources concurrently under a shared rate
// limit, retries transient failures and normalises what it finds into
// topic.Items. A failing source never aborts its siblings.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/fetcher"
	"github.com/JakeFAU/topicwatch/internal/metrics"
	"github.com/JakeFAU/topicwatch/internal/policy/retry"
	"github.com/JakeFAU/topicwatch/internal/progress"
	"github.com/JakeFAU/topicwatch/internal/topic"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Defaults applied by New.
const (
	DefaultConcurrency  = 5
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxItems     = 10
)

// Result is the outcome of scraping one source.
type Result struct {
	SourceID   string        `json:"sourceId"`
	SourceName string        `json:"sourceName"`
	URL        string        `json:"url"`
	Status     string        `json:"status"`
	Items      []topic.Item  `json:"items"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
}

// Limiter bounds fetch starts across every source.
type Limiter interface {
	Wait(ctx context.Context) error
}

// HostLimiter spaces requests to the same host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Detector decides whether a page needs a headless render.
type Detector interface {
	ShouldPromote(resp fetcher.Response) bool
}

// Policy admits fetches and headless renders.
type Policy interface {
	AllowFetch(runID, rawURL string) bool
	AllowHeadless(runID, rawURL string) bool
}

// runReleaser is implemented by policies that keep per-run budgets.
type runReleaser interface {
	Release(runID string)
}

// Hasher fingerprints an item by title and link.
type Hasher interface {
	ContentKey(title, link string) string
}

// IDGenerator produces item ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Config controls Scraper behavior.
type Config struct {
	// Concurrency is the wave size.
	Concurrency  int
	Retry        retry.Policy
	FetchTimeout time.Duration
	// MaxItems is used when ScrapeAll is called with maxItems <= 0.
	MaxItems  int
	UserAgent string
}

// Dependencies are the collaborators a Scraper uses. Fetcher, Window, Hasher
// and IDs are required; the rest are optional.
type Dependencies struct {
	Fetcher  fetcher.Fetcher
	Headless fetcher.Fetcher
	Detector Detector
	Policy   Policy
	Window   Limiter
	Hosts    HostLimiter
	Hasher   Hasher
	IDs      IDGenerator
	Now      func() time.Time
	Logger   *zap.Logger
}

// Scraper runs source scrapes in bounded waves.
type Scraper struct {
	cfg      Config
	fetcher  fetcher.Fetcher
	headless fetcher.Fetcher
	detector Detector
	policy   Policy
	window   Limiter
	hosts    HostLimiter
	hasher   Hasher
	ids      IDGenerator
	now      func() time.Time
	logger   *zap.Logger
}

// New constructs a Scraper.
func New(cfg Config, deps Dependencies) (*Scraper, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("scraper: fetcher is required")
	}
	if deps.Window == nil {
		return nil, errors.New("scraper: rate window is required")
	}
	if deps.Hasher == nil || deps.IDs == nil {
		return nil, errors.New("scraper: hasher and id generator are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Retry.IsZero() {
		cfg.Retry = retry.Default()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Scraper{
		cfg:      cfg,
		fetcher:  deps.Fetcher,
		headless: deps.Headless,
		detector: deps.Detector,
		policy:   deps.Policy,
		window:   deps.Window,
		hosts:    deps.Hosts,
		hasher:   deps.Hasher,
		ids:      deps.IDs,
		now:      deps.Now,
		logger:   deps.Logger.Named("scraper"),
	}, nil
}

// ScrapeAll scrapes sources in waves of Config.Concurrency and returns one
// Result per source in input order. Each source reports
// source_status_update (active, then complete or failed) and its
// article_scraped events; progress_update follows every source of a wave in
// source order. Empty input emits nothing.
func (s *Scraper) ScrapeAll(ctx context.Context, scope progress.Scope, sources []topic.Source, maxItems int) []Result {
	results := make([]Result, 0, len(sources))
	if len(sources) == 0 {
		return results
	}
	if maxItems <= 0 {
		maxItems = s.cfg.MaxItems
	}
	if r, ok := s.policy.(runReleaser); ok {
		defer r.Release(scope.RunID())
	}

	tally := progress.ScanProgress{TotalSources: len(sources)}
	for start := 0; start < len(sources); start += s.cfg.Concurrency {
		end := min(start+s.cfg.Concurrency, len(sources))
		wave := sources[start:end]
		waveResults := make([]Result, len(wave))

		var wg sync.WaitGroup
		for i, src := range wave {
			wg.Add(1)
			go func() {
				defer wg.Done()
				waveResults[i] = s.scrapeSource(ctx, scope, src, maxItems)
			}()
		}
		wg.Wait()

		for _, res := range waveResults {
			if res.Status == StatusFailed {
				tally.FailedSources++
			} else {
				tally.CompletedSources++
			}
			tally.TotalArticles += len(res.Items)
			scope.Emit(progress.EventProgress, tally)
			results = append(results, res)
		}
	}
	return results
}

func (s *Scraper) scrapeSource(ctx context.Context, scope progress.Scope, src topic.Source, maxItems int) Result {
	start := time.Now()
	res := Result{SourceID: src.ID, SourceName: src.Name, URL: src.URL}
	scope.Emit(progress.EventSourceStatus, progress.SourceStatus{
		SourceID:   src.ID,
		SourceName: src.Name,
		URL:        src.URL,
		State:      progress.SourceActive,
	})

	entries, attempts, err := s.collect(ctx, scope.RunID(), src, maxItems)
	res.Attempts = attempts
	res.Duration = time.Since(start)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		res.Items = []topic.Item{}
		s.logger.Warn("source failed",
			zap.String("topic_id", scope.TopicID()),
			zap.String("source_id", src.ID),
			zap.String("url", src.URL),
			zap.Int("attempts", attempts),
			zap.Error(err))
		scope.Emit(progress.EventSourceStatus, progress.SourceStatus{
			SourceID:   src.ID,
			SourceName: src.Name,
			URL:        src.URL,
			State:      progress.SourceFailed,
			Result:     StatusFailed,
			Attempts:   attempts,
			Error:      res.Error,
		})
		scope.Emit(progress.EventError, progress.ErrorNotice{
			Message: fmt.Sprintf("source %s failed: %v", displayName(src), err),
		})
		return res
	}

	res.Items = s.buildItems(src, entries)
	res.Status = StatusPartial
	if len(res.Items) > 0 {
		res.Status = StatusSuccess
	}
	for _, item := range res.Items {
		scope.Emit(progress.EventArticleScraped, item)
	}
	scope.Emit(progress.EventSourceStatus, progress.SourceStatus{
		SourceID:   src.ID,
		SourceName: src.Name,
		URL:        src.URL,
		State:      progress.SourceComplete,
		Result:     res.Status,
		ItemsFound: len(res.Items),
		Attempts:   attempts,
	})
	s.logger.Debug("source scraped",
		zap.String("source_id", src.ID),
		zap.Int("items", len(res.Items)),
		zap.Int("attempts", attempts),
		zap.Duration("duration", res.Duration))
	return res
}

// collect walks the source's targets in order and stops at the first one
// that yields entries. It fails only when no target could be fetched.
func (s *Scraper) collect(ctx context.Context, runID string, src topic.Source, maxItems int) ([]entry, int, error) {
	targets, err := Targets(src)
	if err != nil {
		return nil, 0, err
	}
	var (
		attempts int
		fetched  bool
		lastErr  error
	)
	for _, target := range targets {
		if target.Unsupported || (s.policy != nil && !s.policy.AllowFetch(runID, target.URL)) {
			s.logger.Debug("target skipped", zap.String("url", target.URL))
			fetched = true
			continue
		}
		entries, n, err := s.scrapeTarget(ctx, runID, target, maxItems)
		attempts += n
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		fetched = true
		if len(entries) > 0 {
			return entries, attempts, nil
		}
	}
	if fetched {
		return nil, attempts, nil
	}
	return nil, attempts, lastErr
}

func (s *Scraper) scrapeTarget(ctx context.Context, runID string, target Target, maxItems int) ([]entry, int, error) {
	var entries []entry
	attempts, err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context, _ int) error {
		resp, err := s.fetch(ctx, target.URL, target.Kind)
		if err != nil {
			return err
		}
		entries, err = s.extract(ctx, runID, target, resp, maxItems)
		return err
	}, func(attempt int, delay time.Duration, err error) {
		metrics.ObserveFetchRetry(target.URL)
		s.logger.Info("retrying fetch",
			zap.String("url", target.URL),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	})
	if err != nil {
		return nil, attempts, fmt.Errorf("scrape %s: %w", target.URL, err)
	}
	return entries, attempts, nil
}

// fetch waits for the shared window and the host bucket, then performs one
// bounded request.
func (s *Scraper) fetch(ctx context.Context, rawURL string, kind Kind) (fetcher.Response, error) {
	if err := s.window.Wait(ctx); err != nil {
		return fetcher.Response{}, retry.Permanent(fmt.Errorf("rate window: %w", err))
	}
	if s.hosts != nil {
		if err := s.hosts.Wait(ctx, rawURL); err != nil {
			return fetcher.Response{}, retry.Permanent(fmt.Errorf("host limiter: %w", err))
		}
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	resp, err := s.fetcher.Fetch(fetchCtx, fetcher.Request{URL: rawURL, Headers: s.headers(kind)})
	if err != nil {
		return fetcher.Response{}, err
	}
	if resp.RobotsStatus != fetcher.RobotsStatusUnknown {
		s.logger.Warn("robots.txt unresolved, fetched anyway",
			zap.String("url", rawURL),
			zap.String("robots_status", string(resp.RobotsStatus)),
			zap.String("robots_reason", resp.RobotsReason))
	}
	return resp, nil
}

func (s *Scraper) headers(kind Kind) http.Header {
	h := http.Header{}
	if s.cfg.UserAgent != "" {
		h.Set("User-Agent", s.cfg.UserAgent)
	}
	if kind == KindFeed {
		h.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")
	} else {
		h.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	}
	return h
}

func (s *Scraper) extract(
	ctx context.Context,
	runID string,
	target Target,
	resp fetcher.Response,
	maxItems int,
) ([]entry, error) {
	if target.Kind == KindFeed {
		entries, err := parseFeed(resp.Body, maxItems)
		if err == nil {
			return entries, nil
		}
		if !errors.Is(err, errNotFeed) {
			return nil, retry.Permanent(err)
		}
		s.logger.Debug("feed not detected, parsing as page", zap.String("url", target.URL))
	}

	resp = s.maybePromote(ctx, runID, target.URL, resp)
	entries, err := parsePage(resp.Body, pageURL(resp, target.URL), maxItems)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	return entries, nil
}

func (s *Scraper) maybePromote(ctx context.Context, runID, rawURL string, resp fetcher.Response) fetcher.Response {
	if s.headless == nil || s.detector == nil || !s.detector.ShouldPromote(resp) {
		return resp
	}
	if s.policy != nil && !s.policy.AllowHeadless(runID, rawURL) {
		return resp
	}
	if err := s.window.Wait(ctx); err != nil {
		return resp
	}
	rendered, err := s.headless.Fetch(ctx, fetcher.Request{URL: rawURL, Headers: s.headers(KindPage)})
	if err != nil {
		s.logger.Warn("headless promotion failed", zap.String("url", rawURL), zap.Error(err))
		return resp
	}
	rendered.Rendered = true
	s.logger.Debug("headless promotion applied", zap.String("url", rawURL))
	return rendered
}

func (s *Scraper) buildItems(src topic.Source, entries []entry) []topic.Item {
	items := make([]topic.Item, 0, len(entries))
	scrapedAt := s.now()
	for _, e := range entries {
		id, err := s.ids.NewID()
		if err != nil {
			s.logger.Warn("item id generation failed", zap.String("source_id", src.ID), zap.Error(err))
			continue
		}
		tags := e.Tags
		if len(tags) == 0 {
			tags = src.Tags
		}
		items = append(items, topic.Item{
			ID:          id,
			SourceID:    src.ID,
			SourceName:  src.Name,
			URL:         e.Link,
			Title:       e.Title,
			Excerpt:     e.Excerpt,
			PublishedAt: e.PublishedAt,
			Author:      e.Author,
			Tags:        append([]string(nil), tags...),
			ContentHash: s.hasher.ContentKey(e.Title, e.Link),
			ScrapedAt:   scrapedAt,
		})
	}
	return items
}

func pageURL(resp fetcher.Response, fallback string) string {
	if resp.URL != "" {
		return resp.URL
	}
	return fallback
}

func displayName(src topic.Source) string {
	if src.Name != "" {
		return src.Name
	}
	if src.ID != "" {
		return src.ID
	}
	return src.URL
}
