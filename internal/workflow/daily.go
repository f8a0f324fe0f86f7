package workflow

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/analysis"
	"github.com/JakeFAU/topicwatch/internal/progress"
	"github.com/JakeFAU/topicwatch/internal/scraper"
	"github.com/JakeFAU/topicwatch/internal/store"
	"github.com/JakeFAU/topicwatch/internal/topic"
)

// Daily node ids.
const (
	NodeDailyInit    = "1.1"
	NodeLoadSources  = "1.2"
	NodePrepare      = "1.3"
	NodeScrape       = "1.4"
	NodeAnalyze      = "1.5"
	NodePersist      = "1.6"
	NodeStream       = "1.7"
	NodeDailySummary = "1.8"
)

const defaultDailyItems = 10

// Scraper fetches items from sources.
type Scraper interface {
	ScrapeAll(ctx context.Context, scope progress.Scope, sources []topic.Source, maxItems int) []scraper.Result
}

// Analyzer scores scraped items.
type Analyzer interface {
	Analyze(ctx context.Context, scope progress.Scope, in analysis.Input) (analysis.Output, error)
}

// DailyDependencies wires the daily scan. Scraper and Analyst are required.
// Without Sources the topic's own source list is scanned; without Articles
// the persist step is skipped.
type DailyDependencies struct {
	Sources  store.SourceRepository
	Articles store.ArticleRepository
	Scraper  Scraper
	Analyst  Analyzer
	// MaxItems caps items per source.
	MaxItems int
	Now      func() time.Time
	Logger   *zap.Logger
}

// DailyResult is the structured outcome of a daily scan.
type DailyResult struct {
	Success             bool         `json:"success"`
	RunID               string       `json:"runId"`
	TopicID             string       `json:"topicId"`
	SourcesScanned      int          `json:"sourcesScanned"`
	ArticlesFound       int          `json:"articlesFound"`
	ArticlesAnalyzed    int          `json:"articlesAnalyzed"`
	HighImportanceCount int          `json:"highImportanceCount"`
	ArticlesSaved       int          `json:"articlesSaved"`
	FailedSources       []string     `json:"failedSources"`
	AnalysisModel       string       `json:"analysisModel,omitempty"`
	Error               string       `json:"error,omitempty"`
	Nodes               []NodeStatus `json:"nodes"`
	StartedAt           time.Time    `json:"startedAt"`
	FinishedAt          time.Time    `json:"finishedAt"`
}

// Summary flattens the counters for run records.
func (r DailyResult) Summary() map[string]any {
	return map[string]any{
		"sourcesScanned":      r.SourcesScanned,
		"articlesFound":       r.ArticlesFound,
		"articlesAnalyzed":    r.ArticlesAnalyzed,
		"highImportanceCount": r.HighImportanceCount,
		"articlesSaved":       r.ArticlesSaved,
		"failedSources":       r.FailedSources,
		"analysisModel":       r.AnalysisModel,
	}
}

type dailyState struct {
	topic    topic.Topic
	sources  []topic.Source
	results  []scraper.Result
	items    []topic.Item
	analysis analysis.Output
	saved    int
	failed   []string
	scope    progress.Scope
}

// Daily runs the daily scan: load sources, scrape, analyze, persist.
type Daily struct {
	deps   DailyDependencies
	engine *Engine[dailyState]
	logger *zap.Logger
}

// NewDaily builds the daily scan workflow.
func NewDaily(deps DailyDependencies) (*Daily, error) {
	if deps.Scraper == nil || deps.Analyst == nil {
		return nil, errors.New("workflow: daily scan needs a scraper and an analyst")
	}
	if deps.MaxItems <= 0 {
		deps.MaxItems = defaultDailyItems
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	d := &Daily{deps: deps, logger: deps.Logger.Named("daily")}
	d.engine = NewEngine("daily_scan", []Step[dailyState]{
		{ID: NodeDailyInit, Name: "Initialize Session", Run: d.initialize},
		{ID: NodeLoadSources, Name: "Load Sources", Run: d.loadSources},
		{ID: NodePrepare, Name: "Prepare Targets", Run: d.prepareTargets},
		{ID: NodeScrape, Name: "Multi-Source Scraper", Run: d.scrape},
		{ID: NodeAnalyze, Name: "News Analyst", Run: d.analyze},
		{ID: NodePersist, Name: "Persist Articles", Run: d.persist},
		{ID: NodeStream, Name: "Stream Results", Run: d.stream},
		{ID: NodeDailySummary, Name: "Summarize", Run: d.summarize},
	}, deps.Now, deps.Logger)
	return d, nil
}

// Nodes lists the pending node records of a fresh daily run.
func (d *Daily) Nodes() []NodeStatus {
	return d.engine.Steps()
}

// Run scans t once. Failures are reported in the result, never returned;
// scan_complete is emitted on success and error_occurred on failure.
func (d *Daily) Run(ctx context.Context, scope progress.Scope, t topic.Topic) DailyResult {
	state := &dailyState{topic: t, scope: scope, failed: []string{}}
	report := d.engine.Execute(ctx, scope, state)

	res := DailyResult{
		Success:             report.Success,
		RunID:               scope.RunID(),
		TopicID:             t.ID,
		SourcesScanned:      len(state.results),
		ArticlesFound:       len(state.items),
		ArticlesAnalyzed:    len(state.analysis.Articles),
		HighImportanceCount: state.analysis.HighImportanceCount,
		ArticlesSaved:       state.saved,
		FailedSources:       state.failed,
		AnalysisModel:       state.analysis.Model,
		Error:               report.Error,
		Nodes:               report.Nodes,
		StartedAt:           report.StartedAt,
		FinishedAt:          report.FinishedAt,
	}
	if !report.Success {
		scope.Emit(progress.EventError, progress.ErrorNotice{
			Message: "Daily scan failed: " + report.Error,
			NodeID:  report.FailedNode,
			Cadence: string(topic.CadenceDaily),
		})
		return res
	}
	scope.Emit(progress.EventScanComplete, res)
	return res
}

func (d *Daily) initialize(_ context.Context, s *dailyState) (map[string]any, error) {
	if s.topic.ID == "" {
		return nil, errors.New("topic id is required")
	}
	return map[string]any{
		"runId":    s.scope.RunID(),
		"topicId":  s.topic.ID,
		"keywords": len(s.topic.Keywords),
	}, nil
}

func (d *Daily) loadSources(ctx context.Context, s *dailyState) (map[string]any, error) {
	origin := "topic"
	s.sources = s.topic.Sources
	if d.deps.Sources != nil {
		sources, err := d.deps.Sources.GetSources(ctx, s.topic.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load sources: %w", err)
		default:
			s.sources = sources
			origin = "store"
		}
	}
	return map[string]any{"sources": len(s.sources), "origin": origin}, nil
}

// prepareTargets orders sources by priority and counts the ones whose URLs
// resolve. Unresolvable sources still go to the scraper, which reports them
// failed.
func (d *Daily) prepareTargets(_ context.Context, s *dailyState) (map[string]any, error) {
	s.sources = slices.Clone(s.sources)
	slices.SortStableFunc(s.sources, func(a, b topic.Source) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	resolvable := 0
	for _, src := range s.sources {
		if _, err := scraper.Targets(src); err == nil {
			resolvable++
		}
	}
	return map[string]any{"targets": len(s.sources), "resolvable": resolvable}, nil
}

func (d *Daily) scrape(ctx context.Context, s *dailyState) (map[string]any, error) {
	s.results = d.deps.Scraper.ScrapeAll(ctx, s.scope, s.sources, d.deps.MaxItems)
	seen := make(map[string]struct{})
	partial := 0
	for _, res := range s.results {
		switch res.Status {
		case scraper.StatusFailed:
			s.failed = append(s.failed, res.SourceName)
			continue
		case scraper.StatusPartial:
			partial++
		}
		for _, item := range res.Items {
			if item.ContentHash != "" {
				if _, dup := seen[item.ContentHash]; dup {
					continue
				}
				seen[item.ContentHash] = struct{}{}
			}
			s.items = append(s.items, item)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scrape: %w", err)
	}
	return map[string]any{
		"sources":  len(s.results),
		"failed":   len(s.failed),
		"partial":  partial,
		"articles": len(s.items),
	}, nil
}

func (d *Daily) analyze(ctx context.Context, s *dailyState) (map[string]any, error) {
	authority := make(map[string]int, len(s.sources))
	for _, src := range s.sources {
		if src.Authority > 0 {
			authority[src.ID] = src.Authority
		}
	}
	out, err := d.deps.Analyst.Analyze(ctx, s.scope, analysis.Input{
		TopicID:   s.topic.ID,
		TopicName: s.topic.Name,
		Keywords:  s.topic.Keywords,
		Items:     s.items,
		Authority: authority,
	})
	if err != nil {
		return nil, err
	}
	s.analysis = out
	return map[string]any{
		"analyzed":       len(out.Articles),
		"highImportance": out.HighImportanceCount,
		"model":          out.Model,
		"fallback":       out.UsedFallback,
		"totalTokens":    out.Usage.TotalTokens,
	}, nil
}

// persist saves analyzed articles. Individual save errors are logged; the
// step fails only when no article could be saved.
func (d *Daily) persist(ctx context.Context, s *dailyState) (map[string]any, error) {
	if d.deps.Articles == nil {
		return map[string]any{"saved": 0}, Skip("no article store configured")
	}
	var (
		duplicates int
		failures   int
		lastErr    error
	)
	for _, art := range s.analysis.Articles {
		created, err := d.deps.Articles.SaveArticle(ctx, s.topic.ID, art)
		switch {
		case err != nil:
			failures++
			lastErr = err
			d.logger.Warn("save article failed",
				zap.String("topic_id", s.topic.ID),
				zap.String("article_id", art.ID),
				zap.Error(err))
		case created:
			s.saved++
		default:
			duplicates++
		}
	}
	metrics := map[string]any{"saved": s.saved, "duplicates": duplicates, "failed": failures}
	if failures > 0 && s.saved == 0 && duplicates == 0 {
		return metrics, fmt.Errorf("save articles: %w", lastErr)
	}
	return metrics, nil
}

func (d *Daily) stream(_ context.Context, s *dailyState) (map[string]any, error) {
	s.scope.Emit(progress.EventProgress, progress.ScanProgress{
		TotalSources:     len(s.sources),
		CompletedSources: len(s.results) - len(s.failed),
		FailedSources:    len(s.failed),
		TotalArticles:    len(s.items),
	})
	return map[string]any{"streamed": len(s.analysis.Articles)}, nil
}

func (d *Daily) summarize(_ context.Context, s *dailyState) (map[string]any, error) {
	d.logger.Info("daily scan summary",
		zap.String("topic_id", s.topic.ID),
		zap.String("run_id", s.scope.RunID()),
		zap.Int("sources", len(s.results)),
		zap.Int("failed_sources", len(s.failed)),
		zap.Int("articles", len(s.items)),
		zap.Int("analyzed", len(s.analysis.Articles)),
		zap.Int("high_importance", s.analysis.HighImportanceCount),
		zap.String("model", s.analysis.Model))
	return map[string]any{
		"sourcesScanned":      len(s.results),
		"articlesFound":       len(s.items),
		"articlesAnalyzed":    len(s.analysis.Articles),
		"highImportanceCount": s.analysis.HighImportanceCount,
	}, nil
}
