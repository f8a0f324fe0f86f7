package workflow

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topicwatch/internal/analysis"
	collyfetcher "github.com/JakeFAU/topicwatch/internal/fetcher/colly"
	"github.com/JakeFAU/topicwatch/internal/hash/sha256"
	"github.com/JakeFAU/topicwatch/internal/id/uuid"
	"github.com/JakeFAU/topicwatch/internal/model"
	"github.com/JakeFAU/topicwatch/internal/policy/ratelimit"
	"github.com/JakeFAU/topicwatch/internal/policy/retry"
	"github.com/JakeFAU/topicwatch/internal/progress"
	"github.com/JakeFAU/topicwatch/internal/scraper"
	"github.com/JakeFAU/topicwatch/internal/storage/memory"
	"github.com/JakeFAU/topicwatch/internal/store"
	"github.com/JakeFAU/topicwatch/internal/topic"
)

// TestDailyScansThreeFeeds verifies a scan of three feeds with two items
// each reports three sources and six articles and persists them.
func TestDailyScansThreeFeeds(t *testing.T) {
	t.Parallel()

	srv := newRSSServer(t)
	repo := memory.NewRepository()
	daily, err := NewDaily(DailyDependencies{
		Articles: repo,
		Scraper:  newRealScraper(t),
		Analyst:  analysis.New(nil, analysis.DefaultConfig(), nil),
	})
	require.NoError(t, err)

	tp := sampleTopic()
	tp.Sources = []topic.Source{
		{ID: "s1", Name: "One", URL: srv.URL + "/feed/one"},
		{ID: "s2", Name: "Two", URL: srv.URL + "/feed/two"},
		{ID: "s3", Name: "Three", URL: srv.URL + "/feed/three"},
	}
	rec := progress.NewRecorder()
	res := daily.Run(context.Background(), progress.NewScope(rec, tp.ID, "run-a", nil), tp)

	require.True(t, res.Success, res.Error)
	require.Equal(t, 3, res.SourcesScanned)
	require.Equal(t, 6, res.ArticlesFound)
	require.Equal(t, 6, res.ArticlesAnalyzed)
	require.Equal(t, 6, res.ArticlesSaved)
	require.Empty(t, res.FailedSources)
	require.Equal(t, analysis.FallbackModel, res.AnalysisModel)
	for _, node := range res.Nodes {
		require.Equal(t, StatusCompleted, node.Status, node.Name)
	}

	stored, err := repo.GetArticles(context.Background(), tp.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, stored, 6)

	require.Len(t, rec.Named(progress.EventScanComplete), 1)
	require.Len(t, rec.Named(progress.EventArticleScraped), 6)
	require.Len(t, rec.Named(progress.EventArticleAnalyzed), 6)
	require.Empty(t, rec.Named(progress.EventError))
}

// TestDailyWithoutSources verifies a topic with no sources scans nothing and
// still succeeds.
func TestDailyWithoutSources(t *testing.T) {
	t.Parallel()

	scr := &stubScraper{}
	daily, err := NewDaily(DailyDependencies{
		Articles: memory.NewRepository(),
		Scraper:  scr,
		Analyst:  analysis.New(nil, analysis.DefaultConfig(), nil),
	})
	require.NoError(t, err)

	rec := progress.NewRecorder()
	tp := sampleTopic()
	res := daily.Run(context.Background(), progress.NewScope(rec, tp.ID, "run-b", nil), tp)

	require.True(t, res.Success)
	require.Zero(t, res.SourcesScanned)
	require.Zero(t, res.ArticlesFound)
	require.Zero(t, res.ArticlesAnalyzed)
	require.Zero(t, res.HighImportanceCount)
	require.Empty(t, rec.Named(progress.EventSourceStatus))
	require.Len(t, rec.Named(progress.EventScanComplete), 1)
}

// TestDailyModelFailureFallsBack verifies a model that always errors still
// yields analyzed articles labelled with the fallback scorer.
func TestDailyModelFailureFallsBack(t *testing.T) {
	t.Parallel()

	repo := memory.NewRepository()
	caller := &failingCaller{err: &model.StatusError{Code: 503}}
	daily, err := NewDaily(DailyDependencies{
		Articles: repo,
		Scraper:  &stubScraper{results: sampleResults(4)},
		Analyst:  analysis.New(caller, analysis.DefaultConfig(), nil),
	})
	require.NoError(t, err)

	tp := sampleTopic()
	tp.Sources = []topic.Source{{ID: "src", Name: "Source", URL: "https://example.com/feed"}}
	res := daily.Run(context.Background(), progress.NewScope(nil, tp.ID, "run-d", nil), tp)

	require.True(t, res.Success, res.Error)
	require.Positive(t, caller.Calls())
	require.Equal(t, 4, res.ArticlesAnalyzed)
	require.Equal(t, analysis.FallbackModel, res.AnalysisModel)

	stored, err := repo.GetArticles(context.Background(), tp.ID, time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	for _, a := range stored {
		require.Equal(t, analysis.FallbackModel, a.AnalysisModel)
	}
}

// TestDailyReportsFailedSources verifies failed sources are named in the
// result without failing the run.
func TestDailyReportsFailedSources(t *testing.T) {
	t.Parallel()

	results := sampleResults(2)
	results = append(results, scraper.Result{SourceID: "bad", SourceName: "Broken", Status: scraper.StatusFailed, Error: "404"})
	daily, err := NewDaily(DailyDependencies{
		Scraper: &stubScraper{results: results},
		Analyst: analysis.New(nil, analysis.DefaultConfig(), nil),
	})
	require.NoError(t, err)

	res := daily.Run(context.Background(), progress.Scope{}, sampleTopic())

	require.True(t, res.Success)
	require.Equal(t, 2, res.SourcesScanned)
	require.Equal(t, []string{"Broken"}, res.FailedSources)
	require.Equal(t, 2, res.ArticlesFound)
	persist, ok := findNode(res.Nodes, NodePersist)
	require.True(t, ok)
	require.Equal(t, StatusSkipped, persist.Status)
}

// TestDailySourceLoadFailureHalts verifies a storage failure while loading
// sources fails the run at that step and emits error_occurred.
func TestDailySourceLoadFailureHalts(t *testing.T) {
	t.Parallel()

	scr := &stubScraper{}
	daily, err := NewDaily(DailyDependencies{
		Sources: &failingSources{err: store.ErrUnavailable},
		Scraper: scr,
		Analyst: analysis.New(nil, analysis.DefaultConfig(), nil),
	})
	require.NoError(t, err)

	rec := progress.NewRecorder()
	tp := sampleTopic()
	res := daily.Run(context.Background(), progress.NewScope(rec, tp.ID, "run-f", nil), tp)

	require.False(t, res.Success)
	require.Contains(t, res.Error, "store unavailable")
	require.Equal(t, StatusCompleted, res.Nodes[0].Status)
	require.Equal(t, StatusFailed, res.Nodes[1].Status)
	for _, node := range res.Nodes[2:] {
		require.Equal(t, StatusPending, node.Status)
	}
	require.Zero(t, scr.Calls())

	errs := rec.Named(progress.EventError)
	require.Len(t, errs, 1)
	notice, ok := errs[0].Data.(progress.ErrorNotice)
	require.True(t, ok)
	require.Equal(t, NodeLoadSources, notice.NodeID)
	require.NotEmpty(t, notice.Message)
	require.Empty(t, rec.Named(progress.EventScanComplete))
}

// TestDailyStoreSourcesTakePrecedence verifies sources from the repository
// replace the topic's embedded list, ordered by priority.
func TestDailyStoreSourcesTakePrecedence(t *testing.T) {
	t.Parallel()

	repo := memory.NewRepository()
	tp := sampleTopic()
	tp.Sources = []topic.Source{
		{ID: "low", Name: "Low", URL: "https://low.example.com/feed", Priority: 1},
		{ID: "high", Name: "High", URL: "https://high.example.com/feed", Priority: 9},
	}
	require.NoError(t, repo.SaveTopic(context.Background(), tp))

	scr := &stubScraper{}
	daily, err := NewDaily(DailyDependencies{
		Sources: repo,
		Scraper: scr,
		Analyst: analysis.New(nil, analysis.DefaultConfig(), nil),
	})
	require.NoError(t, err)

	bare := tp
	bare.Sources = nil
	res := daily.Run(context.Background(), progress.Scope{}, bare)

	require.True(t, res.Success)
	require.Equal(t, []string{"high", "low"}, scr.LastIDs())
}

// TestNewDailyRequiresCollaborators verifies construction fails without a
// scraper or analyst.
func TestNewDailyRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewDaily(DailyDependencies{Analyst: analysis.New(nil, analysis.Config{}, nil)})
	require.Error(t, err)
	_, err = NewDaily(DailyDependencies{Scraper: &stubScraper{}})
	require.Error(t, err)
}

func sampleTopic() topic.Topic {
	return topic.Topic{
		ID:       "topic-1",
		Name:     "AI Chips",
		Status:   topic.StatusActive,
		Keywords: []string{"chip", "AI"},
		Schedule: topic.Schedule{
			Daily:  topic.DailyConfig{Enabled: true, Time: "06:00", Timezone: "UTC"},
			Weekly: topic.WeeklyConfig{Enabled: true, Day: "monday", Time: "08:00", Timezone: "UTC"},
		},
	}
}

func sampleResults(n int) []scraper.Result {
	items := make([]topic.Item, n)
	for i := range items {
		items[i] = topic.Item{
			ID:          fmt.Sprintf("item-%d", i),
			SourceID:    "src",
			SourceName:  "Source",
			URL:         fmt.Sprintf("https://example.com/story/%d", i),
			Title:       fmt.Sprintf("New AI chip benchmark %d", i),
			Excerpt:     "The chip delivers a breakthrough in AI inference performance for data centers.",
			ContentHash: fmt.Sprintf("hash-%d", i),
			ScrapedAt:   time.Now().UTC(),
		}
	}
	return []scraper.Result{{SourceID: "src", SourceName: "Source", Status: scraper.StatusSuccess, Items: items}}
}

func newRealScraper(t *testing.T) *scraper.Scraper {
	t.Helper()
	s, err := scraper.New(scraper.Config{
		Retry: retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}, scraper.Dependencies{
		Fetcher: collyfetcher.New(collyfetcher.Config{Timeout: 2 * time.Second}),
		Window:  ratelimit.NewWindow(120, time.Minute),
		Hosts:   ratelimit.NewHostLimiter(ratelimit.HostConfig{}),
		Hasher:  sha256.New(),
		IDs:     uuid.New(),
	})
	require.NoError(t, err)
	return s
}

func newRSSServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/feed/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		items := ""
		for i := 0; i < 2; i++ {
			items += fmt.Sprintf(
				"<item><title>AI chip story %s %d</title><link>https://example.com%s/%d</link>"+
					"<description>The AI chip market moved again this week.</description></item>",
				r.URL.Path, i, r.URL.Path, i)
		}
		_, _ = w.Write([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>` + items + `</channel></rss>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func findNode(nodes []NodeStatus, id string) (NodeStatus, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeStatus{}, false
}

type stubScraper struct {
	results []scraper.Result

	mu      sync.Mutex
	calls   int
	lastIDs []string
}

func (s *stubScraper) ScrapeAll(_ context.Context, _ progress.Scope, sources []topic.Source, _ int) []scraper.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastIDs = s.lastIDs[:0]
	for _, src := range sources {
		s.lastIDs = append(s.lastIDs, src.ID)
	}
	return s.results
}

func (s *stubScraper) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubScraper) LastIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lastIDs...)
}

type failingCaller struct {
	err error

	mu    sync.Mutex
	calls int
}

func (f *failingCaller) Call(context.Context, string, model.Options) (model.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return model.Response{}, f.err
}

func (f *failingCaller) Name() string { return "test-model" }

func (f *failingCaller) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type failingSources struct {
	err error
}

func (f *failingSources) GetSources(context.Context, string) ([]topic.Source, error) {
	return nil, f.err
}
