package workflow

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/digest"
	"github.com/JakeFAU/topicwatch/internal/email"
	"github.com/JakeFAU/topicwatch/internal/progress"
	"github.com/JakeFAU/topicwatch/internal/schedule"
	"github.com/JakeFAU/topicwatch/internal/store"
	"github.com/JakeFAU/topicwatch/internal/topic"
)

// Weekly node ids.
const (
	NodeWeeklyInit    = "2.1"
	NodeWeekWindow    = "2.2"
	NodeFetchArticles = "2.3"
	NodeCurate        = "2.4"
	NodeWriter        = "2.5"
	NodeValidate      = "2.6"
	NodeSend          = "2.7"
	NodeArchive       = "2.8"
	NodeReport        = "2.9"
)

const (
	digestLookback        = 7 * 24 * time.Hour
	defaultTopStories     = 15
	defaultHighImportance = 80
)

// DigestWriter renders a digest.
type DigestWriter interface {
	Write(ctx context.Context, in digest.Input) (digest.Digest, error)
}

// WeeklyDependencies wires the weekly digest. Articles and Writer are
// required. A nil Sender skips delivery; a nil Archive skips archiving.
type WeeklyDependencies struct {
	Articles store.ArticleRepository
	Writer   DigestWriter
	Sender   email.Sender
	Archive  store.BlobStore
	// TopStories caps the curated list.
	TopStories int
	// HighImportance is the score counted as high importance.
	HighImportance int
	DashboardURL   string
	Now            func() time.Time
	Logger         *zap.Logger
}

// WeeklyResult is the structured outcome of a weekly digest.
type WeeklyResult struct {
	Success             bool         `json:"success"`
	RunID               string       `json:"runId"`
	TopicID             string       `json:"topicId"`
	WeekStart           string       `json:"weekStart"`
	TotalArticles       int          `json:"totalArticles"`
	HighImportanceCount int          `json:"highImportanceCount"`
	ArticlesIncluded    int          `json:"articlesIncluded"`
	EmailSubject        string       `json:"emailSubject,omitempty"`
	EmailsSent          int          `json:"emailsSent"`
	EmailsFailed        int          `json:"emailsFailed"`
	EmailSkipped        bool         `json:"emailSkipped"`
	DigestModel         string       `json:"digestModel,omitempty"`
	ArchiveURI          string       `json:"archiveUri,omitempty"`
	HTMLSizeKB          float64      `json:"htmlSizeKb,omitempty"`
	Error               string       `json:"error,omitempty"`
	Nodes               []NodeStatus `json:"nodes"`
	StartedAt           time.Time    `json:"startedAt"`
	FinishedAt          time.Time    `json:"finishedAt"`
}

// Summary flattens the counters for run records.
func (r WeeklyResult) Summary() map[string]any {
	return map[string]any{
		"weekStart":           r.WeekStart,
		"totalArticles":       r.TotalArticles,
		"highImportanceCount": r.HighImportanceCount,
		"articlesIncluded":    r.ArticlesIncluded,
		"emailsSent":          r.EmailsSent,
		"emailsFailed":        r.EmailsFailed,
		"emailSkipped":        r.EmailSkipped,
		"digestModel":         r.DigestModel,
	}
}

type weeklyState struct {
	topic      topic.Topic
	scope      progress.Scope
	weekStart  time.Time
	since      time.Time
	articles   []topic.Article
	curated    []topic.Article
	high       int
	digest     digest.Digest
	sent       int
	failed     int
	skipped    bool
	archiveURI string
}

// Weekly runs the weekly digest: gather the week's articles, write the
// brief, deliver it and archive it.
type Weekly struct {
	deps   WeeklyDependencies
	engine *Engine[weeklyState]
	logger *zap.Logger
}

// NewWeekly builds the weekly digest workflow.
func NewWeekly(deps WeeklyDependencies) (*Weekly, error) {
	if deps.Articles == nil || deps.Writer == nil {
		return nil, errors.New("workflow: weekly digest needs an article store and a writer")
	}
	if deps.TopStories <= 0 {
		deps.TopStories = defaultTopStories
	}
	if deps.HighImportance <= 0 {
		deps.HighImportance = defaultHighImportance
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	w := &Weekly{deps: deps, logger: deps.Logger.Named("weekly")}
	w.engine = NewEngine("weekly_digest", []Step[weeklyState]{
		{ID: NodeWeeklyInit, Name: "Initialize Session", Run: w.initialize},
		{ID: NodeWeekWindow, Name: "Resolve Week", Run: w.resolveWeek},
		{ID: NodeFetchArticles, Name: "Fetch 7-Day Articles", Run: w.fetchArticles},
		{ID: NodeCurate, Name: "Curate Top Stories", Run: w.curate},
		{ID: NodeWriter, Name: "News Writer", Run: w.write},
		{ID: NodeValidate, Name: "Validate HTML", Run: w.validate},
		{ID: NodeSend, Name: "Send Email", Run: w.send},
		{ID: NodeArchive, Name: "Archive Digest", Run: w.archive},
		{ID: NodeReport, Name: "Generate Report", Run: w.report},
	}, deps.Now, deps.Logger)
	return w, nil
}

// Nodes lists the pending node records of a fresh weekly run.
func (w *Weekly) Nodes() []NodeStatus {
	return w.engine.Steps()
}

// Run produces t's digest once. Failures are reported in the result, never
// returned; workflow_completed is emitted on success and error_occurred on
// failure.
func (w *Weekly) Run(ctx context.Context, scope progress.Scope, t topic.Topic) WeeklyResult {
	state := &weeklyState{topic: t, scope: scope}
	report := w.engine.Execute(ctx, scope, state)

	res := WeeklyResult{
		Success:             report.Success,
		RunID:               scope.RunID(),
		TopicID:             t.ID,
		TotalArticles:       len(state.articles),
		HighImportanceCount: state.high,
		ArticlesIncluded:    len(state.curated),
		EmailSubject:        state.digest.Subject,
		EmailsSent:          state.sent,
		EmailsFailed:        state.failed,
		EmailSkipped:        state.skipped,
		DigestModel:         state.digest.Model,
		ArchiveURI:          state.archiveURI,
		HTMLSizeKB:          state.digest.SizeKB,
		Error:               report.Error,
		Nodes:               report.Nodes,
		StartedAt:           report.StartedAt,
		FinishedAt:          report.FinishedAt,
	}
	if !state.weekStart.IsZero() {
		res.WeekStart = state.weekStart.Format(time.DateOnly)
	}
	if state.digest.ArticlesIncluded > 0 {
		res.ArticlesIncluded = state.digest.ArticlesIncluded
	}
	if !report.Success {
		scope.Emit(progress.EventError, progress.ErrorNotice{
			Message: "Weekly digest failed: " + report.Error,
			NodeID:  report.FailedNode,
			Cadence: string(topic.CadenceWeekly),
		})
		return res
	}
	scope.Emit(progress.EventWorkflowCompleted, res)
	return res
}

func (w *Weekly) initialize(_ context.Context, s *weeklyState) (map[string]any, error) {
	if s.topic.ID == "" {
		return nil, errors.New("topic id is required")
	}
	return map[string]any{
		"runId":      s.scope.RunID(),
		"topicId":    s.topic.ID,
		"recipients": len(s.topic.Schedule.Weekly.Recipients),
	}, nil
}

// resolveWeek fixes the reporting week: Monday 00:00 in the topic's zone,
// and the trailing seven days of articles.
func (w *Weekly) resolveWeek(_ context.Context, s *weeklyState) (map[string]any, error) {
	loc, err := schedule.LoadLocation(s.topic.Schedule.Weekly.Timezone)
	if err != nil {
		return nil, err
	}
	now := w.deps.Now()
	s.weekStart = schedule.WeekStart(now, loc)
	s.since = now.Add(-digestLookback)
	return map[string]any{
		"weekStart": s.weekStart.Format(time.DateOnly),
		"since":     s.since.Format(time.RFC3339),
		"timezone":  loc.String(),
	}, nil
}

func (w *Weekly) fetchArticles(ctx context.Context, s *weeklyState) (map[string]any, error) {
	articles, err := w.deps.Articles.GetArticles(ctx, s.topic.ID, s.since)
	if err != nil {
		return nil, fmt.Errorf("get articles: %w", err)
	}
	s.articles = articles
	for _, a := range articles {
		if a.Scores.Importance >= w.deps.HighImportance {
			s.high++
		}
	}
	return map[string]any{"articles": len(articles), "highImportance": s.high}, nil
}

// curate keeps the top stories by importance, newest first on ties.
func (w *Weekly) curate(_ context.Context, s *weeklyState) (map[string]any, error) {
	ranked := slices.Clone(s.articles)
	slices.SortStableFunc(ranked, func(a, b topic.Article) int {
		return cmp.Or(
			cmp.Compare(b.Scores.Importance, a.Scores.Importance),
			b.ScrapedAt.Compare(a.ScrapedAt),
		)
	})
	s.curated = ranked[:min(len(ranked), w.deps.TopStories)]
	return map[string]any{"curated": len(s.curated)}, nil
}

func (w *Weekly) write(ctx context.Context, s *weeklyState) (map[string]any, error) {
	d, err := w.deps.Writer.Write(ctx, digest.Input{
		TopicID:             s.topic.ID,
		TopicName:           s.topic.Name,
		Articles:            s.curated,
		WeekStart:           s.weekStart,
		TotalArticles:       len(s.articles),
		HighImportanceCount: s.high,
		DashboardURL:        w.deps.DashboardURL,
	})
	if err != nil {
		return nil, fmt.Errorf("write digest: %w", err)
	}
	s.digest = d
	return map[string]any{
		"subject":          d.Subject,
		"articlesIncluded": d.ArticlesIncluded,
		"model":            d.Model,
		"htmlSizeKb":       d.SizeKB,
	}, nil
}

// validate reports HTML issues as metrics. Only a missing document fails.
func (w *Weekly) validate(_ context.Context, s *weeklyState) (map[string]any, error) {
	if strings.TrimSpace(s.digest.HTML) == "" {
		return nil, errors.New("no HTML content generated")
	}
	v := digest.Validate(s.digest.HTML)
	if !v.Valid {
		w.logger.Warn("digest html has issues",
			zap.String("topic_id", s.topic.ID),
			zap.Strings("issues", v.Issues))
	}
	return map[string]any{"valid": v.Valid, "issues": v.Issues, "sizeKb": v.SizeKB}, nil
}

func (w *Weekly) send(ctx context.Context, s *weeklyState) (map[string]any, error) {
	recipients := s.topic.Schedule.Weekly.Recipients
	skipped := map[string]any{"sent": 0, "failed": 0, "skipped": true}
	if w.deps.Sender == nil || !w.deps.Sender.Available() {
		s.skipped = true
		return skipped, Skip("email sender not configured")
	}
	if len(recipients) == 0 {
		s.skipped = true
		return skipped, Skip("no recipients")
	}
	deliveries, err := w.deps.Sender.Send(ctx, recipients, s.digest.Subject, s.digest.HTML)
	if err != nil {
		return nil, fmt.Errorf("send digest: %w", err)
	}
	s.sent, s.failed = email.Tally(deliveries)
	return map[string]any{"sent": s.sent, "failed": s.failed, "skipped": false}, nil
}

// archive stores the digest HTML. Archive errors are recorded, not fatal.
func (w *Weekly) archive(ctx context.Context, s *weeklyState) (map[string]any, error) {
	if w.deps.Archive == nil {
		return map[string]any{"archived": false}, Skip("no archive configured")
	}
	path := ArchivePath(s.topic.ID, s.weekStart)
	uri, err := w.deps.Archive.PutObject(ctx, path, "text/html; charset=utf-8", strings.NewReader(s.digest.HTML))
	if err != nil {
		w.logger.Warn("archive digest failed",
			zap.String("topic_id", s.topic.ID),
			zap.String("path", path),
			zap.Error(err))
		return map[string]any{"archived": false, "error": err.Error()}, nil
	}
	s.archiveURI = uri
	return map[string]any{"archived": true, "uri": uri}, nil
}

func (w *Weekly) report(_ context.Context, s *weeklyState) (map[string]any, error) {
	w.logger.Info("weekly digest report",
		zap.String("topic_id", s.topic.ID),
		zap.String("run_id", s.scope.RunID()),
		zap.Int("total_articles", len(s.articles)),
		zap.Int("included", len(s.curated)),
		zap.Int("emails_sent", s.sent),
		zap.Int("emails_failed", s.failed),
		zap.Bool("email_skipped", s.skipped),
		zap.String("model", s.digest.Model))
	return map[string]any{
		"totalArticles":       len(s.articles),
		"highImportanceCount": s.high,
		"articlesIncluded":    len(s.curated),
		"emailsSent":          s.sent,
		"emailsFailed":        s.failed,
		"htmlSizeKb":          s.digest.SizeKB,
	}, nil
}

// ArchivePath is where a topic's digest for the week starting weekStart is stored.
func ArchivePath(topicID string, weekStart time.Time) string {
	return fmt.Sprintf("digests/%s/%s.html", topicID, weekStart.Format(time.DateOnly))
}
