// Package analysis scores scraped items for a topic. Items are sent to the
// model in batches; a batch whose call or parse fails is scored by the
// keyword heuristic instead, so analysis never fails a run on its own.
package analysis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/model"
	"github.com/JakeFAU/topicwatch/internal/progress"
	"github.com/JakeFAU/topicwatch/internal/topic"
)

// FallbackModel is recorded as the analysis model of heuristic-scored articles.
const FallbackModel = "keyword-heuristic"

// Config tunes batching and filtering.
type Config struct {
	BatchSize       int
	MinImportance   int
	HighImportance  int
	MaxArticles     int
	Temperature     float64
	MaxOutputTokens int
	// ExcerptChars bounds how much of each excerpt goes into the prompt.
	ExcerptChars int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:       10,
		MinImportance:   60,
		HighImportance:  80,
		MaxArticles:     50,
		Temperature:     0.4,
		MaxOutputTokens: 1500,
		ExcerptChars:    500,
	}
}

// Input is one analysis request.
type Input struct {
	TopicID   string
	TopicName string
	Keywords  []string
	Items     []topic.Item
	// Authority maps source ids to their 0-100 credibility hint.
	Authority map[string]int
}

// Output is the ranked result.
type Output struct {
	Articles            []topic.Article
	TotalAnalyzed       int
	HighImportanceCount int
	// Model names the model, FallbackModel, or both when batches were mixed.
	Model        string
	UsedFallback bool
	Usage        model.Usage
}

type availability interface {
	Available() bool
}

// Analyst scores items with a model and the keyword fallback.
type Analyst struct {
	caller model.Caller
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// New creates an Analyst. A nil caller scores everything with the fallback.
func New(caller model.Caller, cfg Config, logger *zap.Logger) *Analyst {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MinImportance <= 0 {
		cfg.MinImportance = def.MinImportance
	}
	if cfg.HighImportance <= 0 {
		cfg.HighImportance = def.HighImportance
	}
	if cfg.MaxArticles <= 0 {
		cfg.MaxArticles = def.MaxArticles
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = def.MaxOutputTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = def.ExcerptChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyst{
		caller: caller,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Named("analysis"),
	}
}

// WithClock overrides the analysis timestamp source.
func (a *Analyst) WithClock(now func() time.Time) *Analyst {
	a.now = now
	return a
}

// Available reports whether a model will be tried before the fallback.
func (a *Analyst) Available() bool {
	if a.caller == nil {
		return false
	}
	if av, ok := a.caller.(availability); ok {
		return av.Available()
	}
	return true
}

// Analyze scores in.Items and emits article_analyzed for each kept article.
// Model-scored articles below MinImportance are dropped; fallback-scored
// articles are always kept. The result is sorted by importance and capped
// at MaxArticles.
func (a *Analyst) Analyze(ctx context.Context, scope progress.Scope, in Input) (Output, error) {
	out := Output{TotalAnalyzed: len(in.Items), Articles: []topic.Article{}}
	var modeled, fellBack bool

	for start := 0; start < len(in.Items); start += a.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("analyze: %w", err)
		}
		batch := in.Items[start:min(start+a.cfg.BatchSize, len(in.Items))]

		articles, usage, err := a.modelBatch(ctx, in, batch)
		if err != nil {
			if !errors.Is(err, model.ErrUnavailable) {
				a.logger.Warn("model analysis failed, using keyword heuristic",
					zap.String("topic_id", in.TopicID),
					zap.Int("batch_start", start),
					zap.Error(err))
			}
			articles = a.fallbackBatch(in, batch)
			fellBack = true
		} else {
			modeled = true
			out.Usage.PromptTokens += usage.PromptTokens
			out.Usage.CompletionTokens += usage.CompletionTokens
			out.Usage.TotalTokens += usage.TotalTokens
		}
		for _, art := range articles {
			scope.Emit(progress.EventArticleAnalyzed, art)
		}
		out.Articles = append(out.Articles, articles...)
	}

	slices.SortStableFunc(out.Articles, func(x, y topic.Article) int {
		return cmp.Compare(y.Scores.Importance, x.Scores.Importance)
	})
	if len(out.Articles) > a.cfg.MaxArticles {
		out.Articles = out.Articles[:a.cfg.MaxArticles]
	}
	for _, art := range out.Articles {
		if art.Scores.Importance >= a.cfg.HighImportance {
			out.HighImportanceCount++
		}
	}

	out.UsedFallback = fellBack
	switch {
	case modeled && fellBack:
		out.Model = a.caller.Name() + "+" + FallbackModel
	case modeled:
		out.Model = a.caller.Name()
	default:
		out.Model = FallbackModel
	}
	return out, nil
}

func (a *Analyst) modelBatch(ctx context.Context, in Input, batch []topic.Item) ([]topic.Article, model.Usage, error) {
	if !a.Available() {
		return nil, model.Usage{}, model.ErrUnavailable
	}
	resp, err := a.caller.Call(ctx, a.prompt(in, batch), model.Options{
		Temperature:     a.cfg.Temperature,
		MaxOutputTokens: a.cfg.MaxOutputTokens,
	})
	if err != nil {
		return nil, model.Usage{}, err
	}
	scored, err := parseScores(resp.Text)
	if err != nil {
		return nil, resp.Usage, err
	}

	byID := make(map[string]topic.Item, len(batch))
	for _, item := range batch {
		byID[item.ID] = item
	}
	name := resp.Model
	if name == "" {
		name = a.caller.Name()
	}
	analyzedAt := a.now()
	articles := make([]topic.Article, 0, len(scored))
	for i, s := range scored {
		item, ok := byID[s.ArticleID]
		if !ok {
			if s.ArticleID != "" || i >= len(batch) {
				continue
			}
			item = batch[i]
		}
		delete(byID, item.ID)
		art := s.article(item, in.TopicID)
		art.AnalysisModel = name
		art.AnalyzedAt = analyzedAt
		if art.Scores.Importance < a.cfg.MinImportance {
			continue
		}
		articles = append(articles, art)
	}
	return articles, resp.Usage, nil
}

func (a *Analyst) prompt(in Input, batch []topic.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You analyse news for professionals following %q.\n", in.TopicName)
	if len(in.Keywords) > 0 {
		fmt.Fprintf(&b, "Topic keywords: %s.\n", strings.Join(in.Keywords, ", "))
	}
	b.WriteString(`Score every article from 0 to 100 on relevancy, impact, novelty, credibility and urgency.
importance = relevancy*0.25 + impact*0.25 + novelty*0.2 + credibility*0.15 + urgency*0.15.
`)
	fmt.Fprintf(&b, "Only return articles with importance >= %d.\n\nArticles:\n", a.cfg.MinImportance)
	for i, item := range batch {
		published := "unknown"
		if item.PublishedAt != nil {
			published = item.PublishedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "\n### Article %d\n- ID: %s\n- Title: %s\n- Source: %s\n- URL: %s\n- Published: %s\n",
			i+1, item.ID, item.Title, item.SourceName, item.URL, published)
		if auth := in.Authority[item.SourceID]; auth > 0 {
			fmt.Fprintf(&b, "- Source authority: %d\n", auth)
		}
		fmt.Fprintf(&b, "- Content: %s\n", truncate(item.Excerpt, a.cfg.ExcerptChars))
	}
	b.WriteString(`
Respond with a JSON array only, one object per article:
[{"article_id":"...","summary":"100-200 words","relevancy":0,"impact":0,"novelty":0,"credibility":0,"urgency":0,` +
		`"importance":0,"key_insights":["..."],"action_items":["..."],"tags":["#tag"]}]`)
	return b.String()
}

// scoredArticle is one element of the model's JSON array.
type scoredArticle struct {
	ArticleID   string          `json:"article_id"`
	Summary     string          `json:"summary"`
	Relevancy   json.RawMessage `json:"relevancy"`
	Impact      json.RawMessage `json:"impact"`
	Novelty     json.RawMessage `json:"novelty"`
	Credibility json.RawMessage `json:"credibility"`
	Urgency     json.RawMessage `json:"urgency"`
	Importance  json.RawMessage `json:"importance"`
	Insights    []any           `json:"key_insights"`
	Actions     []any           `json:"action_items"`
	Tags        []any           `json:"tags"`
}

func parseScores(text string) ([]scoredArticle, error) {
	var out []scoredArticle
	if err := json.Unmarshal([]byte(model.ExtractJSON(text)), &out); err != nil {
		return nil, fmt.Errorf("parse analysis response: %w", err)
	}
	return out, nil
}

func (s scoredArticle) article(item topic.Item, topicID string) topic.Article {
	scores := topic.Scores{
		Relevancy:   normaliseScore(s.Relevancy),
		Impact:      normaliseScore(s.Impact),
		Novelty:     normaliseScore(s.Novelty),
		Credibility: normaliseScore(s.Credibility),
		Urgency:     normaliseScore(s.Urgency),
	}
	if len(s.Importance) > 0 && string(s.Importance) != "null" {
		scores.Importance = normaliseScore(s.Importance)
	} else {
		scores.Importance = WeightedImportance(scores)
	}
	art := topic.Article{
		Item:     item,
		TopicID:  topicID,
		Scores:   scores,
		Summary:  truncate(strings.TrimSpace(s.Summary), 500),
		Insights: stringList(s.Insights, 5),
		Actions:  stringList(s.Actions, 5),
	}
	if tags := hashTags(stringList(s.Tags, 10)); len(tags) > 0 {
		art.Tags = tags
	}
	return art
}

// WeightedImportance combines the five dimensions into an importance score.
func WeightedImportance(s topic.Scores) int {
	return clamp(0, 100, round(
		float64(s.Relevancy)*0.25+
			float64(s.Impact)*0.25+
			float64(s.Novelty)*0.2+
			float64(s.Credibility)*0.15+
			float64(s.Urgency)*0.15))
}

func stringList(values []any, limit int) []string {
	out := make([]string, 0, min(len(values), limit))
	for _, v := range values {
		if len(out) == limit {
			break
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if v == nil || s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func hashTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, "#") {
			t = "#" + t
		}
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
