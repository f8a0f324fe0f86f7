// Package digest writes the weekly HTML brief for a topic. The model drafts
// the document; when it is unavailable or returns something unusable a
// static template renders the same articles.
package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/model"
	"github.com/JakeFAU/topicwatch/internal/topic"
)

// FallbackModel names digests rendered from the static template.
const FallbackModel = "fallback-template"

// MaxHTMLBytes is the largest digest considered valid.
const MaxHTMLBytes = 100 * 1024

// Input is what the digest covers.
type Input struct {
	TopicID   string
	TopicName string
	// Articles are expected in importance order.
	Articles            []topic.Article
	WeekStart           time.Time
	TotalArticles       int
	HighImportanceCount int
	DashboardURL        string
}

// Digest is a rendered brief.
type Digest struct {
	Subject          string      `json:"subject"`
	PreviewText      string      `json:"previewText"`
	HTML             string      `json:"-"`
	PlainText        string      `json:"-"`
	ArticlesIncluded int         `json:"articlesIncluded"`
	Model            string      `json:"model"`
	Usage            model.Usage `json:"usage"`
	GeneratedAt      time.Time   `json:"generatedAt"`
	SizeKB           float64     `json:"sizeKb"`
}

// Fallback reports whether the static template produced d.
func (d Digest) Fallback() bool {
	return d.Model == FallbackModel
}

// Config tunes the writer.
type Config struct {
	Temperature     float64
	MaxOutputTokens int
	// TopStories caps the articles handed to the model or template.
	TopStories int
	Brand      string
}

// Writer drafts digests.
type Writer struct {
	caller model.Caller
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

type availability interface {
	Available() bool
}

// NewWriter creates a Writer. A nil caller always renders the template.
func NewWriter(caller model.Caller, cfg Config, logger *zap.Logger) *Writer {
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 3000
	}
	if cfg.TopStories <= 0 {
		cfg.TopStories = 15
	}
	if cfg.Brand == "" {
		cfg.Brand = "Topicwatch"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		caller: caller,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Named("digest"),
	}
}

// WithClock overrides the generation timestamp source.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

// Write drafts the digest with the model and falls back to the template on
// any model failure. It errors only when the template itself cannot render.
func (w *Writer) Write(ctx context.Context, in Input) (Digest, error) {
	if len(in.Articles) > w.cfg.TopStories {
		in.Articles = in.Articles[:w.cfg.TopStories]
	}
	d, err := w.draft(ctx, in)
	if err != nil {
		if !errors.Is(err, model.ErrUnavailable) {
			w.logger.Warn("digest model failed, rendering template",
				zap.String("topic_id", in.TopicID),
				zap.Error(err))
		}
		if d, err = w.fallback(in); err != nil {
			return Digest{}, err
		}
	}
	d.ArticlesIncluded = len(in.Articles)
	d.PlainText = PlainText(in, w.cfg.Brand)
	d.GeneratedAt = w.now()
	d.SizeKB = sizeKB(d.HTML)
	return d, nil
}

type draftReply struct {
	Subject     string `json:"subject"`
	PreviewText string `json:"preview_text"`
	HTML        string `json:"html"`
}

func (w *Writer) draft(ctx context.Context, in Input) (Digest, error) {
	if w.caller == nil {
		return Digest{}, model.ErrUnavailable
	}
	if av, ok := w.caller.(availability); ok && !av.Available() {
		return Digest{}, model.ErrUnavailable
	}
	resp, err := w.caller.Call(ctx, w.prompt(in), model.Options{
		Temperature:     w.cfg.Temperature,
		MaxOutputTokens: w.cfg.MaxOutputTokens,
	})
	if err != nil {
		return Digest{}, err
	}
	var reply draftReply
	if err := json.Unmarshal([]byte(model.ExtractJSON(resp.Text)), &reply); err != nil {
		return Digest{}, fmt.Errorf("parse digest reply: %w", err)
	}
	if strings.TrimSpace(reply.HTML) == "" {
		return Digest{}, errors.New("digest reply has no html")
	}
	name := resp.Model
	if name == "" {
		name = w.caller.Name()
	}
	d := Digest{
		Subject:     strings.TrimSpace(reply.Subject),
		PreviewText: strings.TrimSpace(reply.PreviewText),
		HTML:        EnsureDocument(reply.HTML),
		Model:       name,
		Usage:       resp.Usage,
	}
	if d.Subject == "" {
		d.Subject = Subject(in.TopicName, in.WeekStart)
	}
	if d.PreviewText == "" {
		d.PreviewText = previewText(in)
	}
	return d, nil
}

func (w *Writer) prompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the weekly %q brief for the week of %s as a complete HTML email (DOCTYPE to </html>, inline styles, under 100KB).\n",
		in.TopicName, FormatWeek(in.WeekStart))
	fmt.Fprintf(&b, "This week: %d articles found, %d of high importance. Lead with the top 3 stories, then list the rest.\n",
		in.TotalArticles, in.HighImportanceCount)
	if in.DashboardURL != "" {
		fmt.Fprintf(&b, "End with a link to %s.\n", in.DashboardURL)
	}
	b.WriteString("\nArticles:\n")
	for i, art := range in.Articles {
		fmt.Fprintf(&b, "\n[%d] %s\n- Source: %s\n- URL: %s\n- Importance: %d/100\n- Summary: %s\n",
			i+1, art.Title, art.SourceName, art.URL, art.Scores.Importance, art.Summary)
		if len(art.Insights) > 0 {
			fmt.Fprintf(&b, "- Insights: %s\n", strings.Join(art.Insights, "; "))
		}
		if len(art.Tags) > 0 {
			fmt.Fprintf(&b, "- Tags: %s\n", strings.Join(art.Tags, " "))
		}
	}
	b.WriteString(`
Respond with a JSON object only: {"subject":"...","preview_text":"...","html":"<!DOCTYPE html>..."}`)
	return b.String()
}

// Subject is the default subject line.
func Subject(topicName string, weekStart time.Time) string {
	return fmt.Sprintf("%s Weekly Brief: %s", topicName, FormatWeek(weekStart))
}

// FormatWeek renders a week start date for display.
func FormatWeek(t time.Time) string {
	return t.Format("Jan 2, 2006")
}

func previewText(in Input) string {
	return fmt.Sprintf("This week in %s: %d articles found, %d of high importance",
		in.TopicName, in.TotalArticles, in.HighImportanceCount)
}

func sizeKB(html string) float64 {
	kb := float64(len(html)) / 1024
	return float64(int(kb*100+0.5)) / 100
}
