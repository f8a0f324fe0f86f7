package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/JakeFAU/topicwatch/internal/topic"
)

var urgencyWords = []string{
	"breaking", "urgent", "important", "critical", "major",
	"significant", "new", "update", "change", "announce",
}

var sentenceBreak = regexp.MustCompile(`[.!?]+`)

// KeywordScore is the heuristic assessment of one item.
type KeywordScore struct {
	Scores   topic.Scores
	Matched  []string
	Mentions int
	Summary  string
	Insights []string
	Actions  []string
}

// ScoreKeywords rates an item by keyword density and urgency vocabulary.
// It is deterministic and needs no collaborator.
func ScoreKeywords(item topic.Item, topicName string, keywords []string, authority int) KeywordScore {
	text := strings.ToLower(item.Title + " " + item.Excerpt)

	var (
		matched  []string
		mentions int
		seen     = make(map[string]struct{})
	)
	for _, kw := range append(append([]string(nil), keywords...), topicName) {
		needle := strings.ToLower(strings.TrimSpace(kw))
		if needle == "" {
			continue
		}
		if _, dup := seen[needle]; dup {
			continue
		}
		seen[needle] = struct{}{}
		if n := strings.Count(text, needle); n > 0 {
			mentions += n
			matched = append(matched, strings.TrimSpace(kw))
		}
	}

	words := max(len(strings.Fields(text)), 1)
	density := float64(mentions) / float64(words) * 100
	relevancy := clamp(20, 95, round(density*50+float64(len(matched))*15))

	urgency := 0
	for _, w := range urgencyWords {
		if strings.Contains(text, w) {
			urgency++
		}
	}
	impact := clamp(30, 90, 40+urgency*8+mentions*3)

	credibility := 50
	if authority > 0 {
		credibility = clamp(0, 100, authority)
	}
	ks := KeywordScore{
		Scores: topic.Scores{
			Relevancy:   relevancy,
			Impact:      impact,
			Novelty:     50,
			Credibility: credibility,
			Urgency:     clamp(0, 100, urgency*20),
			Importance:  round(0.4*float64(relevancy) + 0.6*float64(impact)),
		},
		Matched:  matched,
		Mentions: mentions,
		Summary:  summarise(item.Excerpt, topicName),
	}
	if len(matched) > 0 {
		ks.Insights = []string{
			"Covers topics: " + strings.Join(matched[:min(3, len(matched))], ", "),
			fmt.Sprintf("%d keyword mentions found", mentions),
		}
	} else {
		ks.Insights = []string{"General industry coverage"}
	}
	if ks.Scores.Importance >= 70 {
		ks.Actions = []string{"Review for relevant updates"}
	}
	return ks
}

func summarise(content, topicName string) string {
	var sentences []string
	for _, s := range sentenceBreak.Split(content, -1) {
		if s = strings.TrimSpace(s); len(s) > 20 {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return "Article about " + topicName
	}
	summary := truncate(strings.Join(sentences[:min(2, len(sentences))], ". "), 300)
	if len(sentences) > 2 {
		return summary + "..."
	}
	return summary + "."
}

func (a *Analyst) fallbackBatch(in Input, batch []topic.Item) []topic.Article {
	analyzedAt := a.now()
	out := make([]topic.Article, 0, len(batch))
	for _, item := range batch {
		ks := ScoreKeywords(item, in.TopicName, in.Keywords, in.Authority[item.SourceID])
		art := topic.Article{
			Item:          item,
			TopicID:       in.TopicID,
			Scores:        ks.Scores,
			Summary:       ks.Summary,
			Insights:      ks.Insights,
			Actions:       ks.Actions,
			AnalysisModel: FallbackModel,
			AnalyzedAt:    analyzedAt,
		}
		tags := slices.Clone(ks.Matched[:min(3, len(ks.Matched))])
		tags = append(tags, in.TopicName)
		art.Tags = hashTags(append(tags, item.Tags...))
		out = append(out, art)
	}
	return out
}

// normaliseScore reads a JSON number or numeric string and clamps it to
// 0-100. Anything else scores 50.
func normaliseScore(raw json.RawMessage) int {
	if len(raw) == 0 || string(raw) == "null" {
		return 50
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 50
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return 50
		}
	}
	if math.IsNaN(f) {
		return 50
	}
	return clamp(0, 100, round(f))
}

func round(f float64) int {
	return int(math.Round(f))
}

func clamp(lo, hi, v int) int {
	return max(lo, min(hi, v))
}
