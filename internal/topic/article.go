package topic

import "time"

// Item is one normalised piece of content produced by a source fetch.
type Item struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"sourceId"`
	SourceName  string     `json:"sourceName"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Excerpt     string     `json:"excerpt"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	Author      string     `json:"author,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	ContentHash string     `json:"contentHash"`
	ScrapedAt   time.Time  `json:"scrapedAt"`
}

// Scores holds the 0-100 dimensions assigned during analysis.
type Scores struct {
	Relevancy   int `json:"relevancy"`
	Impact      int `json:"impact"`
	Novelty     int `json:"novelty"`
	Credibility int `json:"credibility"`
	Urgency     int `json:"urgency"`
	Importance  int `json:"importance"`
}

// Article is an analysed Item.
type Article struct {
	Item
	TopicID       string    `json:"topicId"`
	Scores        Scores    `json:"scores"`
	Summary       string    `json:"summary"`
	Insights      []string  `json:"insights,omitempty"`
	Actions       []string  `json:"actions,omitempty"`
	AnalysisModel string    `json:"analysisModel"`
	AnalyzedAt    time.Time `json:"analyzedAt"`
}
