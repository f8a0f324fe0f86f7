package topic

import (
	"slices"
	"time"
)

// Status is a topic's lifecycle state.
type Status string

// Lifecycle states.
const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// Cadence is a recurring schedule kind.
type Cadence string

// Supported cadences.
const (
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// Cadences lists every cadence in arming order.
var Cadences = []Cadence{CadenceDaily, CadenceWeekly}

// Valid reports whether c is a known cadence.
func (c Cadence) Valid() bool {
	return c == CadenceDaily || c == CadenceWeekly
}

// Source is one external content origin watched for a topic.
type Source struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
	// AltURLs are tried in order when URL yields nothing.
	AltURLs []string `json:"altUrls,omitempty" yaml:"alt_urls,omitempty"`
	// Kind hints the parsing strategy ("feed", "page"); empty means detect.
	Kind string   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	// Authority is a 0-100 credibility hint forwarded to analysis.
	Authority int `json:"authority,omitempty" yaml:"authority,omitempty"`
	Priority  int `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// DailyConfig schedules the daily scan.
type DailyConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Time     string `json:"time" yaml:"time"`
	Timezone string `json:"timezone" yaml:"timezone"`
}

// WeeklyConfig schedules the weekly digest.
type WeeklyConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	Day        string   `json:"day" yaml:"day"`
	Time       string   `json:"time" yaml:"time"`
	Timezone   string   `json:"timezone" yaml:"timezone"`
	Recipients []string `json:"recipients" yaml:"recipients"`
}

// Schedule groups both cadences.
type Schedule struct {
	Daily  DailyConfig  `json:"daily" yaml:"daily"`
	Weekly WeeklyConfig `json:"weekly" yaml:"weekly"`
}

// Enabled reports whether the cadence is switched on.
func (s Schedule) Enabled(c Cadence) bool {
	switch c {
	case CadenceDaily:
		return s.Daily.Enabled
	case CadenceWeekly:
		return s.Weekly.Enabled
	default:
		return false
	}
}

// RunTimes records the last completed and next armed run of one cadence.
type RunTimes struct {
	Last *time.Time `json:"last,omitempty"`
	Next *time.Time `json:"next,omitempty"`
}

// Topic is a named, independently scheduled monitoring subject.
type Topic struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Keywords  []string  `json:"keywords"`
	Sources   []Source  `json:"sources"`
	Schedule  Schedule  `json:"schedule"`
	Daily     RunTimes  `json:"dailyRuns"`
	Weekly    RunTimes  `json:"weeklyRuns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Runs returns the run times tracked for c.
func (t *Topic) Runs(c Cadence) *RunTimes {
	if c == CadenceWeekly {
		return &t.Weekly
	}
	return &t.Daily
}

// Clone returns a deep copy of t.
func (t Topic) Clone() Topic {
	out := t
	out.Keywords = slices.Clone(t.Keywords)
	out.Sources = make([]Source, len(t.Sources))
	for i, src := range t.Sources {
		src.AltURLs = slices.Clone(src.AltURLs)
		src.Tags = slices.Clone(src.Tags)
		out.Sources[i] = src
	}
	out.Schedule.Weekly.Recipients = slices.Clone(t.Schedule.Weekly.Recipients)
	out.Daily = cloneRunTimes(t.Daily)
	out.Weekly = cloneRunTimes(t.Weekly)
	return out
}

func cloneRunTimes(r RunTimes) RunTimes {
	var out RunTimes
	if r.Last != nil {
		last := *r.Last
		out.Last = &last
	}
	if r.Next != nil {
		next := *r.Next
		out.Next = &next
	}
	return out
}
