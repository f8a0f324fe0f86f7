package scraper

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const maxExcerptRunes = 1000

// entry is a raw extracted record before it becomes a topic.Item.
type entry struct {
	Title       string
	Link        string
	Excerpt     string
	Author      string
	Tags        []string
	PublishedAt *time.Time
}

// errNotFeed reports a body that parsed as neither RSS, Atom nor JSON Feed.
var errNotFeed = errors.New("not a feed")

func parseFeed(body []byte, maxItems int) ([]entry, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
			return nil, errNotFeed
		}
		return nil, fmt.Errorf("%w: parse feed: %v", ErrMalformed, err)
	}
	out := make([]entry, 0, min(len(feed.Items), maxItems))
	for _, item := range feed.Items {
		if len(out) >= maxItems {
			break
		}
		if item == nil {
			continue
		}
		e := normalizeItem(item)
		if e.Title == "" || e.Link == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func normalizeItem(item *gofeed.Item) entry {
	link := strings.TrimSpace(item.Link)
	if link == "" && strings.HasPrefix(item.GUID, "http") {
		link = strings.TrimSpace(item.GUID)
	}
	excerpt := item.Description
	if excerpt == "" {
		excerpt = item.Content
	}
	e := entry{
		Title:   strings.TrimSpace(item.Title),
		Link:    link,
		Excerpt: truncate(stripTags(excerpt), maxExcerptRunes),
		Tags:    item.Categories,
	}
	if item.Author != nil {
		e.Author = strings.TrimSpace(item.Author.Name)
	} else if len(item.Authors) > 0 && item.Authors[0] != nil {
		e.Author = strings.TrimSpace(item.Authors[0].Name)
	}
	switch {
	case item.PublishedParsed != nil:
		ts := item.PublishedParsed.UTC()
		e.PublishedAt = &ts
	case item.UpdatedParsed != nil:
		ts := item.UpdatedParsed.UTC()
		e.PublishedAt = &ts
	}
	return e
}

// stripTags flattens an HTML fragment to its text.
func stripTags(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return collapseSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseSpace(fragment)
	}
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
