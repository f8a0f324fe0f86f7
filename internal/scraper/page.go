package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	containerSelector = `article, .post, .article, .blog-post, .entry, [itemtype*="Article"], .card, .news-item`
	titleSelector     = "h1, h2, h3, .title, .headline"
	excerptSelector   = "p, .excerpt, .summary, .description"
	dateSelector      = "time, .date, .published, [datetime]"
	authorSelector    = ".author, .byline"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

func parsePage(body []byte, pageURL string, maxItems int) ([]entry, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: page url %q", ErrMalformed, pageURL)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrMalformed, err)
	}

	var out []entry
	seen := make(map[string]struct{})
	doc.Find(containerSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(out) >= maxItems {
			return false
		}
		e, ok := extractEntry(sel, base)
		if !ok {
			return true
		}
		key := strings.ToLower(e.Title)
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		out = append(out, e)
		return true
	})
	return out, nil
}

func extractEntry(sel *goquery.Selection, base *url.URL) (entry, bool) {
	title := collapseSpace(sel.Find(titleSelector).First().Text())
	if title == "" {
		title = collapseSpace(sel.Find("a").First().Text())
	}
	if title == "" {
		return entry{}, false
	}

	href, ok := sel.Find("a[href]").First().Attr("href")
	if !ok {
		if href, ok = sel.Attr("href"); !ok {
			return entry{}, false
		}
	}
	link, err := base.Parse(strings.TrimSpace(href))
	if err != nil || (link.Scheme != "http" && link.Scheme != "https") {
		return entry{}, false
	}

	e := entry{
		Title:   title,
		Link:    link.String(),
		Excerpt: truncate(collapseSpace(sel.Find(excerptSelector).First().Text()), maxExcerptRunes),
		Author:  collapseSpace(sel.Find(authorSelector).First().Text()),
	}
	if dateSel := sel.Find(dateSelector).First(); dateSel.Length() > 0 {
		raw, ok := dateSel.Attr("datetime")
		if !ok {
			raw = dateSel.Text()
		}
		e.PublishedAt = parseDate(raw)
	}
	return e, true
}

func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}
