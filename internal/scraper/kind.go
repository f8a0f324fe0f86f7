package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/topicwatch/internal/topic"
)

// ErrMalformed marks input that can never be fetched or parsed, such as an
// invalid URL or a feed body that is not a feed.
var ErrMalformed = errors.New("malformed source")

// Kind selects the extraction strategy for a source.
type Kind string

// Supported strategies. Anything unrecognised is scraped as a generic page.
const (
	KindFeed Kind = "feed"
	KindPage Kind = "genericPage"
)

// Target is a resolved fetch plan for one URL.
type Target struct {
	Kind Kind
	URL  string
	// Unsupported is set for hosts that require an authenticated API; such
	// targets yield no items without an error.
	Unsupported bool
}

var unsupportedHosts = []string{"x.com", "twitter.com", "instagram.com", "linkedin.com"}

var (
	mediumUser     = regexp.MustCompile(`/(@[\w.-]+)`)
	youtubeChannel = regexp.MustCompile(`/channel/([^/?#]+)`)
	youtubeUser    = regexp.MustCompile(`/@([^/?#]+)`)
)

// ParseKind maps a stored kind hint onto a strategy. Empty hints return
// false so the caller can detect the kind from the URL instead.
func ParseKind(hint string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "":
		return "", false
	case "feed", "rss", "atom":
		return KindFeed, true
	default:
		return KindPage, true
	}
}

// Resolve builds the fetch plan for rawURL. Well-known hosts are rewritten
// to their feed endpoints; the kind hint, when set, overrides detection.
func Resolve(rawURL, hint string) (Target, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Target{}, fmt.Errorf("%w: invalid url %q", ErrMalformed, rawURL)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, h := range unsupportedHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return Target{Kind: KindPage, URL: u.String(), Unsupported: true}, nil
		}
	}

	target := Target{Kind: DetectKind(u), URL: u.String()}
	switch {
	case host == "medium.com" && !strings.Contains(u.Path, "/feed"):
		if m := mediumUser.FindStringSubmatch(u.Path); m != nil {
			target = Target{Kind: KindFeed, URL: "https://medium.com/feed/" + m[1]}
		}
	case host == "youtube.com" || host == "m.youtube.com" || host == "youtu.be":
		if m := youtubeChannel.FindStringSubmatch(u.Path); m != nil {
			target = Target{Kind: KindFeed, URL: "https://www.youtube.com/feeds/videos.xml?channel_id=" + url.QueryEscape(m[1])}
		} else if m := youtubeUser.FindStringSubmatch(u.Path); m != nil {
			target = Target{Kind: KindFeed, URL: "https://www.youtube.com/feeds/videos.xml?user=" + url.QueryEscape(m[1])}
		}
	}
	if kind, ok := ParseKind(hint); ok {
		target.Kind = kind
	}
	return target, nil
}

// DetectKind classifies a URL by its path.
func DetectKind(u *url.URL) Kind {
	path := strings.ToLower(u.Path)
	switch {
	case strings.HasSuffix(path, ".xml"),
		strings.HasSuffix(path, ".rss"),
		strings.HasSuffix(path, ".atom"),
		strings.Contains(path, "/feed"),
		strings.Contains(path, "/rss"),
		strings.Contains(path, "/atom"):
		return KindFeed
	default:
		return KindPage
	}
}

// Targets resolves the primary URL followed by the alternates of src.
func Targets(src topic.Source) ([]Target, error) {
	urls := append([]string{src.URL}, src.AltURLs...)
	out := make([]Target, 0, len(urls))
	var firstErr error
	for _, raw := range urls {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		t, err := Resolve(raw, src.Kind)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		if firstErr == nil {
			firstErr = fmt.Errorf("%w: source %s has no url", ErrMalformed, src.ID)
		}
		return nil, firstErr
	}
	return out, nil
}
