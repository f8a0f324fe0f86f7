package topic

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// MaxNameLength bounds topic names, in runes.
const MaxNameLength = 200

var (
	// ErrNotFound signals an unknown topic id.
	ErrNotFound = errors.New("topic not found")
	// ErrArchived signals an operation on an archived topic.
	ErrArchived = errors.New("topic archived")
	// ErrExists signals a duplicate topic id.
	ErrExists = errors.New("topic already exists")
	// ErrInvalidName signals an empty or oversized name.
	ErrInvalidName = errors.New("invalid topic name")
	// ErrInvalidSource signals a source without a usable URL.
	ErrInvalidSource = errors.New("invalid source")
)

// NormalizeName trims name and enforces the length bounds.
func NormalizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(trimmed) > MaxNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, MaxNameLength)
	}
	return trimmed, nil
}

// NormalizeKeywords trims keywords and drops blanks and case-insensitive duplicates.
func NormalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// NormalizeSources validates every source URL and fills missing names
// from the host. Ids are assigned by the caller.
func NormalizeSources(sources []Source) ([]Source, error) {
	out := make([]Source, 0, len(sources))
	for i, src := range sources {
		src.URL = strings.TrimSpace(src.URL)
		u, err := ParseSourceURL(src.URL)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		if strings.TrimSpace(src.Name) == "" {
			src.Name = u.Host
		}
		for _, alt := range src.AltURLs {
			if _, err := ParseSourceURL(alt); err != nil {
				return nil, fmt.Errorf("source %d alt url: %w", i, err)
			}
		}
		out = append(out, src)
	}
	return out, nil
}

// ParseSourceURL accepts absolute http(s) URLs only.
func ParseSourceURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSource, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q must be http or https", ErrInvalidSource, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidSource, raw)
	}
	return u, nil
}
