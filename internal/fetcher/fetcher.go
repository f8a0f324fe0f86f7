// Package fetcher defines the single-URL fetch contract shared by the
// plain HTTP and headless implementations.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// RobotsStatus records how robots.txt was resolved for a fetch.
type RobotsStatus string

// Robots resolution outcomes.
const (
	RobotsStatusUnknown       RobotsStatus = ""
	RobotsStatusIndeterminate RobotsStatus = "indeterminate"
)

// Request captures everything needed to fetch a URL.
type Request struct {
	URL     string
	Headers http.Header
	// RespectRobots overrides the fetcher default when RespectRobotsProvided is set.
	RespectRobots         bool
	RespectRobotsProvided bool
}

// Response is the result returned by a Fetcher implementation.
type Response struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	Rendered     bool
	RobotsStatus RobotsStatus
	RobotsReason string
}

// ContentType returns the response Content-Type header.
func (r Response) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL  string
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Code, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Code)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

func (e *StatusError) Unwrap() error { return e.Err }
