// Package metrics exposes Prometheus collectors for the topicwatch service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal                     *prometheus.CounterVec
	fetchBytesTotal                *prometheus.CounterVec
	fetchRetriesTotal              *prometheus.CounterVec
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	robotsTLSHandshakeTimeoutTotal prometheus.Counter
	rateLimitDelaySeconds          *prometheus.HistogramVec
	modelCallsTotal                *prometheus.CounterVec
	emailsTotal                    *prometheus.CounterVec
	armedFires                     prometheus.Gauge
	broadcastSubscribers           prometheus.Gauge
	broadcastDroppedTotal          *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicwatch_fetch_total",
				Help: "Source fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicwatch_fetch_bytes_total",
				Help: "Bytes fetched from sources, labeled by site.",
			},
			[]string{"site"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicwatch_fetch_retries_total",
				Help: "Source fetch retries, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		robotsTLSHandshakeTimeoutTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "topicwatch_robots_tls_handshake_timeout_total",
				Help: "TLS handshake timeouts encountered while fetching robots.txt.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "topicwatch_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations, labeled by limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"limiter"},
		)

		modelCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicwatch_model_calls_total",
				Help: "Model collaborator calls, labeled by model and outcome.",
			},
			[]string{"model", "outcome"},
		)

		emailsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicwatch_emails_total",
				Help: "Digest emails, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		armedFires = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "topicwatch_armed_fires",
				Help: "Number of scheduled runs currently armed.",
			},
		)

		broadcastSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "topicwatch_broadcast_subscribers",
				Help: "Live event stream subscriptions.",
			},
		)

		broadcastDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topicwatch_broadcast_dropped_total",
				Help: "Events not delivered to a subscriber, labeled by reason.",
			},
			[]string{"reason"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt against a source URL.
func ObserveFetch(rawURL, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	fetchTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveFetchRetry records a retried fetch.
func ObserveFetchRetry(rawURL string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsTLSHandshakeTimeout increments the robots.txt handshake timeout counter.
func ObserveRobotsTLSHandshakeTimeout() {
	Init()
	robotsTLSHandshakeTimeoutTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(limiter string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(limiter).Observe(duration.Seconds())
}

// ObserveModelCall records a model collaborator call.
func ObserveModelCall(model, outcome string) {
	Init()
	modelCallsTotal.WithLabelValues(model, outcome).Inc()
}

// ObserveEmail records one email delivery outcome.
func ObserveEmail(outcome string) {
	Init()
	emailsTotal.WithLabelValues(outcome).Inc()
}

// SetArmedFires reports the number of armed scheduled runs.
func SetArmedFires(n int) {
	Init()
	armedFires.Set(float64(n))
}

// SetBroadcastSubscribers reports the number of live subscriptions.
func SetBroadcastSubscribers(n int) {
	Init()
	broadcastSubscribers.Set(float64(n))
}

// ObserveBroadcastDrop counts an undelivered event.
func ObserveBroadcastDrop(reason string) {
	Init()
	broadcastDroppedTotal.WithLabelValues(reason).Inc()
}
