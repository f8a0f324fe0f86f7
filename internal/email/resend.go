package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/topicwatch/internal/metrics"
	"github.com/JakeFAU/topicwatch/internal/policy/retry"
)

// Config holds Resend settings.
type Config struct {
	APIKey  string
	BaseURL string
	From    string
	ReplyTo string
	Timeout time.Duration
	Retry   retry.Policy
	// PerSecond paces individual sends; zero uses 2/s.
	PerSecond float64
}

// Resend sends mail through api.resend.com.
type Resend struct {
	client  *resty.Client
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type sendError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// StatusError reports a non-2xx response from Resend.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resend returned status %d: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

// NewResend creates a Resend sender.
func NewResend(cfg Config, logger *zap.Logger) *Resend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.resend.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.IsZero() {
		cfg.Retry = retry.Default()
	}
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(cfg.Timeout)

	return &Resend{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), 1),
		logger:  logger.Named("email"),
	}
}

// Available reports whether an API key and sender address are configured.
func (r *Resend) Available() bool {
	return r != nil && r.cfg.APIKey != "" && r.cfg.From != ""
}

// Send delivers subject and html to each recipient separately. Invalid
// addresses are reported as failed deliveries without a request. The error
// is non-nil only when the sender is unconfigured or ctx ends.
func (r *Resend) Send(ctx context.Context, recipients []string, subject, html string) ([]Delivery, error) {
	if !r.Available() {
		return nil, ErrNotConfigured
	}
	deliveries := make([]Delivery, 0, len(recipients))
	for _, raw := range recipients {
		addr := strings.TrimSpace(raw)
		if !validAddress(addr) {
			metrics.ObserveEmail("invalid")
			deliveries = append(deliveries, Delivery{Recipient: raw, Error: "invalid email address"})
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return deliveries, fmt.Errorf("email pacing: %w", err)
		}
		id, err := r.sendOne(ctx, addr, subject, html)
		if err != nil {
			metrics.ObserveEmail("failed")
			r.logger.Warn("email send failed", zap.String("recipient", addr), zap.Error(err))
			deliveries = append(deliveries, Delivery{Recipient: addr, Error: err.Error()})
			if ctx.Err() != nil {
				return deliveries, ctx.Err()
			}
			continue
		}
		metrics.ObserveEmail("sent")
		deliveries = append(deliveries, Delivery{Recipient: addr, Sent: true, MessageID: id})
	}
	return deliveries, nil
}

func (r *Resend) sendOne(ctx context.Context, to, subject, html string) (string, error) {
	body := sendRequest{
		From:    r.cfg.From,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
		ReplyTo: r.cfg.ReplyTo,
	}
	var id string
	_, err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context, _ int) error {
		var (
			result sendResponse
			failed sendError
		)
		resp, err := r.client.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&result).
			SetError(&failed).
			Post("/emails")
		if err != nil {
			return fmt.Errorf("post email: %w", err)
		}
		if resp.IsError() {
			msg := failed.Message
			if msg == "" {
				msg = strings.TrimSpace(string(resp.Body()))
			}
			return &StatusError{Code: resp.StatusCode(), Message: msg}
		}
		if result.ID == "" {
			return retry.Permanent(errors.New("resend response has no id"))
		}
		id = result.ID
		return nil
	}, nil)
	if err != nil {
		return "", err
	}
	return id, nil
}
