// Package email delivers digests through the Resend HTTP API.
package email

import (
	"context"
	"errors"
	"net/mail"
	"strings"
)

// ErrNotConfigured is returned by Send when no API key is set.
var ErrNotConfigured = errors.New("email sender not configured")

// Delivery is the outcome for one recipient.
type Delivery struct {
	Recipient string `json:"recipient"`
	Sent      bool   `json:"sent"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Sender delivers one HTML message to each recipient individually.
type Sender interface {
	Send(ctx context.Context, recipients []string, subject, html string) ([]Delivery, error)
	Available() bool
}

// Tally counts sent and failed deliveries.
func Tally(deliveries []Delivery) (sent, failed int) {
	for _, d := range deliveries {
		if d.Sent {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}

// ValidateAddresses splits recipients into deliverable addresses and the
// rest. Display names are rejected; the domain must contain a dot.
func ValidateAddresses(recipients []string) (valid, invalid []string) {
	for _, raw := range recipients {
		addr := strings.TrimSpace(raw)
		if validAddress(addr) {
			valid = append(valid, addr)
		} else {
			invalid = append(invalid, raw)
		}
	}
	return valid, invalid
}

func validAddress(addr string) bool {
	if addr == "" || strings.ContainsAny(addr, " <>") {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return false
	}
	at := strings.LastIndexByte(addr, '@')
	domain := addr[at+1:]
	dot := strings.IndexByte(domain, '.')
	return dot > 0 && dot < len(domain)-1
}
