package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/topicwatch/internal/policy/retry"
)

// TestValidateAddresses verifies well-formed addresses are separated from the rest.
func TestValidateAddresses(t *testing.T) {
	t.Parallel()

	valid, invalid := ValidateAddresses([]string{
		"ann@example.com", " bo@mail.example.org ", "bad@", "no-at.example.com",
		"Ann <ann@example.com>", "local@localhost", "",
	})
	require.Equal(t, []string{"ann@example.com", "bo@mail.example.org"}, valid)
	require.Len(t, invalid, 5)
}

// TestTally verifies sent and failed counts.
func TestTally(t *testing.T) {
	t.Parallel()

	sent, failed := Tally([]Delivery{{Sent: true}, {Sent: false}, {Sent: true}})
	require.Equal(t, 2, sent)
	require.Equal(t, 1, failed)
}

// TestResendSendsEachRecipient verifies one request per valid recipient and
// that invalid addresses fail without a request.
func TestResendSendsEachRecipient(t *testing.T) {
	t.Parallel()

	api := &fakeResend{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	r := NewResend(Config{
		APIKey:    "re_test",
		BaseURL:   srv.URL,
		From:      "news@example.com",
		PerSecond: 1000,
		Retry:     retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond},
	}, nil)
	require.True(t, r.Available())

	deliveries, err := r.Send(context.Background(), []string{"ann@example.com", "nope", "bo@example.com"}, "Weekly", "<html></html>")
	require.NoError(t, err)
	require.Len(t, deliveries, 3)

	require.True(t, deliveries[0].Sent)
	require.Equal(t, "msg-1", deliveries[0].MessageID)
	require.False(t, deliveries[1].Sent)
	require.Equal(t, "invalid email address", deliveries[1].Error)
	require.True(t, deliveries[2].Sent)

	reqs := api.Requests()
	require.Len(t, reqs, 2)
	require.Equal(t, []string{"ann@example.com"}, reqs[0].To)
	require.Equal(t, "news@example.com", reqs[0].From)
	require.Equal(t, "Weekly", reqs[0].Subject)
}

// TestResendReportsRejectedRecipients verifies 4xx responses fail one delivery without retry.
func TestResendReportsRejectedRecipients(t *testing.T) {
	t.Parallel()

	api := &fakeResend{reject: "blocked@example.com"}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	r := NewResend(Config{
		APIKey:    "k",
		BaseURL:   srv.URL,
		From:      "news@example.com",
		PerSecond: 1000,
		Retry:     retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond},
	}, nil)
	deliveries, err := r.Send(context.Background(), []string{"blocked@example.com", "ok@example.com"}, "s", "h")
	require.NoError(t, err)

	sent, failed := Tally(deliveries)
	require.Equal(t, 1, sent)
	require.Equal(t, 1, failed)
	require.Contains(t, deliveries[0].Error, "recipient blocked")
	require.Len(t, api.Requests(), 2)
}

// TestResendUnconfigured verifies Send refuses to run without credentials.
func TestResendUnconfigured(t *testing.T) {
	t.Parallel()

	r := NewResend(Config{From: "news@example.com"}, nil)
	require.False(t, r.Available())
	_, err := r.Send(context.Background(), []string{"a@example.com"}, "s", "h")
	require.ErrorIs(t, err, ErrNotConfigured)
}

type fakeResend struct {
	reject string

	mu       sync.Mutex
	requests []sendRequest
}

func (f *fakeResend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path != "/emails" || r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if len(req.To) == 1 && req.To[0] == f.reject {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"name":"validation_error","message":"recipient blocked"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(sendResponse{ID: "msg-" + string(rune('0'+n))})
}

func (f *fakeResend) Requests() []sendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendRequest(nil), f.requests...)
}
