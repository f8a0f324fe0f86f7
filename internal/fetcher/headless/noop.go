package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/topicwatch/internal/fetcher"
)

// ErrDisabled reports that headless rendering is switched off.
var ErrDisabled = errors.New("headless rendering disabled")

// Noop stands in for the renderer when headless rendering is disabled.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrDisabled.
func (Noop) Fetch(_ context.Context, _ fetcher.Request) (fetcher.Response, error) {
	return fetcher.Response{}, ErrDisabled
}
