package sinks

import (
	"context"

	"github.com/JakeFAU/topicwatch/internal/broadcast"
	"github.com/JakeFAU/topicwatch/internal/progress"
)

// Deliverer accepts prepared broadcast messages.
type Deliverer interface {
	Deliver(msg broadcast.Message) int
}

// BroadcastSink forwards every event to live subscribers, preserving the
// emission timestamp.
type BroadcastSink struct {
	target Deliverer
}

// NewBroadcastSink wraps a broadcaster.
func NewBroadcastSink(target Deliverer) *BroadcastSink {
	return &BroadcastSink{target: target}
}

// Consume delivers the batch in order.
func (s *BroadcastSink) Consume(_ context.Context, batch []progress.Event) error {
	if s == nil || s.target == nil {
		return nil
	}
	for _, evt := range batch {
		s.target.Deliver(broadcast.Message{
			Event:     string(evt.Name),
			TopicID:   evt.TopicID,
			Data:      evt.Data,
			Timestamp: evt.TS,
		})
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *BroadcastSink) Close(context.Context) error {
	return nil
}
