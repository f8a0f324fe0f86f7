package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/topicwatch/internal/progress"
)

// Publisher sends a payload to a named message-bus topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, attrs map[string]string) (string, error)
}

// PublishSink announces finished runs on a message bus.
type PublishSink struct {
	pub   Publisher
	topic string
}

// NewPublishSink publishes run_finished payloads to topic.
func NewPublishSink(pub Publisher, topic string) *PublishSink {
	return &PublishSink{pub: pub, topic: topic}
}

// Consume publishes each finished run.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if evt.Name != progress.EventRunFinished {
			continue
		}
		info, ok := runInfo(evt.Data)
		if !ok {
			continue
		}
		attrs := map[string]string{
			"event":    string(evt.Name),
			"topic_id": info.TopicID,
			"cadence":  info.Cadence,
			"status":   info.Status,
		}
		if _, err := s.pub.Publish(ctx, s.topic, info, attrs); err != nil {
			errs = append(errs, fmt.Errorf("publish run %s: %w", info.RunID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
