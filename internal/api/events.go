package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/broadcast"
	"github.com/JakeFAU/topicwatch/internal/progress"
)

// streamEvents serves GET /v1/events?topic_id= as server-sent events. Without
// topic_id the stream carries every topic. Each successful write refreshes
// the subscription so the liveness sweep keeps it.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	topicID := strings.TrimSpace(r.URL.Query().Get("topic_id"))
	if topicID == "" {
		topicID = progress.GlobalTopic
	}
	if topicID != progress.GlobalTopic {
		if _, err := s.svc.Topic(topicID); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	sub := s.events.Subscribe(topicID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "connected", map[string]string{
		"subscriptionId": sub.ID(),
		"topicId":        topicID,
	}); err != nil {
		return
	}
	flusher.Flush()
	sub.Touch()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case msg := <-sub.C():
			if err := writeEvent(w, msg.Event, msg); err != nil {
				s.logger.Debug("event stream closed", zap.String("subscription_id", sub.ID()), zap.Error(err))
				return
			}
			flusher.Flush()
			sub.Touch()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", name, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return fmt.Errorf("write event %s: %w", name, err)
	}
	return nil
}

var _ Subscriber = (*broadcast.Broadcaster)(nil)
