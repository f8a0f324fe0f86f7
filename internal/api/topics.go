package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/topicwatch/internal/orchestrator"
	"github.com/JakeFAU/topicwatch/internal/schedule"
	"github.com/JakeFAU/topicwatch/internal/topic"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	maxBodyBytes    = 1 << 20
)

var errBadRequest = errors.New("bad request")

func isScheduleError(err error) bool {
	return errors.Is(err, schedule.ErrInvalidClock) || errors.Is(err, schedule.ErrInvalidTimezone)
}

// decodeJSON reads a single JSON object, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) createTopic(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.SetupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.svc.SetupTopic(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"topic": t})
}

func (s *Server) listTopics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"topics": s.svc.Topics()})
}

func (s *Server) getTopic(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Topic(chi.URLParam(r, "topic_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"topic": t})
}

func (s *Server) updateTopic(w http.ResponseWriter, r *http.Request) {
	var patch orchestrator.TopicPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.svc.UpdateTopic(r.Context(), chi.URLParam(r, "topic_id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"topic": t})
}

func (s *Server) archiveTopic(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.svc.Archive)
}

func (s *Server) pauseTopic(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.svc.Pause)
}

func (s *Server) resumeTopic(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.svc.Resume)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (topic.Topic, error)) {
	t, err := op(r.Context(), chi.URLParam(r, "topic_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"topic": t})
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var sched topic.Schedule
	if err := decodeJSON(r, &sched); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.svc.UpdateSchedule(r.Context(), chi.URLParam(r, "topic_id"), sched)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"topic": t})
}

// triggerTopic runs a cadence synchronously and returns the workflow result.
// A failed workflow still answers 200; success=false carries the outcome.
func (s *Server) triggerTopic(w http.ResponseWriter, r *http.Request) {
	cadence, err := orchestrator.ParseCadence(chi.URLParam(r, "cadence"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.svc.TriggerNow(r.Context(), chi.URLParam(r, "topic_id"), cadence)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	switch {
	case out.Daily != nil:
		s.writeJSON(w, http.StatusOK, out.Daily)
	case out.Weekly != nil:
		s.writeJSON(w, http.StatusOK, out.Weekly)
	default:
		s.writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "topic_id")
	if _, err := s.svc.Topic(topicID); err != nil && !errors.Is(err, topic.ErrArchived) {
		s.fail(w, r, err)
		return
	}
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	runs, err := s.svc.Runs(r.Context(), topicID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(runs)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.Run(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("%w: invalid limit", errBadRequest)
	}
	return min(val, maxLimit), nil
}
