package api

import (
	"encoding/json"
	"time"

	"github.com/JakeFAU/topicwatch/internal/store"
)

type runDTO struct {
	ID         string          `json:"id"`
	JobID      string          `json:"jobId,omitempty"`
	TopicID    string          `json:"topicId"`
	Cadence    string          `json:"cadence"`
	Trigger    string          `json:"trigger"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Error      string          `json:"error,omitempty"`
	Summary    map[string]any  `json:"summary,omitempty"`
	Nodes      json.RawMessage `json:"nodes,omitempty"`
}

func toRunDTOs(in []store.RunRecord) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

func toRunDTO(run store.RunRecord) runDTO {
	dto := runDTO{
		ID:         run.ID,
		JobID:      run.JobID,
		TopicID:    run.TopicID,
		Cadence:    string(run.Cadence),
		Trigger:    run.Trigger,
		Status:     string(run.Status),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Error:      run.Error,
		Summary:    run.Summary,
	}
	if json.Valid(run.Nodes) {
		dto.Nodes = json.RawMessage(run.Nodes)
	}
	return dto
}
