package erpsync

import (
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/erp_mirror/models"
)

type TriggerRunRequest struct {
	EntityTypes []string `json:"entityTypes"`
}

type SyncRunResponse struct {
	ID            uint            `json:"id"`
	Status        string          `json:"status"`
	TriggeredBy   string          `json:"triggeredBy"`
	EntityTypes   json.RawMessage `json:"entityTypes,omitempty"`
	ParentRunId   *uint           `json:"parentRunId,omitempty"`
	CorrelationId string          `json:"correlationId"`
	StartedAt     *string         `json:"startedAt"`
	FinishedAt    *string         `json:"finishedAt"`
	DurationMs    int64           `json:"durationMs"`
	Succeeded     int             `json:"succeeded"`
	Fallback      int             `json:"fallback"`
	Failed        int             `json:"failed"`
	Summary       *RunSummary     `json:"summary,omitempty"`
}

type DiagnosticResponse struct {
	ID         uint   `json:"id"`
	EntityType string `json:"entityType"`
	RecordId   string `json:"recordId"`
	Outcome    string `json:"outcome"`
	Code       string `json:"code"`
	Fields     string `json:"fields,omitempty"`
	Message    string `json:"message"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Diagnostics []DiagnosticResponse `json:"diagnostics"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.SyncRun) SyncRunResponse {
	resp := SyncRunResponse{
		ID:            run.ID,
		Status:        run.Status,
		TriggeredBy:   run.TriggeredBy,
		ParentRunId:   run.ParentRunId,
		CorrelationId: run.CorrelationId,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		Succeeded:     run.Succeeded,
		Fallback:      run.Fallback,
		Failed:        run.Failed,
	}
	if len(run.EntityTypes) > 0 {
		resp.EntityTypes = json.RawMessage(run.EntityTypes)
	}
	var summary RunSummary
	if len(run.StatsJSON) > 0 && json.Unmarshal(run.StatsJSON, &summary) == nil {
		resp.Summary = &summary
	}
	return resp
}

func mapDiagnostics(diags []models.SyncDiagnostic) []DiagnosticResponse {
	out := make([]DiagnosticResponse, 0, len(diags))
	for _, d := range diags {
		out = append(out, DiagnosticResponse{
			ID:         d.ID,
			EntityType: d.EntityType,
			RecordId:   d.RecordId,
			Outcome:    d.Outcome,
			Code:       d.Code,
			Fields:     d.Fields,
			Message:    d.Message,
		})
	}
	return out
}
