package erpsync

import (
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/erp_mirror/models"
	"github.com/xuri/excelize/v2"
)

const (
	runSheet         = "Run"
	diagnosticsSheet = "Diagnostics"
)

// BuildDiagnosticsWorkbook lays out a run and its diagnostics as an xlsx workbook.
// The caller closes the returned file.
func BuildDiagnosticsWorkbook(run *models.SyncRun, diags []models.SyncDiagnostic) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", runSheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(diagnosticsSheet); err != nil {
		f.Close()
		return nil, err
	}

	rows := [][]interface{}{
		{"Run", run.ID},
		{"Status", run.Status},
		{"Triggered by", run.TriggeredBy},
		{"Correlation id", run.CorrelationId},
		{"Started at", formatCellTime(run.StartedAt)},
		{"Finished at", formatCellTime(run.FinishedAt)},
		{"Duration (ms)", run.DurationMs},
		{"Succeeded", run.Succeeded},
		{"Fallback", run.Fallback},
		{"Failed", run.Failed},
		{},
		{"Entity", "State", "Succeeded", "Fallback", "Failed", "Error"},
	}
	var summary RunSummary
	if len(run.StatsJSON) > 0 && json.Unmarshal(run.StatsJSON, &summary) == nil {
		for _, es := range summary.Entities {
			rows = append(rows, []interface{}{es.EntityType.String(), string(es.State), es.Succeeded, es.Fallback, es.Failed, es.Error})
		}
	}
	if err := writeRows(f, runSheet, rows); err != nil {
		f.Close()
		return nil, err
	}

	diagRows := make([][]interface{}, 0, len(diags)+1)
	diagRows = append(diagRows, []interface{}{"Entity", "Record", "Outcome", "Code", "Fields", "Message", "Recorded at"})
	for _, d := range diags {
		diagRows = append(diagRows, []interface{}{d.EntityType, d.RecordId, d.Outcome, d.Code, d.Fields, d.Message, d.CreatedAt.UTC().Format(time.RFC3339)})
	}
	if err := writeRows(f, diagnosticsSheet, diagRows); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func formatCellTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
