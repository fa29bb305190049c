package erpsync

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/erp_mirror/config"
	"bitbucket.org/mmdatafocus/erp_mirror/models"
	"bitbucket.org/mmdatafocus/erp_mirror/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxDiagnosticFields   = 255
	maxDiagnosticRecordId = 64
)

// DBRecorder writes diagnostics to sync_diagnostics for the run id carried by the context.
// Without a run id nothing is written.
type DBRecorder struct {
	db *gorm.DB
}

func NewDBRecorder(db *gorm.DB) *DBRecorder {
	return &DBRecorder{db: db}
}

func (r *DBRecorder) RecordDiagnostic(ctx context.Context, d Diagnostic) {
	runId, ok := utils.GetRunIdFromContext(ctx)
	if !ok || runId == 0 {
		return
	}

	fields := strings.Join(d.Fields, ",")
	if len(fields) > maxDiagnosticFields {
		fields = fields[:maxDiagnosticFields]
	}
	recordId := d.RecordId
	if len(recordId) > maxDiagnosticRecordId {
		recordId = recordId[:maxDiagnosticRecordId]
	}
	diag := models.SyncDiagnostic{
		SyncRunId:  runId,
		EntityType: d.EntityType.String(),
		RecordId:   recordId,
		Outcome:    d.Outcome,
		Code:       d.Code,
		Fields:     fields,
		Message:    d.Message,
	}
	if d.Outcome == models.SyncOutcomeFailed && len(d.Payload) > 0 {
		diag.PayloadJSON = datatypes.JSON(d.Payload)
	}

	// diagnostics of an aborted run are still kept
	if err := models.CreateSyncDiagnostic(context.WithoutCancel(ctx), r.db, &diag); err != nil {
		config.LogError(config.GetLogger(), "erpsync", "RecordDiagnostic", "create sync diagnostic", map[string]interface{}{
			"run_id":    runId,
			"record_id": d.RecordId,
		}, err)
	}
}
