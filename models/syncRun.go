package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual   = "manual"
	SyncTriggeredSchedule = "schedule"
	SyncTriggeredRetry    = "retry"
)

var ErrUnknownTriggerSource = errors.New("unknown trigger source")

// ParseTriggerSource accepts the sources a caller may record. Retry runs are only created by Retry.
func ParseTriggerSource(s string) (string, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case SyncTriggeredManual, SyncTriggeredSchedule:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTriggerSource, s)
}

const (
	SyncOutcomeFallback = "fallback"
	SyncOutcomeFailed   = "failed"
)

type SyncRun struct {
	ID            uint           `gorm:"primary_key" json:"id"`
	Status        string         `gorm:"size:20;not null;index" json:"status"`
	TriggeredBy   string         `gorm:"size:20" json:"triggered_by"`
	EntityTypes   datatypes.JSON `gorm:"type:json" json:"entity_types"`
	StatsJSON     datatypes.JSON `gorm:"type:json" json:"stats"`
	Succeeded     int            `gorm:"not null;default:0" json:"succeeded"`
	Fallback      int            `gorm:"not null;default:0" json:"fallback"`
	Failed        int            `gorm:"not null;default:0" json:"failed"`
	ParentRunId   *uint          `gorm:"index" json:"parent_run_id"`
	CorrelationId string         `gorm:"size:64" json:"correlation_id"`
	StartedAt     *time.Time     `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at"`
	DurationMs    int64          `json:"duration_ms"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncDiagnostic is one fallback or failed record of a run.
type SyncDiagnostic struct {
	ID          uint           `gorm:"primary_key" json:"id"`
	SyncRunId   uint           `gorm:"index;not null" json:"sync_run_id"`
	EntityType  string         `gorm:"size:50;index" json:"entity_type"`
	RecordId    string         `gorm:"size:64" json:"record_id"`
	Outcome     string         `gorm:"size:20;not null" json:"outcome"`
	Code        string         `gorm:"size:64" json:"code"`
	Fields      string         `gorm:"size:255" json:"fields"`
	Message     string         `gorm:"type:text" json:"message"`
	PayloadJSON datatypes.JSON `gorm:"type:json" json:"payload"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func CreateSyncRun(ctx context.Context, db *gorm.DB, run *SyncRun) error {
	if run.Status == "" {
		run.Status = SyncRunStatusQueued
	}
	return db.WithContext(ctx).Create(run).Error
}

func GetSyncRun(ctx context.Context, db *gorm.DB, id uint) (*SyncRun, error) {
	var run SyncRun
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func ListSyncRuns(ctx context.Context, db *gorm.DB, limit int) ([]SyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []SyncRun
	err := db.WithContext(ctx).Order("id desc").Limit(limit).Find(&runs).Error
	return runs, err
}

// MarkSyncRunRunning moves a queued run to running. It reports false when the run
// already left the queue, so redelivered push messages do not run twice.
func MarkSyncRunRunning(ctx context.Context, db *gorm.DB, id uint, startedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&SyncRun{}).
		Where("id = ? AND status = ?", id, SyncRunStatusQueued).
		Updates(map[string]interface{}{
			"status":     SyncRunStatusRunning,
			"started_at": startedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func FinishSyncRun(ctx context.Context, db *gorm.DB, id uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return errors.New("no run updates")
	}
	return db.WithContext(ctx).Model(&SyncRun{}).Where("id = ?", id).Updates(updates).Error
}

func CreateSyncDiagnostic(ctx context.Context, db *gorm.DB, diag *SyncDiagnostic) error {
	return db.WithContext(ctx).Create(diag).Error
}

func ListSyncDiagnostics(ctx context.Context, db *gorm.DB, runId uint) ([]SyncDiagnostic, error) {
	var diags []SyncDiagnostic
	err := db.WithContext(ctx).Where("sync_run_id = ?", runId).Order("id").Find(&diags).Error
	return diags, err
}
