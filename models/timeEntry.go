package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TimeEntry struct {
	ID                      string          `gorm:"primaryKey;size:64" json:"id"`
	Description             *string         `gorm:"type:text" json:"description"`
	StartDate               *time.Time      `gorm:"index" json:"start_date"`
	DurationSeconds         int64           `gorm:"not null;default:0" json:"duration_seconds"`
	BillableDurationSeconds int64           `gorm:"not null;default:0" json:"billable_duration_seconds"`
	Billable                bool            `gorm:"not null;default:false" json:"billable"`
	HourlyRate              decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"hourly_rate"`
	TaskId                  *string         `gorm:"size:64;index" json:"task_id"`
	Task                    *Task           `gorm:"foreignKey:TaskId;constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"-"`
	UserId                  *string         `gorm:"size:64;index" json:"user_id"`
	User                    *User           `gorm:"foreignKey:UserId;constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"-"`
	CustomerId              *string         `gorm:"size:64;index" json:"customer_id"`
	Customer                *Party          `gorm:"foreignKey:CustomerId;constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"-"`
	SalesOrderId            *string         `gorm:"size:64;index" json:"sales_order_id"`
	SalesOrder              *Order          `gorm:"foreignKey:SalesOrderId;constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"-"`
	CreatedDate             *time.Time      `json:"created_date"`
	LastModifiedDate        *time.Time      `json:"last_modified_date"`
	IsActive                bool            `gorm:"not null;default:true" json:"is_active"`
	LastSyncAt              time.Time       `gorm:"not null;index" json:"last_sync_at"`
}

func (e TimeEntry) GetId() string {
	return e.ID
}

func (e TimeEntry) Fillable() map[string]interface{} {
	return map[string]interface{}{
		"description":               e.Description,
		"start_date":                e.StartDate,
		"duration_seconds":          e.DurationSeconds,
		"billable_duration_seconds": e.BillableDurationSeconds,
		"billable":                  e.Billable,
		"hourly_rate":               e.HourlyRate,
		"task_id":                   e.TaskId,
		"user_id":                   e.UserId,
		"customer_id":               e.CustomerId,
		"sales_order_id":            e.SalesOrderId,
		"created_date":              e.CreatedDate,
		"last_modified_date":        e.LastModifiedDate,
	}
}
