package models

import (
	"time"

	"gorm.io/datatypes"
)

// Task mirrors an upstream task. Assignees, watchers, entity references and custom
// attributes are stored as the upstream sent them and never inspected.
type Task struct {
	ID               string         `gorm:"primaryKey;size:64" json:"id"`
	Subject          string         `gorm:"size:255" json:"subject"`
	Description      *string        `gorm:"type:text" json:"description"`
	Identifier       *string        `gorm:"size:64;index" json:"identifier"`
	Status           string         `gorm:"size:64" json:"status"`
	Priority         string         `gorm:"size:64" json:"priority"`
	Visibility       string         `gorm:"size:64" json:"visibility"`
	PlannedEffort    *int64         `json:"planned_effort"`
	DateFrom         *time.Time     `json:"date_from"`
	DateTo           *time.Time     `json:"date_to"`
	AllowTimeBooking bool           `gorm:"not null;default:true" json:"allow_time_booking"`
	AllowOverBooking bool           `gorm:"not null;default:false" json:"allow_over_booking"`
	CreatorUserId    *string        `gorm:"size:64;index" json:"creator_user_id"`
	CreatorUser      *User          `gorm:"foreignKey:CreatorUserId;constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"-"`
	CustomerId       *string        `gorm:"size:64;index" json:"customer_id"`
	Customer         *Party         `gorm:"foreignKey:CustomerId;constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"-"`
	ParentTaskId     *string        `gorm:"size:64;index" json:"parent_task_id"`
	ParentTask       *Task          `gorm:"foreignKey:ParentTaskId;constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"-"`
	PreviousTaskId   *string        `gorm:"size:64;index" json:"previous_task_id"`
	PreviousTask     *Task          `gorm:"foreignKey:PreviousTaskId;constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"-"`
	OrderItemId      *string        `gorm:"size:64" json:"order_item_id"`
	TicketId         *string        `gorm:"size:64" json:"ticket_id"`
	Assignees        datatypes.JSON `gorm:"type:json" json:"assignees"`
	Watchers         datatypes.JSON `gorm:"type:json" json:"watchers"`
	EntityReferences datatypes.JSON `gorm:"type:json" json:"entity_references"`
	CustomAttributes datatypes.JSON `gorm:"type:json" json:"custom_attributes"`
	CreatedDate      *time.Time     `json:"created_date"`
	LastModifiedDate *time.Time     `json:"last_modified_date"`
	IsActive         bool           `gorm:"not null;default:true" json:"is_active"`
	LastSyncAt       time.Time      `gorm:"not null;index" json:"last_sync_at"`
}

func (t Task) GetId() string {
	return t.ID
}

func (t Task) Fillable() map[string]interface{} {
	return map[string]interface{}{
		"subject":            t.Subject,
		"description":        t.Description,
		"identifier":         t.Identifier,
		"status":             t.Status,
		"priority":           t.Priority,
		"visibility":         t.Visibility,
		"planned_effort":     t.PlannedEffort,
		"date_from":          t.DateFrom,
		"date_to":            t.DateTo,
		"allow_time_booking": t.AllowTimeBooking,
		"allow_over_booking": t.AllowOverBooking,
		"creator_user_id":    t.CreatorUserId,
		"customer_id":        t.CustomerId,
		"parent_task_id":     t.ParentTaskId,
		"previous_task_id":   t.PreviousTaskId,
		"order_item_id":      t.OrderItemId,
		"ticket_id":          t.TicketId,
		"assignees":          t.Assignees,
		"watchers":           t.Watchers,
		"entity_references":  t.EntityReferences,
		"custom_attributes":  t.CustomAttributes,
		"created_date":       t.CreatedDate,
		"last_modified_date": t.LastModifiedDate,
	}
}
