package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID               string          `gorm:"primaryKey;size:64" json:"id"`
	OrderNumber      *string         `gorm:"size:64;index" json:"order_number"`
	Status           string          `gorm:"size:64" json:"status"`
	CustomerId       *string         `gorm:"size:64;index" json:"customer_id"`
	Customer         *Party          `gorm:"foreignKey:CustomerId;constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"-"`
	OrderDate        *time.Time      `json:"order_date"`
	NetAmount        decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"net_amount"`
	GrossAmount      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"gross_amount"`
	Currency         *string         `gorm:"size:16" json:"currency"`
	Invoiced         bool            `gorm:"not null;default:false" json:"invoiced"`
	Paid             bool            `gorm:"not null;default:false" json:"paid"`
	Shipped          bool            `gorm:"not null;default:false" json:"shipped"`
	ServicesFinished bool            `gorm:"not null;default:false" json:"services_finished"`
	CreatedDate      *time.Time      `json:"created_date"`
	LastModifiedDate *time.Time      `json:"last_modified_date"`
	IsActive         bool            `gorm:"not null;default:true" json:"is_active"`
	LastSyncAt       time.Time       `gorm:"not null;index" json:"last_sync_at"`
}

func (o Order) GetId() string {
	return o.ID
}

func (o Order) Fillable() map[string]interface{} {
	return map[string]interface{}{
		"order_number":       o.OrderNumber,
		"status":             o.Status,
		"customer_id":        o.CustomerId,
		"order_date":         o.OrderDate,
		"net_amount":         o.NetAmount,
		"gross_amount":       o.GrossAmount,
		"currency":           o.Currency,
		"invoiced":           o.Invoiced,
		"paid":               o.Paid,
		"shipped":            o.Shipped,
		"services_finished":  o.ServicesFinished,
		"created_date":       o.CreatedDate,
		"last_modified_date": o.LastModifiedDate,
	}
}
