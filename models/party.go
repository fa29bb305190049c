package models

import "time"

type Party struct {
	ID               string     `gorm:"primaryKey;size:64" json:"id"`
	PartyType        string     `gorm:"size:32" json:"party_type"`
	Company          *string    `gorm:"size:255" json:"company"`
	FirstName        *string    `gorm:"size:100" json:"first_name"`
	LastName         *string    `gorm:"size:100" json:"last_name"`
	Email            *string    `gorm:"size:255" json:"email"`
	Customer         bool       `gorm:"not null;default:false" json:"customer"`
	Supplier         bool       `gorm:"not null;default:false" json:"supplier"`
	CustomerNumber   *string    `gorm:"size:64;index" json:"customer_number"`
	SupplierNumber   *string    `gorm:"size:64;index" json:"supplier_number"`
	CreatedDate      *time.Time `json:"created_date"`
	LastModifiedDate *time.Time `json:"last_modified_date"`
	IsActive         bool       `gorm:"not null;default:true" json:"is_active"`
	LastSyncAt       time.Time  `gorm:"not null;index" json:"last_sync_at"`
}

func (p Party) GetId() string {
	return p.ID
}

func (p Party) Fillable() map[string]interface{} {
	return map[string]interface{}{
		"party_type":         p.PartyType,
		"company":            p.Company,
		"first_name":         p.FirstName,
		"last_name":          p.LastName,
		"email":              p.Email,
		"customer":           p.Customer,
		"supplier":           p.Supplier,
		"customer_number":    p.CustomerNumber,
		"supplier_number":    p.SupplierNumber,
		"created_date":       p.CreatedDate,
		"last_modified_date": p.LastModifiedDate,
	}
}
