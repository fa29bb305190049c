package models

import "time"

// User is the upstream ERP user, mirrored as a reference target for tasks and time entries.
type User struct {
	ID               string     `gorm:"primaryKey;size:64" json:"id"`
	Username         *string    `gorm:"size:100;index" json:"username"`
	FirstName        *string    `gorm:"size:100" json:"first_name"`
	LastName         *string    `gorm:"size:100" json:"last_name"`
	Email            *string    `gorm:"size:255" json:"email"`
	Status           string     `gorm:"size:32" json:"status"`
	CreatedDate      *time.Time `json:"created_date"`
	LastModifiedDate *time.Time `json:"last_modified_date"`
	IsActive         bool       `gorm:"not null;default:true" json:"is_active"`
	LastSyncAt       time.Time  `gorm:"not null;index" json:"last_sync_at"`
}

func (u User) GetId() string {
	return u.ID
}

func (u User) Fillable() map[string]interface{} {
	return map[string]interface{}{
		"username":           u.Username,
		"first_name":         u.FirstName,
		"last_name":          u.LastName,
		"email":              u.Email,
		"status":             u.Status,
		"created_date":       u.CreatedDate,
		"last_modified_date": u.LastModifiedDate,
	}
}
