package model

import "time"

// Credential is one named cookie of the stored credential bundle.
type Credential struct {
	Name      string    `gorm:"primaryKey;size:128"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
