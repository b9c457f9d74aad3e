package models

import (
	"gorm.io/gorm"
)

// User represents a user account in the system. Registration, login and token
// issuance live in a separate auth service; this backend only verifies tokens
// and scopes every query by the owning user.
type User struct {
	gorm.Model

	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`

	// Profile information
	Name     *string `json:"name,omitempty"`
	Company  *string `json:"company,omitempty"`
	Timezone string  `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive     bool `gorm:"default:true" json:"is_active"`
	TokenVersion int  `gorm:"default:0" json:"-"` // bumped to invalidate outstanding tokens
}
