package models

import "gorm.io/gorm"

// Template represents a reusable email template referenced by sequence steps
// and automation send actions.
type Template struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Subject     string `gorm:"not null" json:"subject"`
	HTMLContent string `gorm:"type:text" json:"html_content"`
	TextContent string `gorm:"type:text" json:"text_content"`

	Category string `json:"category"`
	IsPublic bool   `gorm:"default:false" json:"is_public"`
}
