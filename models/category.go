package models

import (
	"time"
)

// Category groups levels and constrains the media accepted into them.
type Category struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	Name           string    `json:"name" gorm:"not null"`
	MaxVideoLength int       `json:"max_video_length" gorm:"default:0"` // seconds, 0 = unlimited
	Archived       bool      `json:"archived" gorm:"default:false"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
