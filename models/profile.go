package models

import (
	"time"
)

// Profile is a participant identity. Account is the external ledger account
// payments and payouts move through; Winnings is the claimable balance
// credited by settlement. UsernameKey is the case/look-alike-folded form of
// Username used for collision checks.
type Profile struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Username    string    `json:"username" gorm:"not null"`
	UsernameKey string    `json:"-" gorm:"uniqueIndex;not null"`
	ImgHash     string    `json:"img_hash"`
	Account     string    `json:"account" gorm:"index;not null"`
	Active      bool      `json:"active" gorm:"default:true"`
	Winnings    int64     `json:"winnings" gorm:"default:0"` // claimable, in currency minor units
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
