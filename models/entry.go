package models

import (
	"time"
)

// Entry is a participant submission plus its funding state within one contest
// attempt. ContestID 0 means not yet admitted. At most one entry per
// (user, level) may have Open = true at a time.
type Entry struct {
	ID        uint64 `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    string `json:"user_id" gorm:"not null;index:idx_entries_user_level_open"`
	LevelID   string `json:"level_id" gorm:"not null;index:idx_entries_user_level_open"`
	ContestID uint64 `json:"contest_id" gorm:"default:0;index"`
	Amount    int64  `json:"amount" gorm:"default:0"` // accumulated payment, currency minor units
	Votes     int64  `json:"votes" gorm:"default:0"`

	// Parked: funding arrived but the oracle was stale or empty. Cleared on
	// activation, expiry, or re-submission.
	PriceUnavailable bool `json:"price_unavailable" gorm:"default:false;index"`
	Open             bool `json:"open" gorm:"default:true;index:idx_entries_user_level_open"`
	Blocked          bool `json:"blocked" gorm:"default:false"`

	// Settlement outcome, kept for moderation reversal.
	PrizeGiven   int64 `json:"prize_given" gorm:"default:0"`
	PrizeRevoked bool  `json:"prize_revoked" gorm:"default:false"`

	VideoHash720p  string `json:"video_hash_720p"`
	VideoHash1080p string `json:"video_hash_1080p"`
	CoverHash      string `json:"cover_hash"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
}
