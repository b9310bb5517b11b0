package models

import (
	"time"
)

// Level is the configuration template a contest round is instantiated from.
// Price and FixedPrize are denominated in oracle quote units (1,000,000 quote
// units = one major unit's worth of the priced asset). Timing fields are
// copied onto the contest at spawn time, so later edits never alter in-flight
// rounds.
type Level struct {
	ID               string  `json:"id" gorm:"primaryKey"`
	CategoryID       string  `json:"category_id" gorm:"not null;index"`
	Name             string  `json:"name" gorm:"not null"`
	Archived         bool    `json:"archived" gorm:"default:false"`
	Price            int64   `json:"price" gorm:"default:0"`
	ParticipantLimit int     `json:"participant_limit" gorm:"not null"`
	SubmissionPeriod int64   `json:"submission_period" gorm:"not null"` // seconds
	VotePeriod       int64   `json:"vote_period" gorm:"not null"`       // seconds
	Fee              int64   `json:"fee" gorm:"default:0"`              // parts per thousand, must be < 1000
	Prizes           []int64 `json:"prizes" gorm:"serializer:json"`     // rank weights, Prizes[0] = 1st place
	FixedPrize       int64   `json:"fixed_prize" gorm:"default:0"`      // 0 = pooled payout
	MaxOpenContests  int     `json:"max_open_contests" gorm:"default:0"` // 0 = unlimited
	VoteStartHour    *int    `json:"vote_start_hour,omitempty"` // optional UTC hour voting must begin at

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Category Category `json:"category,omitempty" gorm:"foreignKey:CategoryID"`
}
