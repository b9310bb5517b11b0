package models

import (
	"time"
)

// Contest is one instantiated round of a level. Pricing, capacity, timing,
// fee and rank weights are copied from the level at spawn time, so later
// level edits never alter an in-flight round. VoteStartAt doubles as the
// submission deadline; VoteEndAt drives settlement and archival ordering.
type Contest struct {
	ID               uint64 `json:"id" gorm:"primaryKey;autoIncrement"`
	LevelID          string `json:"level_id" gorm:"not null;index:idx_contests_level_closed"`
	Price            int64  `json:"price"` // entry price locked at spawn, quote units
	ParticipantLimit int    `json:"participant_limit"`
	ParticipantCount int    `json:"participant_count" gorm:"default:0"`

	SubmissionsClosed bool  `json:"submissions_closed" gorm:"default:false;index:idx_contests_level_closed"`
	SubmissionPeriod  int64   `json:"submission_period"` // seconds
	VotePeriod        int64   `json:"vote_period"`       // seconds
	Fee               int64   `json:"fee"`               // parts per thousand, copied from level
	Prizes            []int64 `json:"prizes" gorm:"serializer:json"` // rank weights, copied from level

	// FixedPrize is the reserve-backed pool in currency minor units, converted
	// from the level's quote-unit amount at spawn. 0 = pooled entry funds.
	FixedPrize int64 `json:"fixed_prize" gorm:"default:0"`

	VoteStartAt time.Time `json:"vote_start_at"`
	VoteEndAt   time.Time `json:"vote_end_at" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`

	// Settlement idempotency marker, set exactly once.
	Paid bool `json:"paid" gorm:"default:false;index"`
}
