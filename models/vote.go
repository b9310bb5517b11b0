package models

import (
	"time"
)

// Vote records that a voter cast a ballot for an entry within a contest.
// The unique index enforces at most one vote per (contest, voter), whichever
// entry it targets.
type Vote struct {
	ID          uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	ContestID   uint64    `json:"contest_id" gorm:"not null;uniqueIndex:idx_votes_contest_voter"`
	EntryID     uint64    `json:"entry_id" gorm:"not null;index"`
	VoterUserID string    `json:"voter_user_id" gorm:"not null;uniqueIndex:idx_votes_contest_voter"`
	CreatedAt   time.Time `json:"created_at"`
}
