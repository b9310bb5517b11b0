package models

import (
	"time"
)

// Payout is a queued outbound ledger transfer. Rows are written inside the
// transaction that decides to pay and dispatched only after it commits, so a
// rolled-back decision never has money already out the door. Unsent rows are
// retried by the maintenance pass; RequestID keeps retries idempotent on the
// ledger side.
type Payout struct {
	ID        uint64 `json:"id" gorm:"primaryKey;autoIncrement"`
	RequestID string `json:"request_id" gorm:"not null;uniqueIndex"`
	Account   string `json:"account" gorm:"not null"`
	Amount    int64  `json:"amount" gorm:"not null"` // currency minor units
	Memo      string `json:"memo"`

	Sent   bool       `json:"sent" gorm:"default:false;index"`
	SentAt *time.Time `json:"sent_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
