package services

import (
	"fmt"
	"log"

	"contest-engine/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// PayoutService owns the outbound side of the ledger: refunds, claims and fee
// routing all go through its queue. Callers record the payout inside their own
// transaction; the ledger call happens only after that transaction commits,
// from DispatchPending. A payout whose dispatch fails stays queued and is
// retried on the next maintenance pass.
type PayoutService struct {
	DB     *gorm.DB
	Ledger Transferrer
	Clock  clockwork.Clock
}

func NewPayoutService(db *gorm.DB, ledger Transferrer, clock clockwork.Clock) *PayoutService {
	return &PayoutService{DB: db, Ledger: ledger, Clock: clock}
}

// Queue records an outbound transfer on the caller's transaction. Nothing is
// sent until the transaction commits and DispatchPending runs.
func (s *PayoutService) Queue(tx *gorm.DB, account string, amount int64, memo string) error {
	if account == "" {
		return fmt.Errorf("payout needs a destination account: %w", ErrPrecondition)
	}
	if amount <= 0 {
		return fmt.Errorf("payout amount must be positive, got %d: %w", amount, ErrPrecondition)
	}
	payout := models.Payout{
		RequestID: uuid.NewString(),
		Account:   account,
		Amount:    amount,
		Memo:      memo,
		CreatedAt: s.Clock.Now().UTC(),
	}
	return tx.Create(&payout).Error
}

// DispatchPending sends every queued payout, oldest first. A failed send
// leaves the row queued; the request id makes the eventual retry idempotent
// on the ledger side.
func (s *PayoutService) DispatchPending() {
	var pending []models.Payout
	if err := s.DB.Where("sent = ?", false).Order("id ASC").Find(&pending).Error; err != nil {
		log.Printf("❌ failed to list pending payouts: %v", err)
		return
	}

	for i := range pending {
		payout := pending[i]
		if err := s.Ledger.Transfer(payout.RequestID, payout.Account, payout.Amount, payout.Memo); err != nil {
			log.Printf("⚠️  payout %d of %d to %s failed, will retry: %v", payout.ID, payout.Amount, payout.Account, err)
			continue
		}
		now := s.Clock.Now().UTC()
		if err := s.DB.Model(&payout).Updates(map[string]interface{}{
			"sent":    true,
			"sent_at": now,
		}).Error; err != nil {
			// The transfer went out but the mark failed; the unique request id
			// keeps the redelivery on the next pass from double-paying.
			log.Printf("❌ failed to mark payout %d sent: %v", payout.ID, err)
		}
	}
}
