package services

import (
	"log"
	"time"

	"contest-engine/models"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// sweepBudget caps the deletions each sweep performs per maintenance call so
// a long backlog never blows up a single invocation. Sweeps resume from the
// oldest remaining record on the next call.
const sweepBudget = 500

// abandonedEntryAge is how long an unfunded, unassigned entry survives before
// it is swept independently of contest settlement.
const abandonedEntryAge = 24 * time.Hour

// SweeperService incrementally evicts settled contests (votes, then entries,
// then the contest) past the archival retention window, and abandoned
// entries that never got funded.
type SweeperService struct {
	DB      *gorm.DB
	Options *OptionService
	Clock   clockwork.Clock
}

func NewSweeperService(db *gorm.DB, options *OptionService, clock clockwork.Clock) *SweeperService {
	return &SweeperService{DB: db, Options: options, Clock: clock}
}

// Sweep runs both bounded sweeps once.
func (s *SweeperService) Sweep() {
	if err := s.sweepSettled(); err != nil {
		log.Printf("❌ settled-contest sweep failed: %v", err)
	}
	if err := s.sweepAbandoned(); err != nil {
		log.Printf("❌ abandoned-entry sweep failed: %v", err)
	}
}

// sweepSettled deletes paid contests whose vote end plus the retention window
// has elapsed, oldest vote-end first, stopping mid-structure when the budget
// runs out.
func (s *SweeperService) sweepSettled() error {
	now := s.Clock.Now().UTC()
	retention, err := s.Options.GetInt(s.DB, OptArchiveRetention, DefaultArchiveRetention)
	if err != nil {
		return err
	}
	cutoff := now.Add(-time.Duration(retention) * time.Second)

	var contests []models.Contest
	if err := s.DB.Where("paid = ? AND vote_end_at <= ?", true, cutoff).
		Order("vote_end_at ASC").
		Limit(sweepBudget).
		Find(&contests).Error; err != nil {
		return err
	}

	budget := sweepBudget
	for i := range contests {
		contest := contests[i]

		n, err := s.deleteBatch(&models.Vote{}, "contest_id = ?", contest.ID, budget)
		if err != nil {
			return err
		}
		budget -= n
		if budget <= 0 {
			return nil
		}

		n, err = s.deleteBatch(&models.Entry{}, "contest_id = ?", contest.ID, budget)
		if err != nil {
			return err
		}
		budget -= n
		if budget <= 0 {
			return nil
		}

		// Votes and entries are gone; the contest row itself is the last op.
		if err := s.DB.Delete(&models.Contest{}, "id = ?", contest.ID).Error; err != nil {
			return err
		}
		budget--
		log.Printf("🗑️  archived contest %d (vote ended %s)", contest.ID, contest.VoteEndAt.Format(time.RFC3339))
		if budget <= 0 {
			return nil
		}
	}
	return nil
}

// sweepAbandoned deletes entries that were never funded nor assigned and are
// older than the abandonment window.
func (s *SweeperService) sweepAbandoned() error {
	cutoff := s.Clock.Now().UTC().Add(-abandonedEntryAge)
	n, err := s.deleteBatch(&models.Entry{}, "contest_id = 0 AND amount = 0 AND created_at < ?", cutoff, sweepBudget)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("🗑️  swept %d abandoned entr(ies)", n)
	}
	return nil
}

// deleteBatch deletes up to limit rows matching the condition, oldest id
// first, and returns how many went. Two-step select-then-delete because
// DELETE ... LIMIT is not portable.
func (s *SweeperService) deleteBatch(model interface{}, cond string, arg interface{}, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	var ids []uint64
	if err := s.DB.Model(model).Where(cond, arg).Order("id ASC").Limit(limit).Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.DB.Where("id IN ?", ids).Delete(model)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}
