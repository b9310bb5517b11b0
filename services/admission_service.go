package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"contest-engine/models"
	"contest-engine/safeint"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// priceScale is the oracle's fixed-point base: 1,000,000 quote units equal one
// major currency unit's worth of the priced asset.
const priceScale = int64(1_000_000)

// AdmissionService decides whether a funded entry joins an open contest or
// spawns a new one, gated by payment sufficiency against the price oracle,
// per-level concurrency caps, and the fixed-prize reserve.
type AdmissionService struct {
	DB      *gorm.DB
	Pool    *ContestPool
	Oracle  *OracleService
	Options *OptionService
	Clock   clockwork.Clock
}

func NewAdmissionService(db *gorm.DB, pool *ContestPool, oracle *OracleService, options *OptionService, clock clockwork.Clock) *AdmissionService {
	return &AdmissionService{DB: db, Pool: pool, Oracle: oracle, Options: options, Clock: clock}
}

// TryActivate attempts to assign the entry to a contest. Returns whether the
// entry was activated. A false return without error is a deferral: the entry
// stays unassigned (possibly parked as price-unavailable) and a later funding
// event or maintenance pass retries. Side effects are transactional; no
// contest is ever created and then abandoned by a later failing check.
func (s *AdmissionService) TryActivate(entryID uint64) (bool, error) {
	activated := false
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		activated, err = s.tryActivate(tx, entryID)
		return err
	})
	return activated, err
}

func (s *AdmissionService) tryActivate(tx *gorm.DB, entryID uint64) (bool, error) {
	var entry models.Entry
	if err := forUpdate(tx).First(&entry, "id = ?", entryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, fmt.Errorf("entry %d: %w", entryID, ErrNotFound)
		}
		return false, err
	}

	// Superseded or already assigned: safe no-op.
	if !entry.Open || entry.ContestID != 0 {
		return false, nil
	}

	now := s.Clock.Now().UTC()

	expiry, err := s.Options.GetInt(tx, OptEntryExpiry, DefaultEntryExpiry)
	if err != nil {
		return false, err
	}
	if now.After(entry.CreatedAt.Add(time.Duration(expiry) * time.Second)) {
		if entry.PriceUnavailable {
			if err := tx.Model(&entry).Update("price_unavailable", false).Error; err != nil {
				return false, err
			}
		}
		log.Printf("entry %d expired before activation, awaiting refund", entry.ID)
		return false, nil
	}

	// The level row lock is the serialization point for the whole level:
	// participant counts, submission closing and the concurrency cap are all
	// read and written under it, so two activations cannot overfill a
	// contest or double-spawn past the cap.
	var level models.Level
	if err := forUpdate(tx).First(&level, "id = ?", entry.LevelID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, fmt.Errorf("level %s for entry %d: %w", entry.LevelID, entry.ID, ErrNotFound)
		}
		return false, err
	}
	if level.Archived {
		return false, fmt.Errorf("level %s is archived: %w", level.ID, ErrPrecondition)
	}

	cur, found, err := s.Pool.FindOpenContest(tx, level.ID)
	if err != nil {
		return false, err
	}
	curValid := found && s.Pool.IsEligible(cur, now)

	var targetPrice int64
	var fixedReserve int64 // currency minor units to pull from the prize fund on spawn
	if curValid {
		targetPrice = cur.Price
	} else {
		targetPrice = level.Price
		if level.FixedPrize > 0 {
			reserve, ok, rerr := s.fixedPrizeReserve(tx, &level)
			if rerr != nil {
				return false, rerr
			}
			if !ok {
				// No oracle data to value the reserve: park, not fatal.
				return false, s.park(tx, &entry)
			}
			fixedReserve = reserve
		}
	}

	if targetPrice > 0 {
		high, herr := s.Oracle.MaxHighSince(tx, entry.CreatedAt.Unix())
		if herr != nil {
			return false, herr
		}
		fresh, ferr := s.Oracle.IsFresh(tx, now.Unix())
		if ferr != nil {
			return false, ferr
		}
		if high <= 0 || !fresh {
			if err := s.park(tx, &entry); err != nil {
				return false, err
			}
			log.Printf("entry %d parked: currency price unavailable, will recheck on next oracle update", entry.ID)
			return false, nil
		}

		value, merr := safeint.Mul(high, entry.Amount)
		if merr != nil {
			return false, merr
		}
		paid, derr := safeint.Div(value, priceScale)
		if derr != nil {
			return false, derr
		}
		// Genuine underpayment, not an oracle problem: leave unparked.
		if paid < targetPrice {
			log.Printf("entry %d underpaid: worth %d of %d quote units", entry.ID, paid, targetPrice)
			return false, nil
		}
	}

	if curValid {
		return true, s.joinContest(tx, &entry, cur)
	}
	return s.spawnContest(tx, &entry, &level, cur, found, fixedReserve, now)
}

// fixedPrizeReserve converts the level's fixed prize from quote units to
// currency minor units at the latest oracle price and verifies the prize fund
// can cover it. ok=false means the oracle window is empty.
func (s *AdmissionService) fixedPrizeReserve(tx *gorm.DB, level *models.Level) (int64, bool, error) {
	latest, ok, err := s.Oracle.LatestSample(tx)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}

	scaled, err := safeint.Mul(level.FixedPrize, priceScale)
	if err != nil {
		return 0, false, err
	}
	need, err := safeint.Div(scaled, latest.High)
	if err != nil {
		return 0, false, err
	}

	fund, err := s.Options.GetInt(tx, OptPrizeFund, 0)
	if err != nil {
		return 0, false, err
	}
	if fund < need {
		return 0, false, fmt.Errorf("insufficient prize fund: have %d, need %d: %w", fund, need, ErrPrecondition)
	}
	return need, true, nil
}

func (s *AdmissionService) park(tx *gorm.DB, entry *models.Entry) error {
	if entry.PriceUnavailable {
		return nil
	}
	return tx.Model(entry).Update("price_unavailable", true).Error
}

func (s *AdmissionService) joinContest(tx *gorm.DB, entry *models.Entry, contest *models.Contest) error {
	updates := map[string]interface{}{
		"participant_count": contest.ParticipantCount + 1,
	}
	if contest.ParticipantCount+1 >= contest.ParticipantLimit {
		updates["submissions_closed"] = true
	}
	if err := tx.Model(contest).Updates(updates).Error; err != nil {
		return err
	}

	if err := tx.Model(entry).Updates(map[string]interface{}{
		"contest_id":        contest.ID,
		"price_unavailable": false,
	}).Error; err != nil {
		return err
	}

	log.Printf("✅ entry %d joined contest %d (%d/%d participants)",
		entry.ID, contest.ID, contest.ParticipantCount+1, contest.ParticipantLimit)
	return nil
}

func (s *AdmissionService) spawnContest(tx *gorm.DB, entry *models.Entry, level *models.Level, prior *models.Contest, priorFound bool, fixedReserve int64, now time.Time) (bool, error) {
	// Funding can race past an expired submission window, so the concurrency
	// cap is re-checked here, not just at submission time.
	if level.MaxOpenContests > 0 {
		open, err := s.Pool.CountConcurrentOpen(tx, level.ID, now)
		if err != nil {
			return false, err
		}
		if open >= int64(level.MaxOpenContests) {
			log.Printf("entry %d deferred: level %s already has %d running contest(s)", entry.ID, level.ID, open)
			return false, nil
		}
	}

	if fixedReserve > 0 {
		if _, err := s.Options.AddInt(tx, OptPrizeFund, -fixedReserve); err != nil {
			return false, err
		}
	}

	voteStart, voteEnd := VoteWindow(level, now)
	contest := models.Contest{
		LevelID:          level.ID,
		Price:            level.Price,
		ParticipantLimit: level.ParticipantLimit,
		ParticipantCount: 1,
		SubmissionPeriod: level.SubmissionPeriod,
		VotePeriod:       level.VotePeriod,
		Fee:              level.Fee,
		Prizes:           level.Prizes,
		FixedPrize:       fixedReserve,
		VoteStartAt:      voteStart,
		VoteEndAt:        voteEnd,
		CreatedAt:        now,
	}
	if err := tx.Create(&contest).Error; err != nil {
		return false, err
	}

	// A prior open instance that fell out of eligibility stops accepting
	// submissions once its successor exists.
	if priorFound {
		if err := tx.Model(prior).Update("submissions_closed", true).Error; err != nil {
			return false, err
		}
	}

	if err := tx.Model(entry).Updates(map[string]interface{}{
		"contest_id":        contest.ID,
		"price_unavailable": false,
	}).Error; err != nil {
		return false, err
	}

	log.Printf("🏁 entry %d activated with new contest %d for level %s", entry.ID, contest.ID, level.ID)
	return true, nil
}

// RecheckParked re-drives activation for every entry parked as
// price-unavailable. Called from maintenance after oracle updates arrive.
func (s *AdmissionService) RecheckParked() {
	var ids []uint64
	if err := s.DB.Model(&models.Entry{}).
		Where("price_unavailable = ?", true).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		log.Printf("❌ failed to list parked entries: %v", err)
		return
	}

	for _, id := range ids {
		if _, err := s.TryActivate(id); err != nil {
			log.Printf("❌ recheck of parked entry %d failed: %v", id, err)
		}
	}
}
