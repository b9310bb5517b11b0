package services

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"contest-engine/models"
	"contest-engine/safeint"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// DistributorService settles ended contests: it tallies vote tiers, converts
// the contest's rank weights into proportional payouts of the net pool,
// credits winners' claimable balances, and routes the fee plus the
// integer-division remainder to the fee collector.
type DistributorService struct {
	DB      *gorm.DB
	Options *OptionService
	Payouts *PayoutService
	Clock   clockwork.Clock
}

func NewDistributorService(db *gorm.DB, options *OptionService, payouts *PayoutService, clock clockwork.Clock) *DistributorService {
	return &DistributorService{DB: db, Options: options, Payouts: payouts, Clock: clock}
}

// rankTier is one group of entries sharing a vote count. Tiers are built once
// per settlement as an explicit ordered list so rank weights can never drift
// out of alignment with sparse vote counts.
type rankTier struct {
	votes   int64
	entries []models.Entry
}

// SettleDue settles every unpaid contest whose vote window has ended, oldest
// vote-end first. Each contest settles in its own transaction so one bad
// round does not wedge the rest of the backlog.
func (s *DistributorService) SettleDue() {
	now := s.Clock.Now().UTC()

	var due []models.Contest
	if err := s.DB.Where("paid = ? AND vote_end_at <= ?", false, now).
		Order("vote_end_at ASC").
		Find(&due).Error; err != nil {
		log.Printf("❌ failed to list settleable contests: %v", err)
		return
	}

	for i := range due {
		contestID := due[i].ID
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			return s.settle(tx, contestID)
		})
		if err != nil {
			log.Printf("❌ settlement of contest %d failed: %v", contestID, err)
		}
	}
	s.Payouts.DispatchPending()
}

// Settle settles a single contest transactionally. Safe to call repeatedly:
// a paid contest is a no-op.
func (s *DistributorService) Settle(contestID uint64) error {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		return s.settle(tx, contestID)
	})
	if err != nil {
		return err
	}
	s.Payouts.DispatchPending()
	return nil
}

func (s *DistributorService) settle(tx *gorm.DB, contestID uint64) error {
	// Row lock serializes competing settlements: the loser of the race
	// re-reads the committed row and sees paid = true.
	var contest models.Contest
	if err := forUpdate(tx).First(&contest, "id = ?", contestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("contest %d: %w", contestID, ErrNotFound)
		}
		return err
	}
	if contest.Paid {
		return nil
	}
	if s.Clock.Now().UTC().Before(contest.VoteEndAt) {
		return fmt.Errorf("contest %d vote window still open: %w", contestID, ErrPrecondition)
	}

	var entries []models.Entry
	if err := tx.Where("contest_id = ?", contest.ID).Order("id ASC").Find(&entries).Error; err != nil {
		return err
	}

	// Blocked entries neither fund the pool nor take a rank.
	eligible := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Blocked {
			eligible = append(eligible, e)
		}
	}

	pool := contest.FixedPrize
	if pool == 0 {
		for _, e := range eligible {
			var err error
			pool, err = safeint.Add(pool, e.Amount)
			if err != nil {
				return err
			}
		}
	}

	var fee int64
	if contest.FixedPrize == 0 && contest.Fee > 0 {
		scaled, err := safeint.Mul(pool, contest.Fee)
		if err != nil {
			return err
		}
		fee, err = safeint.Div(scaled, 1000)
		if err != nil {
			return err
		}
	}
	distributable, err := safeint.Sub(pool, fee)
	if err != nil {
		return err
	}

	tiers := buildRankTiers(eligible)

	// Weights come from the contest's own snapshot, like its fee and price:
	// level edits after spawn never change how a running round pays out.
	distributed, err := s.payTiers(tx, &contest, contest.Prizes, tiers, distributable)
	if err != nil {
		return err
	}

	// Everything not handed to a winner, fee included, goes to the collector.
	remainder, err := safeint.Sub(pool, distributed)
	if err != nil {
		return err
	}
	if remainder > 0 {
		feeAcct, gerr := s.Options.Get(tx, OptFeeAccount, "")
		if gerr != nil {
			return gerr
		}
		if feeAcct == "" {
			return fmt.Errorf("fee account not configured: %w", ErrPrecondition)
		}
		feeMemo, gerr := s.Options.Get(tx, OptFeeMemo, "")
		if gerr != nil {
			return gerr
		}
		if qerr := s.Payouts.Queue(tx, feeAcct, remainder, feeMemo); qerr != nil {
			return fmt.Errorf("fee payout for contest %d: %w", contest.ID, qerr)
		}
	}

	if err := tx.Model(&contest).Update("paid", true).Error; err != nil {
		return err
	}

	log.Printf("💰 contest %d settled: pool=%d fee=%d distributed=%d remainder=%d",
		contest.ID, pool, fee, distributed, remainder)
	return nil
}

// payTiers credits each weighted tier's entries and returns the total amount
// distributed. Tied entries split their rank's weight, so a two-way tie in a
// rank never doubles that rank's share of the pool.
func (s *DistributorService) payTiers(tx *gorm.DB, contest *models.Contest, weights []int64, tiers []rankTier, distributable int64) (int64, error) {
	if distributable <= 0 || len(weights) == 0 || len(tiers) == 0 {
		return 0, nil
	}

	ranked := len(tiers)
	if ranked > len(weights) {
		ranked = len(weights)
	}

	var totalWeight int64
	for r := 0; r < ranked; r++ {
		var err error
		totalWeight, err = safeint.Add(totalWeight, weights[r])
		if err != nil {
			return 0, err
		}
	}
	if totalWeight <= 0 {
		return 0, nil
	}

	var distributed int64
	for r := 0; r < ranked; r++ {
		tier := tiers[r]
		share, err := safeint.Mul(distributable, weights[r])
		if err != nil {
			return 0, err
		}
		divisor, err := safeint.Mul(totalWeight, int64(len(tier.entries)))
		if err != nil {
			return 0, err
		}
		payout, err := safeint.Div(share, divisor)
		if err != nil {
			return 0, err
		}
		if payout <= 0 {
			continue
		}

		for i := range tier.entries {
			entry := tier.entries[i]
			credited, cerr := s.creditWinner(tx, &entry, payout)
			if cerr != nil {
				return 0, cerr
			}
			if !credited {
				continue
			}
			distributed, err = safeint.Add(distributed, payout)
			if err != nil {
				return 0, err
			}
		}
	}
	return distributed, nil
}

// creditWinner adds payout to the entry owner's claimable winnings. A winner
// without a profile is skipped; their share stays in the remainder.
func (s *DistributorService) creditWinner(tx *gorm.DB, entry *models.Entry, payout int64) (bool, error) {
	var profile models.Profile
	if err := forUpdate(tx).First(&profile, "id = ?", entry.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("⚠️  entry %d winner %s has no profile, payout withheld", entry.ID, entry.UserID)
			return false, nil
		}
		return false, err
	}

	winnings, err := safeint.Add(profile.Winnings, payout)
	if err != nil {
		return false, err
	}
	if err := tx.Model(&profile).Update("winnings", winnings).Error; err != nil {
		return false, err
	}
	if err := tx.Model(entry).Update("prize_given", payout).Error; err != nil {
		return false, err
	}
	return true, nil
}

// buildRankTiers groups entries by vote count, highest first. Ties share a
// rank.
func buildRankTiers(entries []models.Entry) []rankTier {
	byVotes := make(map[int64][]models.Entry)
	for _, e := range entries {
		byVotes[e.Votes] = append(byVotes[e.Votes], e)
	}

	counts := make([]int64, 0, len(byVotes))
	for v := range byVotes {
		counts = append(counts, v)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i] > counts[j] })

	tiers := make([]rankTier, 0, len(counts))
	for _, v := range counts {
		tiers = append(tiers, rankTier{votes: v, entries: byVotes[v]})
	}
	return tiers
}
