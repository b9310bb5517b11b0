package services

import (
	"errors"
	"fmt"
	"log"
	"strconv"

	"contest-engine/middleware"
	"contest-engine/models"
	"contest-engine/safeint"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// EntryService owns the participant-facing lifecycle of an entry: submission,
// funding notifications from the ledger, refunds, votes, and moderation.
type EntryService struct {
	DB        *gorm.DB
	Admission *AdmissionService
	Options   *OptionService
	Pool      *ContestPool
	Payouts   *PayoutService
	Clock     clockwork.Clock
}

func NewEntryService(db *gorm.DB, admission *AdmissionService, options *OptionService, pool *ContestPool, payouts *PayoutService, clock clockwork.Clock) *EntryService {
	return &EntryService{DB: db, Admission: admission, Options: options, Pool: pool, Payouts: payouts, Clock: clock}
}

// profileByAccount resolves the gateway-asserted ledger account to a profile.
func profileByAccount(db *gorm.DB, account string) (*models.Profile, error) {
	var profile models.Profile
	if err := db.First(&profile, "account = ?", account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no profile for account %s: %w", account, ErrNotFound)
		}
		return nil, err
	}
	return &profile, nil
}

type submitEntryRequest struct {
	LevelID        string `json:"level_id"`
	VideoHash720p  string `json:"video_hash_720p"`
	VideoHash1080p string `json:"video_hash_1080p"`
	CoverHash      string `json:"cover_hash"`
}

// SubmitEntry handles POST /entries. A user holds at most one open entry per
// level: resubmitting closes an entry whose contest already ended, or replaces
// a still-unassigned one with its accumulated funds carried over.
func (s *EntryService) SubmitEntry(c *fiber.Ctx) error {
	var req submitEntryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.LevelID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "level_id is required"})
	}

	entry, err := s.submit(middleware.CallerAccount(c), &req)
	if err != nil {
		log.Printf("❌ entry submission failed for account %s: %v", middleware.CallerAccount(c), err)
		return errorJSON(c, err)
	}

	if entry.Amount > 0 {
		// Carried-over funds may already cover the entry price.
		if _, aerr := s.Admission.TryActivate(entry.ID); aerr != nil {
			log.Printf("⚠️  activation after resubmission of entry %d failed: %v", entry.ID, aerr)
		}
	}

	var fresh models.Entry
	if err := s.DB.First(&fresh, "id = ?", entry.ID).Error; err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fresh)
}

func (s *EntryService) submit(account string, req *submitEntryRequest) (*models.Entry, error) {
	var created models.Entry
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		profile, err := profileByAccount(tx, account)
		if err != nil {
			return err
		}
		if !profile.Active {
			return fmt.Errorf("profile %s is inactive: %w", profile.ID, ErrForbidden)
		}

		var level models.Level
		if err := tx.First(&level, "id = ?", req.LevelID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("level %s: %w", req.LevelID, ErrNotFound)
			}
			return err
		}
		if level.Archived {
			return fmt.Errorf("level %s is archived: %w", level.ID, ErrPrecondition)
		}

		now := s.Clock.Now().UTC()

		// If no round is accepting submissions, a funded entry would need to
		// spawn one; reject up front when the level's concurrency cap forbids
		// that, instead of taking money for an entry that can never start.
		cur, found, err := s.Pool.FindOpenContest(tx, level.ID)
		if err != nil {
			return err
		}
		if (!found || !s.Pool.IsEligible(cur, now)) && level.MaxOpenContests > 0 {
			open, cerr := s.Pool.CountConcurrentOpen(tx, level.ID, now)
			if cerr != nil {
				return cerr
			}
			if open >= int64(level.MaxOpenContests) {
				return fmt.Errorf("level %s has no open round and %d running contest(s): %w", level.ID, open, ErrPrecondition)
			}
		}

		carried := int64(0)
		var prior models.Entry
		// Locked so two resubmissions cannot both carry the same funds over.
		perr := forUpdate(tx).Where("user_id = ? AND level_id = ? AND open = ?", profile.ID, level.ID, true).
			First(&prior).Error
		switch {
		case perr == nil:
			if prior.ContestID != 0 {
				var contest models.Contest
				if err := tx.First(&contest, "id = ?", prior.ContestID).Error; err != nil {
					return err
				}
				if now.Before(contest.VoteEndAt) {
					return fmt.Errorf("entry %d is already competing in contest %d: %w", prior.ID, contest.ID, ErrConflict)
				}
				// Round over: retire the old entry, funds stay where settlement
				// accounted for them.
				if err := tx.Model(&prior).Update("open", false).Error; err != nil {
					return err
				}
			} else {
				// Unassigned predecessor gets replaced; its funds follow the
				// user to the new entry.
				carried = prior.Amount
				if err := tx.Model(&prior).Updates(map[string]interface{}{
					"open":              false,
					"amount":            0,
					"price_unavailable": false,
				}).Error; err != nil {
					return err
				}
			}
		case errors.Is(perr, gorm.ErrRecordNotFound):
			// First entry for this (user, level).
		default:
			return perr
		}

		created = models.Entry{
			UserID:         profile.ID,
			LevelID:        level.ID,
			Amount:         carried,
			Open:           true,
			VideoHash720p:  req.VideoHash720p,
			VideoHash1080p: req.VideoHash1080p,
			CoverHash:      req.CoverHash,
			CreatedAt:      now,
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}

		log.Printf("✅ entry %d submitted by %s for level %s (carried %d)", created.ID, profile.ID, level.ID, carried)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

type transferNotification struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Memo     string `json:"memo"`
}

// DepositNotification handles POST /ledger/transfers, the inbound webhook the
// ledger collaborator fires when value lands on the service account. It is a
// notification, not a command: malformed or unmatchable deposits are logged
// and acknowledged, never bounced, because the transfer already happened.
func (s *EntryService) DepositNotification(c *fiber.Ctx) error {
	var n transferNotification
	if err := c.BodyParser(&n); err != nil {
		log.Printf("⚠️  unparsable transfer notification: %v", err)
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	if n.Amount <= 0 {
		log.Printf("⚠️  transfer notification with non-positive amount %d ignored", n.Amount)
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	wantCurrency, err := s.Options.Get(s.DB, OptCurrency, "")
	if err != nil {
		return errorJSON(c, err)
	}
	if wantCurrency != "" && n.Currency != wantCurrency {
		log.Printf("⚠️  deposit in %s ignored, service accepts %s", n.Currency, wantCurrency)
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	if n.Memo == "prizefund" {
		var fund int64
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			var aerr error
			fund, aerr = s.Options.AddInt(tx, OptPrizeFund, n.Amount)
			return aerr
		})
		if err != nil {
			return errorJSON(c, err)
		}
		log.Printf("💰 prize fund topped up by %d from %s, now %d", n.Amount, n.From, fund)
		return c.JSON(fiber.Map{"status": "credited"})
	}

	entryID, perr := strconv.ParseUint(n.Memo, 10, 64)
	if perr != nil {
		log.Printf("⚠️  deposit of %d from %s with unusable memo %q ignored", n.Amount, n.From, n.Memo)
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	credited := false
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var entry models.Entry
		if err := forUpdate(tx).First(&entry, "id = ?", entryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("⚠️  deposit of %d from %s references unknown entry %d", n.Amount, n.From, entryID)
				return nil
			}
			return err
		}
		if !entry.Open {
			log.Printf("⚠️  deposit of %d from %s references retired entry %d", n.Amount, n.From, entryID)
			return nil
		}

		total, aerr := safeint.Add(entry.Amount, n.Amount)
		if aerr != nil {
			return aerr
		}
		if err := tx.Model(&entry).Update("amount", total).Error; err != nil {
			return err
		}
		credited = true
		log.Printf("💰 entry %d funded with %d from %s, total %d", entry.ID, n.Amount, n.From, total)
		return nil
	})
	if err != nil {
		return errorJSON(c, err)
	}

	if credited {
		if _, aerr := s.Admission.TryActivate(entryID); aerr != nil {
			log.Printf("❌ activation of entry %d after deposit failed: %v", entryID, aerr)
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// RefundEntry handles POST /entries/:id/refund. Only the owner of an entry
// that never made it into a contest can pull its funds back out.
func (s *EntryService) RefundEntry(c *fiber.Ctx) error {
	entryID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid entry id"})
	}

	if err := s.refund(middleware.CallerAccount(c), entryID); err != nil {
		log.Printf("❌ refund of entry %d failed: %v", entryID, err)
		return errorJSON(c, err)
	}
	s.Payouts.DispatchPending()
	return c.JSON(fiber.Map{"status": "refunded"})
}

func (s *EntryService) refund(account string, entryID uint64) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		profile, err := profileByAccount(tx, account)
		if err != nil {
			return err
		}

		var entry models.Entry
		if err := forUpdate(tx).First(&entry, "id = ?", entryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("entry %d: %w", entryID, ErrNotFound)
			}
			return err
		}
		if entry.UserID != profile.ID {
			return fmt.Errorf("entry %d belongs to another user: %w", entryID, ErrForbidden)
		}
		if entry.ContestID != 0 {
			return fmt.Errorf("entry %d already joined contest %d: %w", entryID, entry.ContestID, ErrPrecondition)
		}
		if entry.Amount <= 0 {
			return fmt.Errorf("entry %d holds no funds: %w", entryID, ErrPrecondition)
		}

		refunded := entry.Amount
		if err := s.Payouts.Queue(tx, profile.Account, refunded, "refund"); err != nil {
			return fmt.Errorf("refund payout for entry %d: %w", entryID, err)
		}

		if err := tx.Model(&entry).Updates(map[string]interface{}{
			"amount":            0,
			"open":              false,
			"price_unavailable": false,
		}).Error; err != nil {
			return err
		}

		log.Printf("💸 entry %d refund of %d queued for %s", entry.ID, refunded, profile.Account)
		return nil
	})
}

type castVoteRequest struct {
	EntryID uint64 `json:"entry_id"`
}

// CastVote handles POST /votes. One vote per voter per contest, only while
// the contest's vote window is open.
func (s *EntryService) CastVote(c *fiber.Ctx) error {
	var req castVoteRequest
	if err := c.BodyParser(&req); err != nil || req.EntryID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "entry_id is required"})
	}

	if err := s.vote(middleware.CallerAccount(c), req.EntryID); err != nil {
		log.Printf("❌ vote on entry %d failed: %v", req.EntryID, err)
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "voted"})
}

func (s *EntryService) vote(account string, entryID uint64) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		voter, err := profileByAccount(tx, account)
		if err != nil {
			return err
		}
		if !voter.Active {
			return fmt.Errorf("profile %s is inactive: %w", voter.ID, ErrForbidden)
		}

		var entry models.Entry
		if err := forUpdate(tx).First(&entry, "id = ?", entryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("entry %d: %w", entryID, ErrNotFound)
			}
			return err
		}
		if entry.ContestID == 0 {
			return fmt.Errorf("entry %d is not competing yet: %w", entryID, ErrPrecondition)
		}
		if entry.Blocked {
			return fmt.Errorf("entry %d is blocked: %w", entryID, ErrPrecondition)
		}

		var contest models.Contest
		if err := tx.First(&contest, "id = ?", entry.ContestID).Error; err != nil {
			return err
		}
		now := s.Clock.Now().UTC()
		if !now.After(contest.VoteStartAt) || now.After(contest.VoteEndAt) {
			return fmt.Errorf("contest %d is not in its vote window: %w", contest.ID, ErrPrecondition)
		}

		var existing int64
		if err := tx.Model(&models.Vote{}).
			Where("contest_id = ? AND voter_user_id = ?", contest.ID, voter.ID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return fmt.Errorf("already voted in contest %d: %w", contest.ID, ErrConflict)
		}

		vote := models.Vote{
			ContestID:   contest.ID,
			EntryID:     entry.ID,
			VoterUserID: voter.ID,
			CreatedAt:   now,
		}
		if err := tx.Create(&vote).Error; err != nil {
			return err
		}

		votes, aerr := safeint.Add(entry.Votes, 1)
		if aerr != nil {
			return aerr
		}
		if err := tx.Model(&entry).Update("votes", votes).Error; err != nil {
			return err
		}

		log.Printf("📈 vote cast by %s for entry %d in contest %d (%d votes)", voter.ID, entry.ID, contest.ID, votes)
		return nil
	})
}

// BlockEntry handles POST /admin/entries/:id/block. Blocking an entry that
// already collected a prize claws the credit back from the owner's winnings.
func (s *EntryService) BlockEntry(c *fiber.Ctx) error {
	return s.setBlocked(c, true)
}

// UnblockEntry handles POST /admin/entries/:id/unblock and restores a
// clawed-back prize.
func (s *EntryService) UnblockEntry(c *fiber.Ctx) error {
	return s.setBlocked(c, false)
}

func (s *EntryService) setBlocked(c *fiber.Ctx, blocked bool) error {
	entryID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid entry id"})
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var entry models.Entry
		if err := forUpdate(tx).First(&entry, "id = ?", entryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("entry %d: %w", entryID, ErrNotFound)
			}
			return err
		}
		if entry.Blocked == blocked {
			return nil
		}

		if entry.PrizeGiven > 0 {
			if blocked && !entry.PrizeRevoked {
				if err := s.adjustWinnings(tx, entry.UserID, -entry.PrizeGiven); err != nil {
					return err
				}
				if err := tx.Model(&entry).Update("prize_revoked", true).Error; err != nil {
					return err
				}
			}
			if !blocked && entry.PrizeRevoked {
				if err := s.adjustWinnings(tx, entry.UserID, entry.PrizeGiven); err != nil {
					return err
				}
				if err := tx.Model(&entry).Update("prize_revoked", false).Error; err != nil {
					return err
				}
			}
		}

		if err := tx.Model(&entry).Update("blocked", blocked).Error; err != nil {
			return err
		}
		log.Printf("🚫 entry %d blocked=%v", entry.ID, blocked)
		return nil
	})
	if err != nil {
		log.Printf("❌ moderation of entry %d failed: %v", entryID, err)
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *EntryService) adjustWinnings(tx *gorm.DB, profileID string, delta int64) error {
	var profile models.Profile
	if err := forUpdate(tx).First(&profile, "id = ?", profileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("profile %s: %w", profileID, ErrNotFound)
		}
		return err
	}
	next, err := safeint.Add(profile.Winnings, delta)
	if err != nil {
		return err
	}
	if next < 0 {
		return fmt.Errorf("profile %s winnings would go negative (%d%+d): %w", profileID, profile.Winnings, delta, ErrPrecondition)
	}
	return tx.Model(&profile).Update("winnings", next).Error
}

// GetEntry handles GET /entries/:id.
func (s *EntryService) GetEntry(c *fiber.Ctx) error {
	var entry models.Entry
	if err := s.DB.First(&entry, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "entry not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(entry)
}

// ListContestEntries handles GET /contests/:id/entries, most-voted first.
func (s *EntryService) ListContestEntries(c *fiber.Ctx) error {
	var entries []models.Entry
	if err := s.DB.Where("contest_id = ?", c.Params("id")).
		Order("votes DESC, id ASC").
		Find(&entries).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch entries"})
	}
	return c.JSON(entries)
}
