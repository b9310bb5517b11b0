package services

import (
	"errors"
	"time"

	"contest-engine/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// ContestPool answers which contest instance, if any, a level's next entry
// lands in, and how many rounds of a level are still running.
type ContestPool struct {
	DB *gorm.DB
}

func NewContestPool(db *gorm.DB) *ContestPool {
	return &ContestPool{DB: db}
}

// FindOpenContest returns the most recently created contest for the level
// that still accepts submissions. Uses the (level_id, submissions_closed)
// index so open instances are found without walking closed ones.
func (p *ContestPool) FindOpenContest(db *gorm.DB, levelID string) (*models.Contest, bool, error) {
	var contest models.Contest
	err := db.Where("level_id = ? AND submissions_closed = ?", levelID, false).
		Order("id DESC").
		First(&contest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &contest, true, nil
}

// IsEligible reports whether the contest can take one more entry right now:
// capacity remaining and the submission deadline (vote start) not yet passed.
func (p *ContestPool) IsEligible(contest *models.Contest, now time.Time) bool {
	if contest == nil {
		return false
	}
	if contest.ParticipantCount >= contest.ParticipantLimit {
		return false
	}
	return !now.After(contest.VoteStartAt)
}

// CountConcurrentOpen counts the level's contests whose vote window has not
// ended yet. Enforced at submission and again at admission, because funding
// can arrive well after the submission that triggered it.
func (p *ContestPool) CountConcurrentOpen(db *gorm.DB, levelID string, now time.Time) (int64, error) {
	var count int64
	err := db.Model(&models.Contest{}).
		Where("level_id = ? AND vote_end_at >= ?", levelID, now).
		Count(&count).Error
	return count, err
}

// VoteWindow derives the vote start and end for a contest spawned from level
// at createdAt. Vote start is the submission end, pushed forward to the next
// occurrence of the level's configured UTC hour when one is set.
func VoteWindow(level *models.Level, createdAt time.Time) (time.Time, time.Time) {
	start := createdAt.UTC().Add(time.Duration(level.SubmissionPeriod) * time.Second)
	if level.VoteStartHour != nil {
		h := *level.VoteStartHour
		atHour := time.Date(start.Year(), start.Month(), start.Day(), h, 0, 0, 0, time.UTC)
		if atHour.Before(start) {
			atHour = atHour.Add(24 * time.Hour)
		}
		start = atHour
	}
	end := start.Add(time.Duration(level.VotePeriod) * time.Second)
	return start, end
}

// --- Read handlers ---

// ListContests handles GET /contests?level_id=&open=.
func (p *ContestPool) ListContests(c *fiber.Ctx) error {
	db := p.DB.Model(&models.Contest{}).Order("id DESC").Limit(100)
	if levelID := c.Query("level_id"); levelID != "" {
		db = db.Where("level_id = ?", levelID)
	}
	if c.Query("open") == "true" {
		db = db.Where("submissions_closed = ?", false)
	}

	var contests []models.Contest
	if err := db.Find(&contests).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch contests"})
	}
	return c.JSON(contests)
}

// GetContest handles GET /contests/:id.
func (p *ContestPool) GetContest(c *fiber.Ctx) error {
	var contest models.Contest
	if err := p.DB.First(&contest, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "contest not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(contest)
}
