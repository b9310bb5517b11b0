package services

import (
	"errors"
	"fmt"
	"log"

	"contest-engine/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// LevelService manages categories and the level templates contests spawn
// from. Edits never touch running contests; every timing and pricing field is
// copied onto a contest at spawn.
type LevelService struct {
	DB *gorm.DB
}

func NewLevelService(db *gorm.DB) *LevelService {
	return &LevelService{DB: db}
}

type categoryRequest struct {
	Name           string `json:"name"`
	MaxVideoLength *int   `json:"max_video_length"`
	Archived       *bool  `json:"archived"`
}

// CreateCategory handles POST /admin/categories.
func (s *LevelService) CreateCategory(c *fiber.Ctx) error {
	var req categoryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}

	category := models.Category{
		ID:   slug.Make(req.Name),
		Name: req.Name,
	}
	if req.MaxVideoLength != nil {
		category.MaxVideoLength = *req.MaxVideoLength
	}

	if err := s.DB.Create(&category).Error; err != nil {
		log.Printf("❌ category creation failed: %v", err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "category already exists or could not be created"})
	}

	log.Printf("✅ category %s created", category.ID)
	return c.Status(fiber.StatusCreated).JSON(category)
}

// UpdateCategory handles PUT /admin/categories/:id.
func (s *LevelService) UpdateCategory(c *fiber.Ctx) error {
	var req categoryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	var category models.Category
	if err := s.DB.First(&category, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "category not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	updates := map[string]interface{}{}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.MaxVideoLength != nil {
		updates["max_video_length"] = *req.MaxVideoLength
	}
	if req.Archived != nil {
		updates["archived"] = *req.Archived
	}
	if len(updates) > 0 {
		if err := s.DB.Model(&category).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to update category"})
		}
	}
	return c.JSON(category)
}

// ListCategories handles GET /categories. Archived categories stay listed;
// they just no longer accept levels or entries.
func (s *LevelService) ListCategories(c *fiber.Ctx) error {
	var categories []models.Category
	if err := s.DB.Order("name ASC").Find(&categories).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch categories"})
	}
	return c.JSON(categories)
}

type levelRequest struct {
	Name             string  `json:"name"`
	CategoryID       string  `json:"category_id"`
	Price            *int64  `json:"price"`
	ParticipantLimit *int    `json:"participant_limit"`
	SubmissionPeriod *int64  `json:"submission_period"`
	VotePeriod       *int64  `json:"vote_period"`
	Fee              *int64  `json:"fee"`
	Prizes           []int64 `json:"prizes"`
	FixedPrize       *int64  `json:"fixed_prize"`
	MaxOpenContests  *int    `json:"max_open_contests"`
	VoteStartHour    *int    `json:"vote_start_hour"`
	Archived         *bool   `json:"archived"`
}

func validateLevelNumbers(fee int64, participantLimit int, submissionPeriod, votePeriod int64, prizes []int64, voteStartHour *int) error {
	if fee < 0 || fee >= 1000 {
		return fmt.Errorf("fee must be in [0, 1000) parts per thousand, got %d", fee)
	}
	if participantLimit < 1 {
		return fmt.Errorf("participant_limit must be at least 1, got %d", participantLimit)
	}
	if submissionPeriod <= 0 || votePeriod <= 0 {
		return fmt.Errorf("submission_period and vote_period must be positive")
	}
	for i, w := range prizes {
		if w < 0 {
			return fmt.Errorf("prize weight %d is negative", i)
		}
	}
	if voteStartHour != nil && (*voteStartHour < 0 || *voteStartHour > 23) {
		return fmt.Errorf("vote_start_hour must be in [0, 23], got %d", *voteStartHour)
	}
	return nil
}

// CreateLevel handles POST /admin/levels.
func (s *LevelService) CreateLevel(c *fiber.Ctx) error {
	var req levelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Name == "" || req.CategoryID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name and category_id are required"})
	}
	if req.ParticipantLimit == nil || req.SubmissionPeriod == nil || req.VotePeriod == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "participant_limit, submission_period and vote_period are required"})
	}

	level := models.Level{
		ID:               slug.Make(req.Name),
		CategoryID:       req.CategoryID,
		Name:             req.Name,
		ParticipantLimit: *req.ParticipantLimit,
		SubmissionPeriod: *req.SubmissionPeriod,
		VotePeriod:       *req.VotePeriod,
		Prizes:           req.Prizes,
		VoteStartHour:    req.VoteStartHour,
	}
	if req.Price != nil {
		level.Price = *req.Price
	}
	if req.Fee != nil {
		level.Fee = *req.Fee
	}
	if req.FixedPrize != nil {
		level.FixedPrize = *req.FixedPrize
	}
	if req.MaxOpenContests != nil {
		level.MaxOpenContests = *req.MaxOpenContests
	}

	if err := validateLevelNumbers(level.Fee, level.ParticipantLimit, level.SubmissionPeriod, level.VotePeriod, level.Prizes, level.VoteStartHour); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var category models.Category
		if err := tx.First(&category, "id = ?", level.CategoryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("category %s: %w", level.CategoryID, ErrNotFound)
			}
			return err
		}
		if category.Archived {
			return fmt.Errorf("category %s is archived: %w", category.ID, ErrPrecondition)
		}
		return tx.Create(&level).Error
	})
	if err != nil {
		log.Printf("❌ level creation failed: %v", err)
		return errorJSON(c, err)
	}

	log.Printf("✅ level %s created in category %s", level.ID, level.CategoryID)
	return c.Status(fiber.StatusCreated).JSON(level)
}

// UpdateLevel handles PUT /admin/levels/:id. Running contests keep the values
// they spawned with.
func (s *LevelService) UpdateLevel(c *fiber.Ctx) error {
	var req levelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	var level models.Level
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&level, "id = ?", c.Params("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("level %s: %w", c.Params("id"), ErrNotFound)
			}
			return err
		}

		next := level
		if req.Name != "" {
			next.Name = req.Name
		}
		if req.Price != nil {
			next.Price = *req.Price
		}
		if req.ParticipantLimit != nil {
			next.ParticipantLimit = *req.ParticipantLimit
		}
		if req.SubmissionPeriod != nil {
			next.SubmissionPeriod = *req.SubmissionPeriod
		}
		if req.VotePeriod != nil {
			next.VotePeriod = *req.VotePeriod
		}
		if req.Fee != nil {
			next.Fee = *req.Fee
		}
		if req.Prizes != nil {
			next.Prizes = req.Prizes
		}
		if req.FixedPrize != nil {
			next.FixedPrize = *req.FixedPrize
		}
		if req.MaxOpenContests != nil {
			next.MaxOpenContests = *req.MaxOpenContests
		}
		if req.VoteStartHour != nil {
			next.VoteStartHour = req.VoteStartHour
		}
		if req.Archived != nil {
			next.Archived = *req.Archived
		}

		if err := validateLevelNumbers(next.Fee, next.ParticipantLimit, next.SubmissionPeriod, next.VotePeriod, next.Prizes, next.VoteStartHour); err != nil {
			return fmt.Errorf("%v: %w", err, ErrPrecondition)
		}

		if req.CategoryID != "" && req.CategoryID != level.CategoryID {
			var category models.Category
			if err := tx.First(&category, "id = ?", req.CategoryID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("category %s: %w", req.CategoryID, ErrNotFound)
				}
				return err
			}
			if category.Archived {
				return fmt.Errorf("category %s is archived: %w", category.ID, ErrPrecondition)
			}
			next.CategoryID = req.CategoryID
		}

		level = next
		return tx.Save(&level).Error
	})
	if err != nil {
		log.Printf("❌ level update failed: %v", err)
		return errorJSON(c, err)
	}
	return c.JSON(level)
}

// ListLevels handles GET /levels?category_id=.
func (s *LevelService) ListLevels(c *fiber.Ctx) error {
	db := s.DB.Where("archived = ?", false).Order("name ASC")
	if categoryID := c.Query("category_id"); categoryID != "" {
		db = db.Where("category_id = ?", categoryID)
	}

	var levels []models.Level
	if err := db.Find(&levels).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch levels"})
	}
	return c.JSON(levels)
}

// GetLevel handles GET /levels/:id.
func (s *LevelService) GetLevel(c *fiber.Ctx) error {
	var level models.Level
	if err := s.DB.Preload("Category").First(&level, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "level not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(level)
}
