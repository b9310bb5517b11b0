package services

import (
	"errors"
	"fmt"
	"log"

	"contest-engine/middleware"
	"contest-engine/models"
	"contest-engine/safeint"
	"contest-engine/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProfileService manages participant identities and their claimable winnings.
type ProfileService struct {
	DB      *gorm.DB
	Payouts *PayoutService
}

func NewProfileService(db *gorm.DB, payouts *PayoutService) *ProfileService {
	return &ProfileService{DB: db, Payouts: payouts}
}

type createProfileRequest struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Account  string `json:"account"`
	ImgHash  string `json:"img_hash"`
}

// CreateProfile handles POST /admin/profiles.
func (s *ProfileService) CreateProfile(c *fiber.Ctx) error {
	var req createProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Account == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "account is required"})
	}
	if err := utils.ValidateUsername(req.Username); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	profile := models.Profile{
		ID:          req.ID,
		Username:    req.Username,
		UsernameKey: utils.UsernameKey(req.Username),
		Account:     req.Account,
		ImgHash:     req.ImgHash,
		Active:      true,
	}
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := s.checkUsernameFree(tx, profile.UsernameKey, ""); err != nil {
			return err
		}
		return tx.Create(&profile).Error
	})
	if err != nil {
		log.Printf("❌ profile creation for %q failed: %v", req.Username, err)
		return errorJSON(c, err)
	}

	log.Printf("✅ profile %s created for account %s", profile.ID, profile.Account)
	return c.Status(fiber.StatusCreated).JSON(profile)
}

type updateProfileRequest struct {
	Username *string `json:"username"`
	ImgHash  *string `json:"img_hash"`
	Account  *string `json:"account"`
	Active   *bool   `json:"active"`
}

// UpdateProfileSelf handles PUT /profiles/:id. Callers may only touch their
// own profile, and only the cosmetic fields.
func (s *ProfileService) UpdateProfileSelf(c *fiber.Ctx) error {
	var req updateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	// Account linkage and active state are operator decisions.
	req.Account = nil
	req.Active = nil

	profile, err := s.update(c.Params("id"), &req, middleware.CallerAccount(c))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(profile)
}

// UpdateProfileAdmin handles PUT /admin/profiles/:id.
func (s *ProfileService) UpdateProfileAdmin(c *fiber.Ctx) error {
	var req updateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	profile, err := s.update(c.Params("id"), &req, "")
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(profile)
}

// update applies the edit. A non-empty ownerAccount enforces self-service
// authorization against the profile's linked account.
func (s *ProfileService) update(id string, req *updateProfileRequest, ownerAccount string) (*models.Profile, error) {
	var profile models.Profile
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&profile, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("profile %s: %w", id, ErrNotFound)
			}
			return err
		}
		if ownerAccount != "" && profile.Account != ownerAccount {
			return fmt.Errorf("profile %s belongs to another account: %w", id, ErrForbidden)
		}

		updates := map[string]interface{}{}
		if req.Username != nil && *req.Username != profile.Username {
			if err := utils.ValidateUsername(*req.Username); err != nil {
				return fmt.Errorf("%v: %w", err, ErrPrecondition)
			}
			key := utils.UsernameKey(*req.Username)
			if key != profile.UsernameKey {
				if err := s.checkUsernameFree(tx, key, profile.ID); err != nil {
					return err
				}
			}
			updates["username"] = *req.Username
			updates["username_key"] = key
		}
		if req.ImgHash != nil {
			updates["img_hash"] = *req.ImgHash
		}
		if req.Account != nil {
			updates["account"] = *req.Account
		}
		if req.Active != nil {
			updates["active"] = *req.Active
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&profile).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	if err := s.DB.First(&profile, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// checkUsernameFree rejects usernames whose folded collision key is already
// taken by another profile, so "АdmIn" cannot impersonate "admin".
func (s *ProfileService) checkUsernameFree(tx *gorm.DB, key, ownerID string) error {
	var existing models.Profile
	err := tx.First(&existing, "username_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID == ownerID {
		return nil
	}
	return fmt.Errorf("username too similar to existing user %q: %w", existing.Username, ErrConflict)
}

type claimRequest struct {
	Amount int64 `json:"amount"` // 0 = claim everything
}

// Claim handles POST /profiles/:id/claim: moves claimable winnings out to the
// owner's ledger account.
func (s *ProfileService) Claim(c *fiber.Ctx) error {
	// Body is optional; an absent or empty amount claims the full balance.
	var req claimRequest
	_ = c.BodyParser(&req)
	if req.Amount < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount must be non-negative"})
	}

	claimed, err := s.claim(c.Params("id"), middleware.CallerAccount(c), req.Amount)
	if err != nil {
		log.Printf("❌ claim on profile %s failed: %v", c.Params("id"), err)
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{"status": "claimed", "amount": claimed})
}

func (s *ProfileService) claim(id, account string, amount int64) (int64, error) {
	var claimed int64
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var profile models.Profile
		// Locked so two concurrent claims cannot both see the same balance.
		if err := forUpdate(tx).First(&profile, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("profile %s: %w", id, ErrNotFound)
			}
			return err
		}
		if profile.Account != account {
			return fmt.Errorf("profile %s belongs to another account: %w", id, ErrForbidden)
		}
		if !profile.Active {
			return fmt.Errorf("profile %s is inactive: %w", id, ErrForbidden)
		}

		claimed = amount
		if claimed == 0 {
			claimed = profile.Winnings
		}
		if claimed <= 0 {
			return fmt.Errorf("nothing to claim: %w", ErrPrecondition)
		}

		remaining, err := safeint.Sub(profile.Winnings, claimed)
		if err != nil {
			return err
		}
		if remaining < 0 {
			return fmt.Errorf("claim of %d exceeds winnings %d: %w", claimed, profile.Winnings, ErrPrecondition)
		}

		if err := s.Payouts.Queue(tx, profile.Account, claimed, "winnings"); err != nil {
			return fmt.Errorf("claim payout for profile %s: %w", id, err)
		}
		if err := tx.Model(&profile).Update("winnings", remaining).Error; err != nil {
			return err
		}

		log.Printf("💸 profile %s claimed %d, %d remaining", profile.ID, claimed, remaining)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.Payouts.DispatchPending()
	return claimed, nil
}

// GetProfile handles GET /profiles/:id.
func (s *ProfileService) GetProfile(c *fiber.Ctx) error {
	var profile models.Profile
	if err := s.DB.First(&profile, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "profile not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(profile)
}
