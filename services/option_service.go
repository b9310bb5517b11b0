package services

import (
	"fmt"
	"log"
	"strconv"

	"contest-engine/models"
	"contest-engine/safeint"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Option keys. These are the only runtime-tunable knobs; everything else is
// level configuration.
const (
	OptEntryExpiry      = "entryexp"      // seconds an unassigned entry stays activatable; also the oracle retention horizon
	OptPriceFreshness   = "pricefresh"    // max staleness of the latest price sample, seconds
	OptArchiveRetention = "archretention" // seconds after vote end before a paid contest is archived
	OptFeeAccount       = "feeacct"       // ledger account fees and remainders are routed to
	OptFeeMemo          = "feeacctmemo"   // memo attached to fee transfers
	OptCurrency         = "currency"      // currency symbol accepted on deposits, empty = any
	OptPrizeFund        = "prizefund"     // operator-funded reserve backing fixed-prize levels, minor units
)

// Defaults applied when a key is absent.
const (
	DefaultEntryExpiry      = int64(43200)  // 12h
	DefaultPriceFreshness   = int64(900)    // 15m
	DefaultArchiveRetention = int64(604800) // 7d
)

var settableOptions = map[string]bool{
	OptEntryExpiry:      true,
	OptPriceFreshness:   true,
	OptArchiveRetention: true,
	OptFeeAccount:       true,
	OptFeeMemo:          true,
	OptCurrency:         true,
	OptPrizeFund:        true,
}

// OptionService is the key-value configuration register. Methods take the db
// handle explicitly so callers can run them inside their own transactions.
type OptionService struct {
	DB *gorm.DB
}

func NewOptionService(db *gorm.DB) *OptionService {
	return &OptionService{DB: db}
}

// Get returns the value for key, or def when the key is absent.
func (s *OptionService) Get(db *gorm.DB, key, def string) (string, error) {
	var opt models.Option
	if err := db.First(&opt, "key = ?", key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return def, nil
		}
		return "", err
	}
	return opt.Value, nil
}

// GetInt returns the integer value for key, or def when absent or unparsable.
func (s *OptionService) GetInt(db *gorm.DB, key string, def int64) (int64, error) {
	raw, err := s.Get(db, key, "")
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("⚠️  option %s holds non-integer value %q, using default %d", key, raw, def)
		return def, nil
	}
	return v, nil
}

// Set upserts key to value.
func (s *OptionService) Set(db *gorm.DB, key, value string) error {
	opt := models.Option{Key: key, Value: value}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&opt).Error
}

// SetInt upserts an integer option.
func (s *OptionService) SetInt(db *gorm.DB, key string, value int64) error {
	return s.Set(db, key, strconv.FormatInt(value, 10))
}

// AddInt adjusts an integer option by delta with checked arithmetic and
// returns the new value. The result may not go negative. The read locks the
// option row so concurrent adjustments (prize fund credits vs. reservations)
// serialize instead of losing updates.
func (s *OptionService) AddInt(db *gorm.DB, key string, delta int64) (int64, error) {
	cur, err := s.GetInt(forUpdate(db), key, 0)
	if err != nil {
		return 0, err
	}
	next, err := safeint.Add(cur, delta)
	if err != nil {
		return 0, err
	}
	if next < 0 {
		return 0, fmt.Errorf("option %s would go negative (%d%+d): %w", key, cur, delta, ErrPrecondition)
	}
	if err := s.SetInt(db, key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// SetOptionEndpoint handles PUT /admin/options/:key.
func (s *OptionService) SetOptionEndpoint(c *fiber.Ctx) error {
	key := c.Params("key")
	if !settableOptions[key] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown option key"})
	}

	var req struct {
		Value string `json:"value"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := s.Set(s.DB, key, req.Value); err != nil {
		log.Printf("DB error setting option %s: %v", key, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to set option"})
	}

	log.Printf("⚙️  option %s set to %q", key, req.Value)
	return c.JSON(fiber.Map{"key": key, "value": req.Value})
}

// GetOptionsEndpoint handles GET /admin/options.
func (s *OptionService) GetOptionsEndpoint(c *fiber.Ctx) error {
	var opts []models.Option
	if err := s.DB.Find(&opts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch options"})
	}
	return c.JSON(opts)
}
