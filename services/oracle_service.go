package services

import (
	"errors"
	"fmt"
	"log"

	"contest-engine/models"
	"contest-engine/safeint"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

// OracleService maintains the rolling window of external price samples and
// answers the two questions admission cares about: the maximum observed high
// since a point in time, and whether the freshest sample is still usable.
type OracleService struct {
	DB      *gorm.DB
	Options *OptionService
	Clock   clockwork.Clock
}

func NewOracleService(db *gorm.DB, options *OptionService, clock clockwork.Clock) *OracleService {
	return &OracleService{DB: db, Options: options, Clock: clock}
}

// Record inserts a new sample and prunes everything older than the retention
// horizon. Samples that are already outside the horizon are rejected.
func (s *OracleService) Record(db *gorm.DB, openTime, high, intervalSec int64) error {
	if high <= 0 {
		return fmt.Errorf("high price must be positive: %w", ErrPrecondition)
	}
	if intervalSec <= 0 {
		return fmt.Errorf("interval must be positive: %w", ErrPrecondition)
	}

	retention, err := s.Options.GetInt(db, OptEntryExpiry, DefaultEntryExpiry)
	if err != nil {
		return err
	}
	now := s.Clock.Now().Unix()
	cutoff, err := safeint.Sub(now, retention)
	if err != nil {
		return err
	}
	if openTime <= cutoff {
		return fmt.Errorf("open time %d is outside the retention window: %w", openTime, ErrPrecondition)
	}

	// Indexed range delete from the cutoff boundary down, never a full scan.
	res := db.Where("open_time < ?", cutoff).Delete(&models.PriceSample{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("(notice) pruned %d expired price sample(s)", res.RowsAffected)
	}

	end, err := safeint.Add(openTime, intervalSec)
	if err != nil {
		return err
	}
	sample := models.PriceSample{OpenTime: openTime, High: high, IntervalSec: intervalSec, EndTime: end}
	if err := db.Create(&sample).Error; err != nil {
		return fmt.Errorf("sample for open time %d already recorded: %w", openTime, ErrConflict)
	}
	return nil
}

// MaxHighSince returns the maximum high over samples whose interval end is at
// or after t, scanning in ascending end-time order. Zero means no data.
func (s *OracleService) MaxHighSince(db *gorm.DB, t int64) (int64, error) {
	var samples []models.PriceSample
	if err := db.Where("end_time >= ?", t).Order("end_time ASC").Find(&samples).Error; err != nil {
		return 0, err
	}
	var high int64
	for _, sample := range samples {
		if sample.High > high {
			high = sample.High
		}
	}
	return high, nil
}

// LatestSample returns the sample with the greatest interval end, or ok=false
// when the window is empty. Callers must treat the empty window as "price
// unavailable" rather than assuming data exists.
func (s *OracleService) LatestSample(db *gorm.DB) (models.PriceSample, bool, error) {
	var sample models.PriceSample
	if err := db.Order("end_time DESC").First(&sample).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.PriceSample{}, false, nil
		}
		return models.PriceSample{}, false, err
	}
	return sample, true, nil
}

// IsFresh reports whether the latest sample's interval end plus the freshness
// budget is still ahead of now. An empty window is never fresh.
func (s *OracleService) IsFresh(db *gorm.DB, now int64) (bool, error) {
	latest, ok, err := s.LatestSample(db)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	budget, err := s.Options.GetInt(db, OptPriceFreshness, DefaultPriceFreshness)
	if err != nil {
		return false, err
	}
	limit, err := safeint.Add(latest.EndTime, budget)
	if err != nil {
		return false, err
	}
	return limit > now, nil
}

// RecordSampleEndpoint handles POST /admin/oracle/samples.
func (s *OracleService) RecordSampleEndpoint(c *fiber.Ctx) error {
	var req struct {
		OpenTime    int64 `json:"open_time"`
		High        int64 `json:"high"`
		IntervalSec int64 `json:"interval_sec"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := s.Record(s.DB, req.OpenTime, req.High, req.IntervalSec); err != nil {
		return errorJSON(c, err)
	}

	log.Printf("📈 price sample recorded: open=%d high=%d interval=%ds", req.OpenTime, req.High, req.IntervalSec)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "sample recorded"})
}
