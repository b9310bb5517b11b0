package services

import (
	"fmt"
	"testing"
	"time"

	"contest-engine/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testBase is the fake clock's starting instant for every test.
var testBase = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Category{},
		&models.Level{},
		&models.Profile{},
		&models.Entry{},
		&models.Contest{},
		&models.Vote{},
		&models.PriceSample{},
		&models.Option{},
		&models.Payout{},
	))
	return db
}

type transferRecord struct {
	RequestID string
	To        string
	Amount    int64
	Memo      string
}

// fakeLedger records outbound transfers instead of calling the real service.
type fakeLedger struct {
	transfers []transferRecord
	fail      bool
}

func (f *fakeLedger) Transfer(requestID, to string, amount int64, memo string) error {
	if f.fail {
		return fmt.Errorf("ledger unavailable")
	}
	f.transfers = append(f.transfers, transferRecord{RequestID: requestID, To: to, Amount: amount, Memo: memo})
	return nil
}

func (f *fakeLedger) totalTo(account string) int64 {
	var total int64
	for _, tr := range f.transfers {
		if tr.To == account {
			total += tr.Amount
		}
	}
	return total
}

type testEnv struct {
	DB          *gorm.DB
	Clock       *clockwork.FakeClock
	Ledger      *fakeLedger
	Options     *OptionService
	Oracle      *OracleService
	Pool        *ContestPool
	Payouts     *PayoutService
	Admission   *AdmissionService
	Distributor *DistributorService
	Sweeper     *SweeperService
	Entries     *EntryService
	Profiles    *ProfileService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testBase)
	ledger := &fakeLedger{}

	options := NewOptionService(db)
	oracle := NewOracleService(db, options, clock)
	pool := NewContestPool(db)
	payouts := NewPayoutService(db, ledger, clock)
	admission := NewAdmissionService(db, pool, oracle, options, clock)

	return &testEnv{
		DB:          db,
		Clock:       clock,
		Ledger:      ledger,
		Options:     options,
		Oracle:      oracle,
		Pool:        pool,
		Payouts:     payouts,
		Admission:   admission,
		Distributor: NewDistributorService(db, options, payouts, clock),
		Sweeper:     NewSweeperService(db, options, clock),
		Entries:     NewEntryService(db, admission, options, pool, payouts, clock),
		Profiles:    NewProfileService(db, payouts),
	}
}

func (e *testEnv) createProfile(t *testing.T, username, account string) *models.Profile {
	t.Helper()
	profile := models.Profile{
		ID:          uuid.NewString(),
		Username:    username,
		UsernameKey: username, // tests use already-folded names
		Account:     account,
		Active:      true,
	}
	require.NoError(t, e.DB.Create(&profile).Error)
	return &profile
}

func (e *testEnv) createCategory(t *testing.T, id string) *models.Category {
	t.Helper()
	category := models.Category{ID: id, Name: id}
	require.NoError(t, e.DB.Create(&category).Error)
	return &category
}

func (e *testEnv) createLevel(t *testing.T, level models.Level) *models.Level {
	t.Helper()
	if level.CategoryID == "" {
		level.CategoryID = "dance"
		var count int64
		e.DB.Model(&models.Category{}).Where("id = ?", level.CategoryID).Count(&count)
		if count == 0 {
			e.createCategory(t, level.CategoryID)
		}
	}
	if level.Name == "" {
		level.Name = level.ID
	}
	require.NoError(t, e.DB.Create(&level).Error)
	return &level
}

// createEntry inserts an entry directly, bypassing the submission flow.
func (e *testEnv) createEntry(t *testing.T, userID, levelID string, amount int64) *models.Entry {
	t.Helper()
	entry := models.Entry{
		UserID:    userID,
		LevelID:   levelID,
		Amount:    amount,
		Open:      true,
		CreatedAt: e.Clock.Now().UTC(),
	}
	require.NoError(t, e.DB.Create(&entry).Error)
	return &entry
}

// recordSample inserts a fresh price sample ending at the clock's current
// instant, with the given fixed-point high.
func (e *testEnv) recordSample(t *testing.T, high int64) {
	t.Helper()
	now := e.Clock.Now().Unix()
	require.NoError(t, e.Oracle.Record(e.DB, now-60, high, 60))
}

func (e *testEnv) reloadEntry(t *testing.T, id uint64) *models.Entry {
	t.Helper()
	var entry models.Entry
	require.NoError(t, e.DB.First(&entry, "id = ?", id).Error)
	return &entry
}

func (e *testEnv) reloadContest(t *testing.T, id uint64) *models.Contest {
	t.Helper()
	var contest models.Contest
	require.NoError(t, e.DB.First(&contest, "id = ?", id).Error)
	return &contest
}

func (e *testEnv) reloadPayout(t *testing.T, id uint64) *models.Payout {
	t.Helper()
	var payout models.Payout
	require.NoError(t, e.DB.First(&payout, "id = ?", id).Error)
	return &payout
}

func (e *testEnv) reloadProfile(t *testing.T, id string) *models.Profile {
	t.Helper()
	var profile models.Profile
	require.NoError(t, e.DB.First(&profile, "id = ?", id).Error)
	return &profile
}
