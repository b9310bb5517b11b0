package services

import (
	"errors"
	"testing"
	"time"

	"contest-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPrunesExpiredSamples(t *testing.T) {
	env := newTestEnv(t)
	now := env.Clock.Now().Unix()

	// One sample just inside the retention window, one well outside it.
	inside := now - DefaultEntryExpiry + 120
	require.NoError(t, env.Oracle.Record(env.DB, inside, 500_000, 60))

	env.Clock.Advance(200 * time.Second)
	require.NoError(t, env.Oracle.Record(env.DB, env.Clock.Now().Unix()-60, 600_000, 60))

	var remaining []models.PriceSample
	require.NoError(t, env.DB.Order("open_time ASC").Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, int64(600_000), remaining[0].High)
}

func TestRecordRejectsOutOfWindowSample(t *testing.T) {
	env := newTestEnv(t)
	stale := env.Clock.Now().Unix() - DefaultEntryExpiry - 10

	err := env.Oracle.Record(env.DB, stale, 500_000, 60)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPrecondition))
}

func TestRecordRejectsDuplicateOpenTime(t *testing.T) {
	env := newTestEnv(t)
	open := env.Clock.Now().Unix() - 60

	require.NoError(t, env.Oracle.Record(env.DB, open, 500_000, 60))
	err := env.Oracle.Record(env.DB, open, 700_000, 60)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestRecordRejectsNonPositiveValues(t *testing.T) {
	env := newTestEnv(t)
	open := env.Clock.Now().Unix() - 60

	assert.Error(t, env.Oracle.Record(env.DB, open, 0, 60))
	assert.Error(t, env.Oracle.Record(env.DB, open, 500_000, 0))
}

func TestMaxHighSince(t *testing.T) {
	env := newTestEnv(t)
	now := env.Clock.Now().Unix()

	require.NoError(t, env.Oracle.Record(env.DB, now-300, 800_000, 60)) // ends now-240
	require.NoError(t, env.Oracle.Record(env.DB, now-120, 500_000, 60)) // ends now-60
	require.NoError(t, env.Oracle.Record(env.DB, now-60, 650_000, 60))  // ends now

	high, err := env.Oracle.MaxHighSince(env.DB, now-240)
	require.NoError(t, err)
	assert.Equal(t, int64(800_000), high)

	// A later horizon excludes the old peak.
	high, err = env.Oracle.MaxHighSince(env.DB, now-30)
	require.NoError(t, err)
	assert.Equal(t, int64(650_000), high)

	high, err = env.Oracle.MaxHighSince(env.DB, now+10)
	require.NoError(t, err)
	assert.Zero(t, high)
}

func TestIsFresh(t *testing.T) {
	env := newTestEnv(t)

	// Empty window is never fresh, whatever the budget.
	fresh, err := env.Oracle.IsFresh(env.DB, env.Clock.Now().Unix())
	require.NoError(t, err)
	assert.False(t, fresh)

	env.recordSample(t, 500_000)
	fresh, err = env.Oracle.IsFresh(env.DB, env.Clock.Now().Unix())
	require.NoError(t, err)
	assert.True(t, fresh)

	// Past the freshness budget the sample goes stale.
	stale := env.Clock.Now().Unix() + DefaultPriceFreshness + 1
	fresh, err = env.Oracle.IsFresh(env.DB, stale)
	require.NoError(t, err)
	assert.False(t, fresh)
}
