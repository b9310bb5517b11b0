package services

import (
	"errors"
	"testing"
	"time"

	"contest-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seated is a settled-contest fixture participant.
type seated struct {
	owner  string
	amount int64
	votes  int64
}

// endedContest inserts a level, a contest whose vote window closed an hour
// ago, and one funded entry per participant.
func endedContest(t *testing.T, env *testEnv, weights []int64, fee int64, fixedPrize int64, participants []seated) *models.Contest {
	t.Helper()

	level := models.Level{
		ID:               "finals",
		ParticipantLimit: 10,
		SubmissionPeriod: 3600,
		VotePeriod:       3600,
		Fee:              fee,
		Prizes:           weights,
	}
	env.createLevel(t, level)

	now := env.Clock.Now().UTC()
	contest := models.Contest{
		LevelID:          "finals",
		ParticipantLimit: 10,
		ParticipantCount: len(participants),
		Fee:              fee,
		Prizes:           weights,
		FixedPrize:       fixedPrize,
		VoteStartAt:      now.Add(-2 * time.Hour),
		VoteEndAt:        now.Add(-1 * time.Hour),
	}
	require.NoError(t, env.DB.Create(&contest).Error)

	for _, p := range participants {
		entry := models.Entry{
			UserID:    p.owner,
			LevelID:   "finals",
			ContestID: contest.ID,
			Amount:    p.amount,
			Votes:     p.votes,
			Open:      true,
		}
		require.NoError(t, env.DB.Create(&entry).Error)
	}
	return &contest
}

func TestSettleProportionalPayout(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Options.Set(env.DB, OptFeeAccount, "treasury"))
	require.NoError(t, env.Options.Set(env.DB, OptFeeMemo, "contest fees"))

	winner1 := env.createProfile(t, "winner.one", "acct1")
	winner2 := env.createProfile(t, "winner.two", "acct2")
	tied1 := env.createProfile(t, "tied.one", "acct3")
	tied2 := env.createProfile(t, "tied.two", "acct4")

	// Pool 1003, 10% fee, weights 3:2:1 over tiers of 1, 1 and 2 entries.
	// Net 903 splits 3:2:0.5:0.5; integer floors leave 101 for the collector.
	contest := endedContest(t, env, []int64{3, 2, 1}, 100, 0, []seated{
		{winner1.ID, 251, 5},
		{winner2.ID, 251, 3},
		{tied1.ID, 251, 1},
		{tied2.ID, 250, 1},
	})

	require.NoError(t, env.Distributor.Settle(contest.ID))

	assert.Equal(t, int64(451), env.reloadProfile(t, winner1.ID).Winnings)
	assert.Equal(t, int64(301), env.reloadProfile(t, winner2.ID).Winnings)
	assert.Equal(t, int64(75), env.reloadProfile(t, tied1.ID).Winnings)
	assert.Equal(t, int64(75), env.reloadProfile(t, tied2.ID).Winnings)

	require.Len(t, env.Ledger.transfers, 1)
	assert.Equal(t, "treasury", env.Ledger.transfers[0].To)
	assert.Equal(t, int64(101), env.Ledger.transfers[0].Amount)
	assert.Equal(t, "contest fees", env.Ledger.transfers[0].Memo)

	// Conservation: every minor unit of the pool lands somewhere.
	total := env.Ledger.totalTo("treasury")
	for _, id := range []string{winner1.ID, winner2.ID, tied1.ID, tied2.ID} {
		total += env.reloadProfile(t, id).Winnings
	}
	assert.Equal(t, int64(1003), total)

	assert.True(t, env.reloadContest(t, contest.ID).Paid)
}

func TestSettleIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Options.Set(env.DB, OptFeeAccount, "treasury"))

	winner := env.createProfile(t, "winner.one", "acct1")
	contest := endedContest(t, env, []int64{1}, 100, 0, []seated{
		{winner.ID, 1000, 2},
	})

	require.NoError(t, env.Distributor.Settle(contest.ID))
	require.NoError(t, env.Distributor.Settle(contest.ID))
	require.NoError(t, env.Distributor.Settle(contest.ID))

	assert.Equal(t, int64(900), env.reloadProfile(t, winner.ID).Winnings)
	assert.Len(t, env.Ledger.transfers, 1)
}

func TestSettleRefusesOpenVoteWindow(t *testing.T) {
	env := newTestEnv(t)
	winner := env.createProfile(t, "winner.one", "acct1")
	contest := endedContest(t, env, []int64{1}, 0, 0, []seated{
		{winner.ID, 1000, 1},
	})
	require.NoError(t, env.DB.Model(contest).Update("vote_end_at", env.Clock.Now().UTC().Add(time.Hour)).Error)

	err := env.Distributor.Settle(contest.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPrecondition))
	assert.False(t, env.reloadContest(t, contest.ID).Paid)
}

func TestSettleExcludesBlockedEntries(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Options.Set(env.DB, OptFeeAccount, "treasury"))

	winner := env.createProfile(t, "winner.one", "acct1")
	cheater := env.createProfile(t, "cheater.one", "acct2")
	contest := endedContest(t, env, []int64{1}, 0, 0, []seated{
		{winner.ID, 400, 1},
		{cheater.ID, 600, 9},
	})

	var blocked models.Entry
	require.NoError(t, env.DB.First(&blocked, "user_id = ?", cheater.ID).Error)
	require.NoError(t, env.DB.Model(&blocked).Update("blocked", true).Error)

	require.NoError(t, env.Distributor.Settle(contest.ID))

	// Only the clean entry funds the pool or takes a rank.
	assert.Equal(t, int64(400), env.reloadProfile(t, winner.ID).Winnings)
	assert.Zero(t, env.reloadProfile(t, cheater.ID).Winnings)
	assert.Empty(t, env.Ledger.transfers)
}

func TestSettleFixedPrizeSkipsFee(t *testing.T) {
	env := newTestEnv(t)
	winner := env.createProfile(t, "winner.one", "acct1")

	// The reserve already paid the operator's share when it was funded.
	contest := endedContest(t, env, []int64{1}, 100, 500, []seated{
		{winner.ID, 0, 3},
	})

	require.NoError(t, env.Distributor.Settle(contest.ID))
	assert.Equal(t, int64(500), env.reloadProfile(t, winner.ID).Winnings)
	assert.Empty(t, env.Ledger.transfers)
}

func TestSettleWithholdsPayoutWithoutProfile(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Options.Set(env.DB, OptFeeAccount, "treasury"))

	contest := endedContest(t, env, []int64{1}, 0, 0, []seated{
		{"ghost-user", 1000, 1},
	})

	require.NoError(t, env.Distributor.Settle(contest.ID))

	// The unclaimable share rides along with the remainder.
	require.Len(t, env.Ledger.transfers, 1)
	assert.Equal(t, int64(1000), env.Ledger.transfers[0].Amount)
}

func TestSettleFailsWithoutFeeAccount(t *testing.T) {
	env := newTestEnv(t)
	winner := env.createProfile(t, "winner.one", "acct1")
	contest := endedContest(t, env, []int64{1}, 100, 0, []seated{
		{winner.ID, 1000, 1},
	})

	err := env.Distributor.Settle(contest.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPrecondition))
	assert.False(t, env.reloadContest(t, contest.ID).Paid)
}

func TestSettleZeroPool(t *testing.T) {
	env := newTestEnv(t)
	contest := endedContest(t, env, []int64{1}, 100, 0, []seated{
		{"alice", 0, 0},
	})

	require.NoError(t, env.Distributor.Settle(contest.ID))
	assert.Empty(t, env.Ledger.transfers)
	assert.True(t, env.reloadContest(t, contest.ID).Paid)
}

func TestSettleUsesWeightsFromSpawn(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Options.Set(env.DB, OptFeeAccount, "treasury"))

	first := env.createProfile(t, "first.place", "acct1")
	second := env.createProfile(t, "second.place", "acct2")
	contest := endedContest(t, env, []int64{3, 1}, 0, 0, []seated{
		{first.ID, 500, 5},
		{second.ID, 500, 2},
	})

	// A level edit while the round is running must not reach its payouts.
	var level models.Level
	require.NoError(t, env.DB.First(&level, "id = ?", "finals").Error)
	level.Prizes = []int64{1, 3}
	require.NoError(t, env.DB.Save(&level).Error)

	require.NoError(t, env.Distributor.Settle(contest.ID))

	assert.Equal(t, int64(750), env.reloadProfile(t, first.ID).Winnings)
	assert.Equal(t, int64(250), env.reloadProfile(t, second.ID).Winnings)
}

func TestSettleDueProcessesBacklog(t *testing.T) {
	env := newTestEnv(t)
	winner := env.createProfile(t, "winner.one", "acct1")
	contest := endedContest(t, env, []int64{1}, 0, 0, []seated{
		{winner.ID, 700, 1},
	})

	env.Distributor.SettleDue()
	assert.True(t, env.reloadContest(t, contest.ID).Paid)
	assert.Equal(t, int64(700), env.reloadProfile(t, winner.ID).Winnings)
}
