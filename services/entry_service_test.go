package services

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"contest-engine/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitOneOpenEntryPerLevel(t *testing.T) {
	env := newTestEnv(t)
	env.createLevel(t, paidLevel("street-dance"))
	alice := env.createProfile(t, "alice.dance", "alice-acct")

	first, err := env.Entries.submit("alice-acct", &submitEntryRequest{LevelID: "street-dance"})
	require.NoError(t, err)

	// Fund the first entry but leave it short of the price, so it stays
	// unassigned. Resubmitting must retire it and carry the funds over.
	require.NoError(t, env.DB.Model(first).Update("amount", int64(40)).Error)

	second, err := env.Entries.submit("alice-acct", &submitEntryRequest{LevelID: "street-dance"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int64(40), second.Amount)

	old := env.reloadEntry(t, first.ID)
	assert.False(t, old.Open)
	assert.Zero(t, old.Amount)

	var open int64
	require.NoError(t, env.DB.Model(&models.Entry{}).
		Where("user_id = ? AND level_id = ? AND open = ?", alice.ID, "street-dance", true).
		Count(&open).Error)
	assert.Equal(t, int64(1), open)
}

func TestSubmitRejectedWhileCompeting(t *testing.T) {
	env := newTestEnv(t)
	env.createLevel(t, paidLevel("street-dance"))
	env.createProfile(t, "alice.dance", "alice-acct")
	env.recordSample(t, 500_000)

	entry, err := env.Entries.submit("alice-acct", &submitEntryRequest{LevelID: "street-dance"})
	require.NoError(t, err)
	require.NoError(t, env.DB.Model(entry).Update("amount", int64(1000)).Error)
	activated, err := env.Admission.TryActivate(entry.ID)
	require.NoError(t, err)
	require.True(t, activated)

	_, err = env.Entries.submit("alice-acct", &submitEntryRequest{LevelID: "street-dance"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestSubmitAfterContestEndedRetiresOldEntry(t *testing.T) {
	env := newTestEnv(t)
	env.createLevel(t, paidLevel("street-dance"))
	env.createProfile(t, "alice.dance", "alice-acct")
	env.recordSample(t, 500_000)

	entry, err := env.Entries.submit("alice-acct", &submitEntryRequest{LevelID: "street-dance"})
	require.NoError(t, err)
	require.NoError(t, env.DB.Model(entry).Update("amount", int64(1000)).Error)
	activated, err := env.Admission.TryActivate(entry.ID)
	require.NoError(t, err)
	require.True(t, activated)

	// Jump past the whole round.
	env.Clock.Advance(3 * time.Hour)

	fresh, err := env.Entries.submit("alice-acct", &submitEntryRequest{LevelID: "street-dance"})
	require.NoError(t, err)
	assert.Zero(t, fresh.Amount)
	assert.False(t, env.reloadEntry(t, entry.ID).Open)
}

func TestSubmitBlockedByConcurrencyCap(t *testing.T) {
	env := newTestEnv(t)
	level := paidLevel("street-dance")
	level.ParticipantLimit = 1
	level.MaxOpenContests = 1
	env.createLevel(t, level)
	env.createProfile(t, "alice.dance", "alice-acct")
	env.createProfile(t, "bobby.dance", "bob-acct")
	env.recordSample(t, 500_000)

	entry, err := env.Entries.submit("alice-acct", &submitEntryRequest{LevelID: "street-dance"})
	require.NoError(t, err)
	require.NoError(t, env.DB.Model(entry).Update("amount", int64(1000)).Error)
	activated, err := env.Admission.TryActivate(entry.ID)
	require.NoError(t, err)
	require.True(t, activated)

	// The level's only permitted round is full and running.
	_, err = env.Entries.submit("bob-acct", &submitEntryRequest{LevelID: "street-dance"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPrecondition))
}

func depositApp(env *testEnv) *fiber.App {
	app := fiber.New()
	app.Post("/ledger/transfers", env.Entries.DepositNotification)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) int {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestDepositFundsAndActivatesEntry(t *testing.T) {
	env := newTestEnv(t)
	env.createLevel(t, paidLevel("street-dance"))
	env.createProfile(t, "alice.dance", "alice-acct")
	env.recordSample(t, 500_000)

	entry, err := env.Entries.submit("alice-acct", &submitEntryRequest{LevelID: "street-dance"})
	require.NoError(t, err)

	app := depositApp(env)
	status := postJSON(t, app, "/ledger/transfers",
		fmt.Sprintf(`{"from":"alice-acct","amount":1000,"memo":"%d"}`, entry.ID))
	assert.Equal(t, fiber.StatusOK, status)

	entry = env.reloadEntry(t, entry.ID)
	assert.Equal(t, int64(1000), entry.Amount)
	assert.NotZero(t, entry.ContestID)
}

func TestDepositPrizeFundMemo(t *testing.T) {
	env := newTestEnv(t)
	app := depositApp(env)

	status := postJSON(t, app, "/ledger/transfers", `{"from":"operator","amount":5000,"memo":"prizefund"}`)
	assert.Equal(t, fiber.StatusOK, status)

	fund, err := env.Options.GetInt(env.DB, OptPrizeFund, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), fund)
}

func TestDepositUnknownEntryAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	app := depositApp(env)

	// The transfer already happened; bouncing the webhook would only make the
	// ledger retry forever.
	status := postJSON(t, app, "/ledger/transfers", `{"from":"alice-acct","amount":1000,"memo":"999999"}`)
	assert.Equal(t, fiber.StatusOK, status)

	status = postJSON(t, app, "/ledger/transfers", `{"from":"alice-acct","amount":1000,"memo":"not-a-number"}`)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestDepositCurrencyMismatchIgnored(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Options.Set(env.DB, OptCurrency, "GLV"))
	env.createLevel(t, paidLevel("street-dance"))
	env.createProfile(t, "alice.dance", "alice-acct")

	entry, err := env.Entries.submit("alice-acct", &submitEntryRequest{LevelID: "street-dance"})
	require.NoError(t, err)

	app := depositApp(env)
	status := postJSON(t, app, "/ledger/transfers",
		fmt.Sprintf(`{"from":"alice-acct","amount":1000,"currency":"XYZ","memo":"%d"}`, entry.ID))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Zero(t, env.reloadEntry(t, entry.ID).Amount)
}

func TestRefundPreconditions(t *testing.T) {
	env := newTestEnv(t)
	env.createLevel(t, paidLevel("street-dance"))
	alice := env.createProfile(t, "alice.dance", "alice-acct")
	env.createProfile(t, "bobby.dance", "bob-acct")

	entry, err := env.Entries.submit("alice-acct", &submitEntryRequest{LevelID: "street-dance"})
	require.NoError(t, err)

	// Nothing to refund yet.
	err = env.Entries.refund("alice-acct", entry.ID)
	assert.True(t, errors.Is(err, ErrPrecondition))

	require.NoError(t, env.DB.Model(entry).Update("amount", int64(500)).Error)

	// Not the owner.
	err = env.Entries.refund("bob-acct", entry.ID)
	assert.True(t, errors.Is(err, ErrForbidden))

	require.NoError(t, env.Entries.refund("alice-acct", entry.ID))
	env.Payouts.DispatchPending()
	require.Len(t, env.Ledger.transfers, 1)
	assert.Equal(t, alice.Account, env.Ledger.transfers[0].To)
	assert.Equal(t, int64(500), env.Ledger.transfers[0].Amount)

	entry = env.reloadEntry(t, entry.ID)
	assert.Zero(t, entry.Amount)
	assert.False(t, entry.Open)
}

func TestRefundRejectedOnceAssigned(t *testing.T) {
	env := newTestEnv(t)
	env.createLevel(t, paidLevel("street-dance"))
	env.createProfile(t, "alice.dance", "alice-acct")
	env.recordSample(t, 500_000)

	entry, err := env.Entries.submit("alice-acct", &submitEntryRequest{LevelID: "street-dance"})
	require.NoError(t, err)
	require.NoError(t, env.DB.Model(entry).Update("amount", int64(1000)).Error)
	activated, err := env.Admission.TryActivate(entry.ID)
	require.NoError(t, err)
	require.True(t, activated)

	err = env.Entries.refund("alice-acct", entry.ID)
	assert.True(t, errors.Is(err, ErrPrecondition))
	assert.Empty(t, env.Ledger.transfers)
}

// competingEntry sets up an activated entry inside its vote window.
func competingEntry(t *testing.T, env *testEnv) *models.Entry {
	t.Helper()
	env.createLevel(t, paidLevel("street-dance"))
	env.createProfile(t, "alice.dance", "alice-acct")
	env.recordSample(t, 500_000)

	entry, err := env.Entries.submit("alice-acct", &submitEntryRequest{LevelID: "street-dance"})
	require.NoError(t, err)
	require.NoError(t, env.DB.Model(entry).Update("amount", int64(1000)).Error)
	activated, err := env.Admission.TryActivate(entry.ID)
	require.NoError(t, err)
	require.True(t, activated)

	// Submission period is 3600s; land in the middle of the vote window.
	env.Clock.Advance(3600*time.Second + 30*time.Minute)
	return env.reloadEntry(t, entry.ID)
}

func TestVoteOncePerContest(t *testing.T) {
	env := newTestEnv(t)
	entry := competingEntry(t, env)
	env.createProfile(t, "voter.one", "voter-acct")

	require.NoError(t, env.Entries.vote("voter-acct", entry.ID))
	assert.Equal(t, int64(1), env.reloadEntry(t, entry.ID).Votes)

	err := env.Entries.vote("voter-acct", entry.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, int64(1), env.reloadEntry(t, entry.ID).Votes)
}

func TestVoteOutsideWindowRejected(t *testing.T) {
	env := newTestEnv(t)
	entry := competingEntry(t, env)
	env.createProfile(t, "voter.one", "voter-acct")

	env.Clock.Advance(2 * time.Hour) // past vote end

	err := env.Entries.vote("voter-acct", entry.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPrecondition))
}

func TestVoteRequiresActiveVoterAndCompetingEntry(t *testing.T) {
	env := newTestEnv(t)
	entry := competingEntry(t, env)

	inactive := env.createProfile(t, "voter.one", "voter-acct")
	require.NoError(t, env.DB.Model(inactive).Update("active", false).Error)
	err := env.Entries.vote("voter-acct", entry.ID)
	assert.True(t, errors.Is(err, ErrForbidden))

	env.createProfile(t, "voter.two", "voter2-acct")
	unassigned := env.createEntry(t, "someone", "street-dance", 0)
	err = env.Entries.vote("voter2-acct", unassigned.ID)
	assert.True(t, errors.Is(err, ErrPrecondition))
}

func moderationApp(env *testEnv) *fiber.App {
	app := fiber.New()
	app.Post("/admin/entries/:id/block", env.Entries.BlockEntry)
	app.Post("/admin/entries/:id/unblock", env.Entries.UnblockEntry)
	return app
}

func TestBlockRevokesAndUnblockRestoresPrize(t *testing.T) {
	env := newTestEnv(t)
	winner := env.createProfile(t, "winner.one", "acct1")
	require.NoError(t, env.DB.Model(winner).Update("winnings", int64(450)).Error)

	entry := models.Entry{
		UserID:     winner.ID,
		LevelID:    "finals",
		ContestID:  7,
		PrizeGiven: 450,
	}
	require.NoError(t, env.DB.Create(&entry).Error)

	app := moderationApp(env)

	status := postJSON(t, app, fmt.Sprintf("/admin/entries/%d/block", entry.ID), "{}")
	require.Equal(t, fiber.StatusOK, status)
	assert.Zero(t, env.reloadProfile(t, winner.ID).Winnings)
	blocked := env.reloadEntry(t, entry.ID)
	assert.True(t, blocked.Blocked)
	assert.True(t, blocked.PrizeRevoked)

	// Blocking again is a no-op, not a second clawback.
	status = postJSON(t, app, fmt.Sprintf("/admin/entries/%d/block", entry.ID), "{}")
	require.Equal(t, fiber.StatusOK, status)
	assert.Zero(t, env.reloadProfile(t, winner.ID).Winnings)

	status = postJSON(t, app, fmt.Sprintf("/admin/entries/%d/unblock", entry.ID), "{}")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, int64(450), env.reloadProfile(t, winner.ID).Winnings)
	restored := env.reloadEntry(t, entry.ID)
	assert.False(t, restored.Blocked)
	assert.False(t, restored.PrizeRevoked)
}
