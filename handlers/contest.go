// handlers/contest.go
package handlers

import (
	"contest-engine/middleware"
	"contest-engine/services"

	"github.com/gofiber/fiber/v2"
)

func SetupContestRoutes(app *fiber.App, pool *services.ContestPool, entries *services.EntryService, levels *services.LevelService) {
	// 🔓 Public routes — no user context, but still behind Gateway auth
	app.Get("/categories", levels.ListCategories)
	app.Get("/levels", levels.ListLevels)
	app.Get("/levels/:id", levels.GetLevel)
	app.Get("/contests", pool.ListContests)
	app.Get("/contests/:id", pool.GetContest)
	app.Get("/contests/:id/entries", entries.ListContestEntries)
	app.Get("/entries/:id", entries.GetEntry)

	// Ledger webhook — fired by the value-transfer service, gateway token only
	app.Post("/ledger/transfers", entries.DepositNotification)

	// 🔐 Secured routes — user context required per route. Attached per route
	// rather than via a "/" group, so public routes registered elsewhere are
	// never swept behind the guard.
	userCtx := middleware.UserContextMiddleware()

	app.Post("/entries", userCtx, entries.SubmitEntry)
	app.Post("/entries/:id/refund", userCtx, entries.RefundEntry)
	app.Post("/votes", userCtx, entries.CastVote)
}
