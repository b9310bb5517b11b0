// handlers/admin.go
package handlers

import (
	"contest-engine/middleware"
	"contest-engine/services"

	"github.com/gofiber/fiber/v2"
)

func SetupAdminRoutes(app *fiber.App,
	levels *services.LevelService,
	profiles *services.ProfileService,
	entries *services.EntryService,
	oracle *services.OracleService,
	options *services.OptionService,
	maintenance *services.MaintenanceService,
) {
	// 🔐 Admin routes — user context plus the admin role
	admin := app.Group("/admin", middleware.UserContextMiddleware(), middleware.RequireAdmin())

	admin.Post("/categories", levels.CreateCategory)
	admin.Put("/categories/:id", levels.UpdateCategory)
	admin.Post("/levels", levels.CreateLevel)
	admin.Put("/levels/:id", levels.UpdateLevel)

	admin.Post("/profiles", profiles.CreateProfile)
	admin.Put("/profiles/:id", profiles.UpdateProfileAdmin)

	admin.Post("/entries/:id/block", entries.BlockEntry)
	admin.Post("/entries/:id/unblock", entries.UnblockEntry)

	admin.Post("/oracle/samples", oracle.RecordSampleEndpoint)

	admin.Get("/options", options.GetOptionsEndpoint)
	admin.Put("/options/:key", options.SetOptionEndpoint)

	admin.Post("/maintenance/run", maintenance.RunEndpoint)

	admin.Post("/media", services.UploadMediaEndpoint)
}
