// handlers/profile.go
package handlers

import (
	"contest-engine/middleware"
	"contest-engine/services"

	"github.com/gofiber/fiber/v2"
)

func SetupProfileRoutes(app *fiber.App, profiles *services.ProfileService) {
	// 🔓 Public read
	app.Get("/profiles/:id", profiles.GetProfile)

	// 🔐 Self-service — caller must own the profile's linked account
	userCtx := middleware.UserContextMiddleware()

	app.Put("/profiles/:id", userCtx, profiles.UpdateProfileSelf)
	app.Post("/profiles/:id/claim", userCtx, profiles.Claim)
}
