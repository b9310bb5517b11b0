package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// UserContextMiddleware extracts the caller identity set by the Gateway:
// X-User-ID carries the caller's ledger account, X-User-Roles the role list.
// Caller authentication itself (signatures, sessions) happens upstream; this
// service only consumes the asserted identity.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		account := c.Get("X-User-ID")
		rolesStr := c.Get("X-User-Roles")

		if account == "" {
			log.Printf("❌ [USER_CTX] X-User-ID required but missing on secured route: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		var roles []string
		if rolesStr != "" {
			for _, r := range strings.Split(rolesStr, ",") {
				r = strings.TrimSpace(r)
				if r != "" {
					roles = append(roles, r)
				}
			}
		}

		c.Locals("caller_account", account)
		c.Locals("caller_roles", roles)

		return c.Next()
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !IsAdmin(c) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin role required"})
		}
		return c.Next()
	}
}

// CallerAccount returns the ledger account the Gateway authenticated.
func CallerAccount(c *fiber.Ctx) string {
	if account, ok := c.Locals("caller_account").(string); ok {
		return account
	}
	return ""
}

// IsAdmin reports whether the caller carries the admin role.
func IsAdmin(c *fiber.Ctx) bool {
	roles, ok := c.Locals("caller_roles").([]string)
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == "admin" {
			return true
		}
	}
	return false
}
