package services

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Sentinel error kinds the handler layer maps onto HTTP statuses. Service
// methods wrap these with context via fmt.Errorf("...: %w", Err...).
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrPrecondition = errors.New("precondition failed")
)

// StatusForError picks the fiber status code for a service error.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, ErrPrecondition):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func errorJSON(c *fiber.Ctx, err error) error {
	return c.Status(StatusForError(err)).JSON(fiber.Map{"error": err.Error()})
}
