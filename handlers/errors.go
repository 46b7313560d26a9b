package handlers

import (
	"errors"

	"participation-points/services"

	"github.com/gofiber/fiber/v2"
)

// respondError maps service errors onto HTTP statuses. Storage details stay in the logs.
func respondError(c *fiber.Ctx, err error) error {
	var verr *services.ValidationError
	var serr *services.StorageError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   verr.Error(),
			"field":   verr.Field,
		})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "not found"})
	case errors.Is(err, services.ErrNotRequeueable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "error": err.Error()})
	case errors.As(err, &serr):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "storage unavailable"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "internal error"})
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": msg})
}
