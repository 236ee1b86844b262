package apperr

import (
	"github.com/gofiber/fiber/v2"
)

func StatusCode(err error) int {
	switch KindOf(err) {
	case KindValidation, KindExternalProvider:
		return fiber.StatusBadRequest
	case KindNotFound:
		return fiber.StatusNotFound
	case KindConflict:
		return fiber.StatusConflict
	case KindAuthorization:
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}

// Respond writes err using the {"message": ...} body every handler returns.
func Respond(c *fiber.Ctx, err error) error {
	return c.Status(StatusCode(err)).JSON(fiber.Map{"message": Message(err)})
}
