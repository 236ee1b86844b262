package auth

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	jwtware "github.com/gofiber/jwt/v2"
	"github.com/golang-jwt/jwt/v4"
)

// ClaimCustomerID is the JWT claim carrying the authenticated customer id.
const ClaimCustomerID = "user_id"

// Middleware validates HS256 bearer tokens and leaves the parsed token in
// c.Locals("user").
func Middleware(secret string) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: []byte(secret),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
		},
	})
}

// CustomerID extracts the customer id from the token stored by Middleware.
func CustomerID(c *fiber.Ctx) (int64, error) {
	tok, ok := c.Locals("user").(*jwt.Token)
	if !ok || tok == nil {
		return 0, fiber.ErrUnauthorized
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fiber.ErrUnauthorized
	}
	var id int64
	switch v := claims[ClaimCustomerID].(type) {
	case float64:
		id = int64(v)
	case int:
		id = int64(v)
	case int64:
		id = v
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fiber.ErrUnauthorized
		}
		id = n
	default:
		return 0, fiber.ErrUnauthorized
	}
	if id <= 0 {
		return 0, fiber.ErrUnauthorized
	}
	return id, nil
}

// Issue signs a token for customerID. Token issuance belongs to the identity
// service; this exists for tooling and tests.
func Issue(secret string, customerID int64, claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims[ClaimCustomerID] = customerID
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
