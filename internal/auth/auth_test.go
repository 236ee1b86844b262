package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

func makeApp(secret string) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(secret))
	app.Get("/me", func(c *fiber.Ctx) error {
		id, err := CustomerID(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
		}
		return c.JSON(fiber.Map{"customerId": id})
	})
	return app
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	app := makeApp("secret")
	res, _ := app.Test(httptest.NewRequest("GET", "/me", nil))
	if res.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestMiddlewareAcceptsIssuedToken(t *testing.T) {
	app := makeApp("secret")
	tok, err := Issue("secret", 42, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	res, _ := app.Test(req)
	if res.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
}

func TestMiddlewareRejectsWrongSecret(t *testing.T) {
	app := makeApp("secret")
	tok, _ := Issue("other", 42, nil)
	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	res, _ := app.Test(req)
	if res.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestCustomerIDClaimTypes(t *testing.T) {
	cases := []struct {
		raw  interface{}
		want int64
		ok   bool
	}{
		{float64(7), 7, true},
		{int(8), 8, true},
		{int64(9), 9, true},
		{"10", 10, true},
		{"abc", 0, false},
		{float64(0), 0, false},
	}
	for _, tc := range cases {
		app := fiber.New()
		app.Get("/", func(c *fiber.Ctx) error {
			c.Locals("user", &jwt.Token{Claims: jwt.MapClaims{ClaimCustomerID: tc.raw}})
			id, err := CustomerID(c)
			if (err == nil) != tc.ok || id != tc.want {
				t.Errorf("claim %v: got id=%d err=%v", tc.raw, id, err)
			}
			return nil
		})
		_, _ = app.Test(httptest.NewRequest("GET", "/", nil))
	}
}
