package cart

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeAppWithCartHandler(h *Handler) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if v := c.Get("X-User-ID"); v != "" {
			if id, err := strconv.Atoi(v); err == nil {
				c.Locals("user", &jwt.Token{Claims: jwt.MapClaims{"user_id": id}})
			}
		}
		return c.Next()
	})
	h.RegisterProtectedRoutes(app)
	return app
}

func decodeCart(t *testing.T, body io.Reader) Cart {
	t.Helper()
	var c Cart
	require.NoError(t, json.NewDecoder(body).Decode(&c))
	return c
}

func TestCartRoutes(t *testing.T) {
	svc, _ := newTestService()
	app := makeAppWithCartHandler(NewHandler(svc))

	res, _ := app.Test(httptest.NewRequest("GET", "/api/v1/cart", nil))
	assert.Equal(t, fiber.StatusUnauthorized, res.StatusCode)

	req := httptest.NewRequest("POST", "/api/v1/cart/items", strings.NewReader(`{"artworkId":1,"quantity":2}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "42")
	res, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	added := decodeCart(t, res.Body)
	require.Len(t, added.Items, 1)
	assert.Equal(t, "25", added.TotalAmount.String())

	req = httptest.NewRequest("PATCH", fmt.Sprintf("/api/v1/cart/items/%d/increment", added.Items[0].ID), nil)
	req.Header.Set("X-User-ID", "42")
	res, _ = app.Test(req)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	assert.Equal(t, 3, decodeCart(t, res.Body).Items[0].Quantity)

	req = httptest.NewRequest("DELETE", fmt.Sprintf("/api/v1/cart/items/%d", added.Items[0].ID), nil)
	req.Header.Set("X-User-ID", "43")
	res, _ = app.Test(req)
	assert.Equal(t, fiber.StatusForbidden, res.StatusCode)

	req = httptest.NewRequest("GET", "/api/v1/cart/items", nil)
	req.Header.Set("X-User-ID", "42")
	res, _ = app.Test(req)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	var items []Item
	require.NoError(t, json.NewDecoder(res.Body).Decode(&items))
	assert.Len(t, items, 1)
}

func TestAddItemValidation(t *testing.T) {
	svc, _ := newTestService()
	app := makeAppWithCartHandler(NewHandler(svc))

	for body, want := range map[string]int{
		`{"quantity":1}`:                  fiber.StatusBadRequest,
		`{"artworkId":4}`:                 fiber.StatusBadRequest,
		`{"artworkId":1,"price":"1.00"}`:  fiber.StatusBadRequest,
		`{"artworkId":1,"price":"12.50"}`: fiber.StatusOK,
		`{"artworkId":99}`:                fiber.StatusNotFound,
		`not json`:                        fiber.StatusBadRequest,
	} {
		req := httptest.NewRequest("POST", "/api/v1/cart/items", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", "42")
		res, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, want, res.StatusCode, body)
	}
}
