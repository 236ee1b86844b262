package artwork

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailabilityRoute(t *testing.T) {
	app := fiber.New()
	NewHandler(NewCatalog(seed())).RegisterPublicRoutes(app)

	res, err := app.Test(httptest.NewRequest("GET", "/api/v1/artworks/1/availability", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, float64(1), body["artworkId"])
	assert.Equal(t, "100", body["price"])
	assert.Equal(t, true, body["isUnique"])
	assert.Equal(t, true, body["isAvailable"])

	cases := map[string]int{
		"/api/v1/artworks/99/availability":  fiber.StatusNotFound,
		"/api/v1/artworks/abc/availability": fiber.StatusBadRequest,
		"/api/v1/artworks/0/availability":   fiber.StatusBadRequest,
	}
	for path, want := range cases {
		res, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		assert.Equal(t, want, res.StatusCode, path)
	}
}
