package validation

import (
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware(Config{MaxCodeLength: 8, MaxListLimit: 50}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	cases := []struct {
		name   string
		query  url.Values
		status int
	}{
		{"no params", url.Values{}, fiber.StatusOK},
		{"short code", url.Values{"code": {"80.69BS"}}, fiber.StatusOK},
		{"long code", url.Values{"code": {"123456789"}}, fiber.StatusBadRequest},
		{"control character", url.Values{"code": {"8.7\x003"}}, fiber.StatusBadRequest},
		{"valid limit", url.Values{"limit": {"50"}}, fiber.StatusOK},
		{"limit too large", url.Values{"limit": {"51"}}, fiber.StatusBadRequest},
		{"limit not a number", url.Values{"limit": {"ten"}}, fiber.StatusBadRequest},
		{"zero limit", url.Values{"limit": {"0"}}, fiber.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", "/?"+tc.query.Encode(), nil), -1)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}
