package validation

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/citation-etl/backend/pkg/logger"
)

type Config struct {
	MaxCodeLength int
	MaxListLimit  int
}

// Middleware rejects malformed query parameters before they reach a handler:
// "code" must be short printable text and "limit" a positive integer no
// larger than MaxListLimit.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxCodeLength == 0 {
		cfg.MaxCodeLength = 64
	}
	if cfg.MaxListLimit == 0 {
		cfg.MaxListLimit = 500
	}

	return func(c *fiber.Ctx) error {
		if code := c.Query("code"); code != "" {
			if len(code) > cfg.MaxCodeLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "code exceeds maximum length",
				})
			}
			if strings.IndexFunc(code, unicode.IsControl) >= 0 {
				logger.Warn("Rejected code with control characters",
					zap.String("ip", c.IP()),
					zap.String("path", c.Path()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "code contains invalid characters",
				})
			}
		}

		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > cfg.MaxListLimit {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "limit must be between 1 and " + strconv.Itoa(cfg.MaxListLimit),
				})
			}
		}

		return c.Next()
	}
}
