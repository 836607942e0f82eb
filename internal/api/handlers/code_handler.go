package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/citation-etl/backend/internal/codes"
)

type CodeHandler struct {
	mapper *codes.Mapper
}

func NewCodeHandler(mapper *codes.Mapper) *CodeHandler {
	return &CodeHandler{
		mapper: mapper,
	}
}

func (h *CodeHandler) Resolve(c *fiber.Ctx) error {
	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "code is required",
		})
	}

	ref := h.mapper.Reference()
	return c.JSON(fiber.Map{
		"resolution":          h.mapper.Resolve(code),
		"threshold":           h.mapper.Threshold(),
		"reference_available": !ref.Empty(),
		"reference_size":      ref.Len(),
	})
}
