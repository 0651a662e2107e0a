package handler

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/vizzle/studio/internal/middleware"
	"github.com/vizzle/studio/internal/model"
	"github.com/vizzle/studio/internal/service"
	"github.com/vizzle/studio/pkg/response"
)

// PageHandler serves the try-on page working set. Every write reports whether
// the state reached durable storage in full.
type PageHandler struct {
	service   *service.PageService
	validator *validator.Validate
}

func NewPageHandler(svc *service.PageService, v *validator.Validate) *PageHandler {
	return &PageHandler{service: svc, validator: v}
}

// Get handles GET /api/page
func (h *PageHandler) Get(c *fiber.Ctx) error {
	result, err := h.service.Get(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}

// Replace handles PUT /api/page
func (h *PageHandler) Replace(c *fiber.Ctx) error {
	var req model.PageUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	result, err := h.service.Replace(c.UserContext(), middleware.GetUserID(c), &req)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}

// AddGarment handles POST /api/page/garments
func (h *PageHandler) AddGarment(c *fiber.Ctx) error {
	var req model.GarmentEntry
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	result, err := h.service.AddGarment(c.UserContext(), middleware.GetUserID(c), req)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}

// RemoveGarment handles DELETE /api/page/garments/:index
func (h *PageHandler) RemoveGarment(c *fiber.Ctx) error {
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return response.ValidationError(c, "index must be a number", nil)
	}
	result, err := h.service.RemoveGarment(c.UserContext(), middleware.GetUserID(c), index)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}

// SetModelImage handles PUT /api/page/model
func (h *PageHandler) SetModelImage(c *fiber.Ctx) error {
	var req model.ModelImageRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	result, err := h.service.SetModelImage(c.UserContext(), middleware.GetUserID(c), req.Image)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}

// SetOriginTab handles PUT /api/page/tab
func (h *PageHandler) SetOriginTab(c *fiber.Ctx) error {
	var req model.OriginTabRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	result, err := h.service.SetOriginTab(c.UserContext(), middleware.GetUserID(c), req.Tab)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}

// Clear handles DELETE /api/page
func (h *PageHandler) Clear(c *fiber.Ctx) error {
	if err := h.service.Clear(c.UserContext(), middleware.GetUserID(c)); err != nil {
		return writeError(c, err)
	}
	return response.NoContent(c)
}
