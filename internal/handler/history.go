package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/vizzle/studio/internal/middleware"
	"github.com/vizzle/studio/internal/model"
	"github.com/vizzle/studio/internal/service"
	"github.com/vizzle/studio/pkg/response"
)

type HistoryHandler struct {
	service *service.HistoryService
}

func NewHistoryHandler(svc *service.HistoryService) *HistoryHandler {
	return &HistoryHandler{service: svc}
}

// List handles GET /api/history?limit=N
// @Summary      List try-on history
// @Tags         History
// @Produce      json
// @Param        limit query int false "Maximum entries (default 50)"
// @Success      200 {object} model.HistoryListResponse
// @Security     BearerAuth
// @Router       /api/history [get]
func (h *HistoryHandler) List(c *fiber.Ctx) error {
	result, err := h.service.List(c.UserContext(), middleware.GetUserID(c), c.QueryInt("limit", 0))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}

// Delete handles DELETE /api/history/:id
func (h *HistoryHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "History ID is required", nil)
	}
	if err := h.service.Delete(c.UserContext(), middleware.GetUserID(c), id); err != nil {
		return writeError(c, err)
	}
	return response.NoContent(c)
}

type SafetyHandler struct {
	service   *service.SafetyService
	validator *validator.Validate
}

func NewSafetyHandler(svc *service.SafetyService, v *validator.Validate) *SafetyHandler {
	return &SafetyHandler{service: svc, validator: v}
}

// CheckGarment handles POST /api/safety/garment
// @Summary      Screen a garment description
// @Tags         Safety
// @Accept       json
// @Produce      json
// @Param        request body model.SafetyCheckRequest true "Garment description"
// @Success      200 {object} model.SafetyCheckResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/safety/garment [post]
func (h *SafetyHandler) CheckGarment(c *fiber.Ctx) error {
	var req model.SafetyCheckRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	result, err := h.service.CheckGarment(c.UserContext(), req.GarmentDescription)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}
