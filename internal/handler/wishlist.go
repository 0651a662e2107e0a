package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/vizzle/studio/internal/middleware"
	"github.com/vizzle/studio/internal/service"
	"github.com/vizzle/studio/pkg/response"
)

type WishlistHandler struct {
	service *service.WishlistService
}

func NewWishlistHandler(svc *service.WishlistService) *WishlistHandler {
	return &WishlistHandler{service: svc}
}

// Get handles GET /api/wishlist
func (h *WishlistHandler) Get(c *fiber.Ctx) error {
	result, err := h.service.Get(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}

// Toggle handles POST /api/wishlist/:productId/toggle
func (h *WishlistHandler) Toggle(c *fiber.Ctx) error {
	productID, err := strconv.Atoi(c.Params("productId"))
	if err != nil || productID <= 0 {
		return response.ValidationError(c, "productId must be a positive number", nil)
	}
	result, err := h.service.Toggle(c.UserContext(), middleware.GetUserID(c), productID)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}

// Clear handles DELETE /api/wishlist
func (h *WishlistHandler) Clear(c *fiber.Ctx) error {
	if err := h.service.Clear(c.UserContext(), middleware.GetUserID(c)); err != nil {
		return writeError(c, err)
	}
	return response.NoContent(c)
}
