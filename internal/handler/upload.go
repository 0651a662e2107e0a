package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/vizzle/studio/internal/middleware"
	"github.com/vizzle/studio/internal/model"
	"github.com/vizzle/studio/internal/service"
	"github.com/vizzle/studio/pkg/response"
)

type UploadHandler struct {
	service   *service.UploadService
	validator *validator.Validate
}

func NewUploadHandler(svc *service.UploadService, v *validator.Validate) *UploadHandler {
	return &UploadHandler{
		service:   svc,
		validator: v,
	}
}

// Upload handles POST /api/upload/{role}
// @Summary      Upload a human or garment image
// @Description  Accepts a multipart "file" or JSON {"image": "<data URI or URL>"}
// @Tags         Upload
// @Accept       json,mpfd
// @Produce      json
// @Param        file formData file false "Image (max 2MB)"
// @Success      201 {object} model.UploadResult
// @Failure      400 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/upload/{role} [post]
func (h *UploadHandler) Upload(role model.ImageRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := middleware.GetUserID(c)

		if isMultipart(c) {
			media, err := readFormFile(c, "file")
			if err != nil {
				return response.ValidationError(c, "Invalid multipart body", nil)
			}
			if media == nil {
				return response.ValidationError(c, "File is required", nil)
			}
			result, err := h.service.Upload(c.UserContext(), userID, role, media)
			if err != nil {
				return writeError(c, err)
			}
			return response.Created(c, result)
		}

		var req model.ImageUploadRequest
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
		if err := h.validator.Struct(&req); err != nil {
			return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
		}
		result, err := h.service.UploadRef(c.UserContext(), userID, role, req.Image)
		if err != nil {
			return writeError(c, err)
		}
		return response.Created(c, result)
	}
}

// Get handles GET /api/upload
func (h *UploadHandler) Get(c *fiber.Ctx) error {
	result, err := h.service.Get(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}

// Clear handles DELETE /api/upload/:role
func (h *UploadHandler) Clear(c *fiber.Ctx) error {
	role := model.ImageRole(c.Params("role"))
	if role != model.ImageRoleHuman && role != model.ImageRoleGarment {
		return response.ValidationError(c, "role must be human or garment", nil)
	}
	result, err := h.service.Clear(c.UserContext(), middleware.GetUserID(c), role)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, result)
}
