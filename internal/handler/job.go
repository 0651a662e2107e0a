package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/vizzle/studio/internal/middleware"
	"github.com/vizzle/studio/internal/model"
	"github.com/vizzle/studio/internal/orchestrator"
	"github.com/vizzle/studio/internal/service"
	"github.com/vizzle/studio/pkg/response"
)

// JobHandler exposes the per-user try-on, layered and video orchestrators
type JobHandler struct {
	sessions  *service.SessionService
	validator *validator.Validate
}

func NewJobHandler(sessions *service.SessionService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		sessions:  sessions,
		validator: v,
	}
}

// StartTryOn handles POST /api/tryon/start
// @Summary      Start a try-on
// @Description  Uploads the human and garment images, submits the job and polls it in the background
// @Tags         Try-on
// @Accept       json,mpfd
// @Produce      json
// @Param        request body model.TryOnStartRequest true "Try-on request"
// @Success      202 {object} model.OrchestratorStateResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/tryon/start [post]
func (h *JobHandler) StartTryOn(c *fiber.Ctx) error {
	var req model.TryOnStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	human, err := h.source(c, "human", req.HumanImage)
	if err != nil {
		return response.ValidationError(c, "Invalid human image", nil)
	}
	garment, err := h.source(c, "garment", req.GarmentImage)
	if err != nil {
		return response.ValidationError(c, "Invalid garment image", nil)
	}

	return h.start(c, model.JobKindTryOn, &orchestrator.Request{
		Human:       human,
		Garment:     garment,
		GarmentName: req.GarmentName,
		GarmentType: req.GarmentType,
		UseVision:   req.UseVision,
		Params:      req.Params,
	})
}

// StartLayered handles POST /api/layered/start
// @Summary      Layer a garment over a result
// @Tags         Try-on
// @Accept       json,mpfd
// @Produce      json
// @Param        request body model.LayeredStartRequest true "Layered try-on request"
// @Success      202 {object} model.OrchestratorStateResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/layered/start [post]
func (h *JobHandler) StartLayered(c *fiber.Ctx) error {
	var req model.LayeredStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	base, err := h.source(c, "baseImage", req.BaseImage)
	if err != nil {
		return response.ValidationError(c, "Invalid base image", nil)
	}
	garment, err := h.source(c, "garment", req.GarmentImage)
	if err != nil {
		return response.ValidationError(c, "Invalid garment image", nil)
	}

	return h.start(c, model.JobKindLayeredTryOn, &orchestrator.Request{
		Base:        base,
		Garment:     garment,
		GarmentName: req.GarmentName,
		GarmentType: req.GarmentType,
		UseVision:   req.UseVision,
		Params:      req.Params,
	})
}

// StartVideo handles POST /api/video/start
// @Summary      Animate an image
// @Tags         Video
// @Accept       json,mpfd
// @Produce      json
// @Param        request body model.VideoStartRequest true "Video request"
// @Success      202 {object} model.OrchestratorStateResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/video/start [post]
func (h *JobHandler) StartVideo(c *fiber.Ctx) error {
	var req model.VideoStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	base, err := h.source(c, "image", req.ImageURL)
	if err != nil {
		return response.ValidationError(c, "Invalid image", nil)
	}

	return h.start(c, model.JobKindVideo, &orchestrator.Request{
		Base:        base,
		GarmentName: req.GarmentName,
		MotionType:  req.MotionType,
		Duration:    req.Duration,
		FPS:         req.FPS,
	})
}

// State handles GET /api/{kind}/state
func (h *JobHandler) State(kind model.JobKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		result, err := h.sessions.State(middleware.GetUserID(c), kind)
		if err != nil {
			return writeError(c, err)
		}
		return response.OK(c, result)
	}
}

// Reset handles POST /api/{kind}/reset
func (h *JobHandler) Reset(kind model.JobKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		result, err := h.sessions.Reset(c.UserContext(), middleware.GetUserID(c), kind)
		if err != nil {
			return writeError(c, err)
		}
		return response.OK(c, result)
	}
}

// Dismiss handles POST /api/{kind}/dismiss
func (h *JobHandler) Dismiss(kind model.JobKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		result, err := h.sessions.Dismiss(middleware.GetUserID(c), kind)
		if err != nil {
			return writeError(c, err)
		}
		return response.OK(c, result)
	}
}

func (h *JobHandler) start(c *fiber.Ctx, kind model.JobKind, req *orchestrator.Request) error {
	result, err := h.sessions.Start(middleware.GetUserID(c), kind, req)
	if err != nil {
		return writeError(c, err)
	}
	return response.Accepted(c, result)
}

// source prefers an uploaded file over a reference field
func (h *JobHandler) source(c *fiber.Ctx, field, ref string) (orchestrator.Source, error) {
	if isMultipart(c) {
		media, err := readFormFile(c, field)
		if err != nil {
			return orchestrator.Source{}, err
		}
		if media != nil {
			return orchestrator.Source{Media: media}, nil
		}
	}
	return orchestrator.Source{Ref: ref}, nil
}
