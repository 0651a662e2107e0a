package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/vizzle/studio/internal/client"
	"github.com/vizzle/studio/internal/history"
	"github.com/vizzle/studio/internal/model"
	"github.com/vizzle/studio/internal/orchestrator"
	"github.com/vizzle/studio/internal/service"
	"github.com/vizzle/studio/internal/store"
	"github.com/vizzle/studio/pkg/response"
)

var errMalformedForm = errors.New("malformed multipart form")

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}

// writeError maps service errors onto the response envelope
func writeError(c *fiber.Ctx, err error) error {
	var (
		uploadErr *client.UploadError
		apiErr    *client.APIError
		subErr    *client.SubmissionError
	)
	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		return response.Conflict(c, err.Error())
	case errors.Is(err, orchestrator.ErrInvalidRequest),
		errors.Is(err, service.ErrUnsupportedMedia),
		errors.Is(err, model.ErrInvalidDataURI),
		errors.Is(err, errMalformedForm),
		errors.Is(err, client.ErrMediaSourceBlocked):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, service.ErrMissingUser):
		return response.Unauthorized(c, err.Error())
	case errors.Is(err, service.ErrUnknownKind):
		return response.NotFound(c, err.Error())
	case errors.Is(err, store.ErrIndexOutOfRange):
		return response.NotFound(c, "Garment not found")
	case errors.Is(err, history.ErrNotFound):
		return response.NotFound(c, "History entry not found")
	case errors.As(err, &uploadErr):
		if uploadErr.StatusCode == 0 && uploadErr.Err == nil {
			// rejected locally before reaching the job service
			return response.ValidationError(c, uploadErr.Message, nil)
		}
		return response.UpstreamError(c, uploadErr.Message)
	case errors.As(err, &subErr):
		return response.UpstreamError(c, subErr.Message)
	case errors.As(err, &apiErr):
		return response.UpstreamError(c, apiErr.Message)
	default:
		return response.ServiceError(c, err.Error())
	}
}

// readFormFile returns the named multipart file as media, or nil when absent
func readFormFile(c *fiber.Ctx, field string) (*model.Media, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, fasthttp.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedForm, err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return &model.Media{Name: fh.Filename, ContentType: contentType, Data: data}, nil
}

func isMultipart(c *fiber.Ctx) bool {
	return len(c.Request().Header.MultipartFormBoundary()) > 0
}
