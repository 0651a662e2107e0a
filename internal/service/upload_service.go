package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vizzle/studio/internal/client"
	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/internal/model"
	"github.com/vizzle/studio/internal/orchestrator"
	"github.com/vizzle/studio/internal/store"
)

var ErrUnsupportedMedia = errors.New("only image uploads are supported")

// UploadService sends images to the job service ahead of a run and remembers the
// last upload per role so the page can restore its previews.
type UploadService struct {
	jobs     client.JobService
	media    client.MediaFetcher
	uploads  *store.UploadStateStore
	maxBytes int64
	log      *logger.Logger
}

func NewUploadService(jobs client.JobService, media client.MediaFetcher, uploads *store.UploadStateStore, maxBytes int64, log *logger.Logger) *UploadService {
	if maxBytes <= 0 {
		maxBytes = orchestrator.DefaultMaxUploadBytes
	}
	return &UploadService{
		jobs:     jobs,
		media:    media,
		uploads:  uploads,
		maxBytes: maxBytes,
		log:      log.With("component", "upload_service"),
	}
}

// Upload sends media for role. A failed upload clears the slot so no stale asset
// survives.
func (s *UploadService) Upload(ctx context.Context, userID string, role model.ImageRole, media *model.Media) (*model.UploadResult, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if !strings.HasPrefix(media.ContentType, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, media.ContentType)
	}
	if media.Size() == 0 {
		return nil, &client.UploadError{Role: role, Message: "The " + string(role) + " image is empty"}
	}
	if media.Size() > s.maxBytes {
		return nil, &client.UploadError{
			Role:    role,
			Message: fmt.Sprintf("Image must be smaller than %dMB", s.maxBytes/(1024*1024)),
		}
	}

	asset, err := s.jobs.UploadImage(ctx, media, role)
	if err != nil {
		if _, _, clearErr := s.uploads.SetSlot(ctx, userID, role, nil, ""); clearErr != nil {
			s.log.Warn("failed to clear upload slot", "user_id", userID, "role", role, "error", clearErr)
		}
		return nil, err
	}

	state, pv, err := s.uploads.SetSlot(ctx, userID, role, asset, model.EncodeDataURI(media))
	if err != nil {
		return nil, fmt.Errorf("failed to save upload state: %w", err)
	}
	s.log.Info("image uploaded", "user_id", userID, "role", role, "url", asset.URL, "admitted", pv.Admitted)
	return &model.UploadResult{Uploads: state, Persisted: pv}, nil
}

// UploadRef resolves a data URI or URL and uploads it
func (s *UploadService) UploadRef(ctx context.Context, userID string, role model.ImageRole, ref string) (*model.UploadResult, error) {
	media, err := s.media.FetchMedia(ctx, ref)
	if err != nil {
		return nil, &client.UploadError{Role: role, Message: "Failed to load " + string(role) + " image", Err: err}
	}
	return s.Upload(ctx, userID, role, media)
}

func (s *UploadService) Get(ctx context.Context, userID string) (*model.UploadState, error) {
	return s.uploads.Get(ctx, userID)
}

// Clear forgets the last upload for role
func (s *UploadService) Clear(ctx context.Context, userID string, role model.ImageRole) (*model.UploadResult, error) {
	state, pv, err := s.uploads.SetSlot(ctx, userID, role, nil, "")
	if err != nil {
		return nil, err
	}
	return &model.UploadResult{Uploads: state, Persisted: pv}, nil
}
