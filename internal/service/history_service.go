package service

import (
	"context"
	"strings"

	"github.com/vizzle/studio/internal/client"
	"github.com/vizzle/studio/internal/history"
	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/internal/model"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HistoryService lists and deletes a user's try-on history
type HistoryService struct {
	store history.Store
}

func NewHistoryService(store history.Store) *HistoryService {
	return &HistoryService{store: store}
}

// List returns up to limit entries, newest first
func (s *HistoryService) List(ctx context.Context, userID string, limit int) (*model.HistoryListResponse, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	entries, err := s.store.List(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.TryOnHistoryEntry{}
	}
	return &model.HistoryListResponse{Entries: entries, Count: len(entries)}, nil
}

func (s *HistoryService) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrMissingUser
	}
	return s.store.Delete(ctx, userID, id)
}

// SafetyService screens garment descriptions before a try-on
type SafetyService struct {
	jobs client.JobService
	log  *logger.Logger
}

func NewSafetyService(jobs client.JobService, log *logger.Logger) *SafetyService {
	return &SafetyService{jobs: jobs, log: log.With("component", "safety_service")}
}

func (s *SafetyService) CheckGarment(ctx context.Context, description string) (*model.SafetyCheckResponse, error) {
	result, err := s.jobs.CheckGarmentSafety(ctx, strings.TrimSpace(description))
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		s.log.Info("garment rejected by safety check", "message", result.Message)
	}
	return result, nil
}
