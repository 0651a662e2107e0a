package service

import (
	"context"

	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/internal/model"
	"github.com/vizzle/studio/internal/store"
)

// PageService manages the try-on page working set
type PageService struct {
	pages *store.PageStore
	log   *logger.Logger
}

func NewPageService(pages *store.PageStore, log *logger.Logger) *PageService {
	return &PageService{pages: pages, log: log.With("component", "page_service")}
}

func (s *PageService) Get(ctx context.Context, userID string) (*model.PageResponse, error) {
	page, err := s.pages.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.PageResponse{Page: page}, nil
}

func (s *PageService) Replace(ctx context.Context, userID string, req *model.PageUpdateRequest) (*model.PageResponse, error) {
	return s.result(s.pages.Replace(ctx, userID, model.TryOnPageState{
		ModelImage: req.ModelImage,
		Garments:   req.Garments,
		OriginTab:  req.OriginTab,
	}))
}

func (s *PageService) AddGarment(ctx context.Context, userID string, g model.GarmentEntry) (*model.PageResponse, error) {
	return s.result(s.pages.AddGarment(ctx, userID, g))
}

func (s *PageService) RemoveGarment(ctx context.Context, userID string, index int) (*model.PageResponse, error) {
	return s.result(s.pages.RemoveGarment(ctx, userID, index))
}

func (s *PageService) SetModelImage(ctx context.Context, userID, image string) (*model.PageResponse, error) {
	return s.result(s.pages.SetModelImage(ctx, userID, image))
}

func (s *PageService) SetOriginTab(ctx context.Context, userID, tab string) (*model.PageResponse, error) {
	return s.result(s.pages.SetOriginTab(ctx, userID, tab))
}

func (s *PageService) Clear(ctx context.Context, userID string) error {
	return s.pages.Clear(ctx, userID)
}

func (s *PageService) result(page *model.TryOnPageState, pv model.PersistedValue, err error) (*model.PageResponse, error) {
	if err != nil {
		return nil, err
	}
	return &model.PageResponse{Page: page, Persisted: &pv}, nil
}

// WishlistService manages wishlisted product ids
type WishlistService struct {
	wishlist *store.WishlistStore
}

func NewWishlistService(wishlist *store.WishlistStore) *WishlistService {
	return &WishlistService{wishlist: wishlist}
}

func (s *WishlistService) Get(ctx context.Context, userID string) (*model.WishlistResponse, error) {
	ids, err := s.wishlist.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.WishlistResponse{ProductIDs: ids}, nil
}

// Toggle adds the product when absent and removes it otherwise
func (s *WishlistService) Toggle(ctx context.Context, userID string, productID int) (*model.WishlistResponse, error) {
	ids, added, err := s.wishlist.Toggle(ctx, userID, productID)
	if err != nil {
		return nil, err
	}
	return &model.WishlistResponse{ProductIDs: ids, Added: &added}, nil
}

func (s *WishlistService) Clear(ctx context.Context, userID string) error {
	return s.wishlist.Clear(ctx, userID)
}
