package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vizzle/studio/internal/model"
)

// Key names of the per-user state documents
const (
	KeyPage     = "tryon-page"
	KeyUploads  = "upload"
	KeyResults  = "tryon-results"
	KeyWishlist = "wishlist"
)

var ErrIndexOutOfRange = errors.New("garment index out of range")

type pageDocument model.TryOnPageState

func (d pageDocument) Guarded(admit func(string) bool) (interface{}, bool) {
	admitted := true
	out := pageDocument{ModelImage: d.ModelImage, OriginTab: d.OriginTab}
	if !admit(out.ModelImage) {
		out.ModelImage = ""
		admitted = false
	}
	out.Garments = make([]model.GarmentEntry, len(d.Garments))
	for i, g := range d.Garments {
		if !admit(g.Image) {
			g.Image = ""
			admitted = false
		}
		out.Garments[i] = g
	}
	return out, admitted
}

type uploadDocument model.UploadState

func (d uploadDocument) Guarded(admit func(string) bool) (interface{}, bool) {
	admitted := true
	out := d
	if !admit(out.Human.Preview) {
		out.Human.Preview = ""
		admitted = false
	}
	if !admit(out.Garment.Preview) {
		out.Garment.Preview = ""
		admitted = false
	}
	return out, admitted
}

type resultDocument map[model.JobKind]model.JobResultSnapshot

func (d resultDocument) Guarded(admit func(string) bool) (interface{}, bool) {
	admitted := true
	out := make(resultDocument, len(d))
	for k, v := range d {
		if !admit(v.Output) {
			v.Output = ""
			admitted = false
		}
		out[k] = v
	}
	return out, admitted
}

type wishlistDocument []int

func (d wishlistDocument) Guarded(func(string) bool) (interface{}, bool) {
	return d, true
}

// locker serializes read-modify-write cycles per key
type locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *locker) lock(key string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// PageStore keeps each user's try-on page working set: model photo, selected
// garments and the tab the user came from.
type PageStore struct {
	store  *GuardedStore
	prefix string
	locks  locker
}

func NewPageStore(store *GuardedStore, prefix string) *PageStore {
	return &PageStore{store: store, prefix: prefix}
}

// Get returns the page state, or the empty default state
func (p *PageStore) Get(ctx context.Context, userID string) (*model.TryOnPageState, error) {
	var doc pageDocument
	err := p.store.ReadJSON(ctx, Key(p.prefix, userID, KeyPage), &doc)
	if errors.Is(err, ErrNotFound) {
		return &model.TryOnPageState{Garments: []model.GarmentEntry{}, OriginTab: model.OriginTabSingle}, nil
	}
	if err != nil {
		return nil, err
	}
	state := model.TryOnPageState(doc)
	if state.Garments == nil {
		state.Garments = []model.GarmentEntry{}
	}
	if state.OriginTab == "" {
		state.OriginTab = model.OriginTabSingle
	}
	return &state, nil
}

func (p *PageStore) update(ctx context.Context, userID string, fn func(*model.TryOnPageState) error) (*model.TryOnPageState, model.PersistedValue, error) {
	key := Key(p.prefix, userID, KeyPage)
	unlock := p.locks.lock(key)
	defer unlock()

	state, err := p.Get(ctx, userID)
	if err != nil {
		return nil, model.PersistedValue{Key: key}, err
	}
	if err := fn(state); err != nil {
		return nil, model.PersistedValue{Key: key}, err
	}
	pv, err := p.store.WriteValue(ctx, key, pageDocument(*state))
	return state, pv, err
}

func (p *PageStore) SetModelImage(ctx context.Context, userID, image string) (*model.TryOnPageState, model.PersistedValue, error) {
	return p.update(ctx, userID, func(s *model.TryOnPageState) error {
		s.ModelImage = image
		return nil
	})
}

func (p *PageStore) SetGarments(ctx context.Context, userID string, garments []model.GarmentEntry) (*model.TryOnPageState, model.PersistedValue, error) {
	return p.update(ctx, userID, func(s *model.TryOnPageState) error {
		s.Garments = append([]model.GarmentEntry{}, garments...)
		return nil
	})
}

// AddGarment appends a garment. Entries are positional, so the same product
// may appear more than once.
func (p *PageStore) AddGarment(ctx context.Context, userID string, garment model.GarmentEntry) (*model.TryOnPageState, model.PersistedValue, error) {
	return p.update(ctx, userID, func(s *model.TryOnPageState) error {
		s.Garments = append(s.Garments, garment)
		return nil
	})
}

func (p *PageStore) RemoveGarment(ctx context.Context, userID string, index int) (*model.TryOnPageState, model.PersistedValue, error) {
	return p.update(ctx, userID, func(s *model.TryOnPageState) error {
		if index < 0 || index >= len(s.Garments) {
			return ErrIndexOutOfRange
		}
		s.Garments = append(s.Garments[:index], s.Garments[index+1:]...)
		return nil
	})
}

func (p *PageStore) SetOriginTab(ctx context.Context, userID, tab string) (*model.TryOnPageState, model.PersistedValue, error) {
	return p.update(ctx, userID, func(s *model.TryOnPageState) error {
		s.OriginTab = tab
		return nil
	})
}

// Replace overwrites the whole page state
func (p *PageStore) Replace(ctx context.Context, userID string, next model.TryOnPageState) (*model.TryOnPageState, model.PersistedValue, error) {
	return p.update(ctx, userID, func(s *model.TryOnPageState) error {
		s.ModelImage = next.ModelImage
		s.Garments = append([]model.GarmentEntry{}, next.Garments...)
		if next.OriginTab != "" {
			s.OriginTab = next.OriginTab
		}
		return nil
	})
}

// Clear drops the page state from both tiers
func (p *PageStore) Clear(ctx context.Context, userID string) error {
	return p.store.Delete(ctx, Key(p.prefix, userID, KeyPage))
}

// Persist commits the in-memory page state to the durable tier, guarding the model
// photo and every garment image individually.
func (p *PageStore) Persist(ctx context.Context, userID string) (model.PersistedValue, error) {
	pv, err := p.store.Commit(ctx, Key(p.prefix, userID, KeyPage))
	if errors.Is(err, ErrNotFound) {
		return pv, nil
	}
	return pv, err
}

// UploadStateStore keeps the last uploaded asset and preview per image role
type UploadStateStore struct {
	store  *GuardedStore
	prefix string
	locks  locker
}

func NewUploadStateStore(store *GuardedStore, prefix string) *UploadStateStore {
	return &UploadStateStore{store: store, prefix: prefix}
}

func (u *UploadStateStore) Get(ctx context.Context, userID string) (*model.UploadState, error) {
	var doc uploadDocument
	err := u.store.ReadJSON(ctx, Key(u.prefix, userID, KeyUploads), &doc)
	if errors.Is(err, ErrNotFound) {
		return &model.UploadState{}, nil
	}
	if err != nil {
		return nil, err
	}
	state := model.UploadState(doc)
	return &state, nil
}

// SetSlot records an upload for role. A nil asset clears the slot, which is how
// a failed upload drops stale state.
func (u *UploadStateStore) SetSlot(ctx context.Context, userID string, role model.ImageRole, asset *model.UploadedAsset, preview string) (*model.UploadState, model.PersistedValue, error) {
	key := Key(u.prefix, userID, KeyUploads)
	unlock := u.locks.lock(key)
	defer unlock()

	state, err := u.Get(ctx, userID)
	if err != nil {
		return nil, model.PersistedValue{Key: key}, err
	}
	slot := model.UploadSlot{Asset: asset, Preview: preview}
	switch role {
	case model.ImageRoleHuman:
		state.Human = slot
	case model.ImageRoleGarment:
		state.Garment = slot
	default:
		return nil, model.PersistedValue{Key: key}, fmt.Errorf("unknown image role %q", role)
	}
	pv, err := u.store.WriteValue(ctx, key, uploadDocument(*state))
	return state, pv, err
}

// ResultStore keeps the latest job outcome reference per kind
type ResultStore struct {
	store  *GuardedStore
	prefix string
	locks  locker
}

func NewResultStore(store *GuardedStore, prefix string) *ResultStore {
	return &ResultStore{store: store, prefix: prefix}
}

func (r *ResultStore) Get(ctx context.Context, userID string) (map[model.JobKind]model.JobResultSnapshot, error) {
	doc := resultDocument{}
	err := r.store.ReadJSON(ctx, Key(r.prefix, userID, KeyResults), &doc)
	if errors.Is(err, ErrNotFound) {
		return map[model.JobKind]model.JobResultSnapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[model.JobKind]model.JobResultSnapshot(doc), nil
}

func (r *ResultStore) Put(ctx context.Context, userID string, snap model.JobResultSnapshot) (model.PersistedValue, error) {
	return r.mutate(ctx, userID, func(doc resultDocument) { doc[snap.Kind] = snap })
}

func (r *ResultStore) Clear(ctx context.Context, userID string, kind model.JobKind) (model.PersistedValue, error) {
	return r.mutate(ctx, userID, func(doc resultDocument) { delete(doc, kind) })
}

func (r *ResultStore) mutate(ctx context.Context, userID string, fn func(resultDocument)) (model.PersistedValue, error) {
	key := Key(r.prefix, userID, KeyResults)
	unlock := r.locks.lock(key)
	defer unlock()

	current, err := r.Get(ctx, userID)
	if err != nil {
		return model.PersistedValue{Key: key}, err
	}
	doc := resultDocument(current)
	fn(doc)
	return r.store.WriteValue(ctx, key, doc)
}

// WishlistStore keeps the product ids a user saved
type WishlistStore struct {
	store  *GuardedStore
	prefix string
	locks  locker
}

func NewWishlistStore(store *GuardedStore, prefix string) *WishlistStore {
	return &WishlistStore{store: store, prefix: prefix}
}

func (w *WishlistStore) Get(ctx context.Context, userID string) ([]int, error) {
	var doc wishlistDocument
	err := w.store.ReadJSON(ctx, Key(w.prefix, userID, KeyWishlist), &doc)
	if errors.Is(err, ErrNotFound) {
		return []int{}, nil
	}
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return []int{}, nil
	}
	return []int(doc), nil
}

// Toggle adds or removes productID and reports whether it is now in the list
func (w *WishlistStore) Toggle(ctx context.Context, userID string, productID int) ([]int, bool, error) {
	key := Key(w.prefix, userID, KeyWishlist)
	unlock := w.locks.lock(key)
	defer unlock()

	ids, err := w.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	added := true
	next := make([]int, 0, len(ids)+1)
	for _, id := range ids {
		if id == productID {
			added = false
			continue
		}
		next = append(next, id)
	}
	if added {
		next = append(next, productID)
	}
	if _, err := w.store.WriteValue(ctx, key, wishlistDocument(next)); err != nil {
		return nil, false, err
	}
	return next, added, nil
}

// Set replaces the list, dropping duplicates
func (w *WishlistStore) Set(ctx context.Context, userID string, ids []int) ([]int, error) {
	seen := make(map[int]bool, len(ids))
	uniq := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	if _, err := w.store.WriteValue(ctx, Key(w.prefix, userID, KeyWishlist), wishlistDocument(uniq)); err != nil {
		return nil, err
	}
	return uniq, nil
}

func (w *WishlistStore) Clear(ctx context.Context, userID string) error {
	return w.store.Delete(ctx, Key(w.prefix, userID, KeyWishlist))
}
