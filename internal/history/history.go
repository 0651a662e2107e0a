package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vizzle/studio/internal/model"
)

var ErrNotFound = errors.New("history entry not found")

// Recorder records successful try-ons. Callers treat failures as non-fatal.
type Recorder interface {
	Record(ctx context.Context, userID string, entry *model.TryOnHistoryEntry) error
}

// Store persists and lists history entries
type Store interface {
	Recorder
	List(ctx context.Context, userID string, limit int) ([]model.TryOnHistoryEntry, error)
	Delete(ctx context.Context, userID, id string) error
}

// NopRecorder discards entries. Used when no history backend is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, string, *model.TryOnHistoryEntry) error { return nil }

// MemoryStore keeps history in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]model.TryOnHistoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]model.TryOnHistoryEntry)}
}

func (m *MemoryStore) Record(_ context.Context, userID string, entry *model.TryOnHistoryEntry) error {
	prepare(userID, entry)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = append(m.entries[userID], *entry)
	return nil
}

func (m *MemoryStore) List(_ context.Context, userID string, limit int) ([]model.TryOnHistoryEntry, error) {
	m.mu.RLock()
	out := append([]model.TryOnHistoryEntry{}, m.entries[userID]...)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.entries[userID]
	for i, e := range entries {
		if e.ID == id {
			m.entries[userID] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// prepare assigns the id, owner and timestamp of a new entry
func prepare(userID string, entry *model.TryOnHistoryEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.UserID = userID
	if entry.Kind == "" {
		entry.Kind = model.JobKindTryOn
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
}
