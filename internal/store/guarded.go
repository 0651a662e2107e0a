package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/internal/metrics"
	"github.com/vizzle/studio/internal/model"
)

// DefaultAdmissionThreshold is the largest decoded payload, in bytes, written to
// the durable tier.
const DefaultAdmissionThreshold = 1024 * 1024

// DefaultVolatileTTL is how long an untouched value stays in memory
const DefaultVolatileTTL = 24 * time.Hour

var ErrNotFound = errors.New("value not found")

// Guarded is implemented by documents that carry image payloads. Guarded returns
// the durable form with every payload the admit func rejects replaced by an empty
// placeholder, and whether everything was admitted.
type Guarded interface {
	Guarded(admit func(string) bool) (durable interface{}, admitted bool)
}

type entry struct {
	raw string
	doc Guarded
}

// GuardedStore persists values to a durable Backend unless they are image payloads
// above the admission threshold. Every written value is also kept in a volatile
// in-memory cache, so reads in this process see the full value until it has gone
// unread for the volatile TTL.
type GuardedStore struct {
	backend   Backend
	threshold int
	log       *logger.Logger
	metrics   *metrics.Metrics
	volatile  *ttlcache.Cache[string, entry]
}

// GuardedOption configures a GuardedStore
type GuardedOption func(*guardedOptions)

type guardedOptions struct {
	volatileTTL time.Duration
}

// WithVolatileTTL sets how long an unread value stays in memory. Reads extend it.
func WithVolatileTTL(ttl time.Duration) GuardedOption {
	return func(o *guardedOptions) {
		if ttl > 0 {
			o.volatileTTL = ttl
		}
	}
}

// NewGuardedStore creates a store. threshold <= 0 uses DefaultAdmissionThreshold.
// metrics may be nil.
func NewGuardedStore(backend Backend, threshold int, log *logger.Logger, m *metrics.Metrics, opts ...GuardedOption) *GuardedStore {
	if threshold <= 0 {
		threshold = DefaultAdmissionThreshold
	}
	o := guardedOptions{volatileTTL: DefaultVolatileTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return &GuardedStore{
		backend:   backend,
		threshold: threshold,
		log:       log.With("component", "guarded_store"),
		metrics:   m,
		volatile:  ttlcache.New[string, entry](ttlcache.WithTTL[string, entry](o.volatileTTL)),
	}
}

// RunJanitor frees expired volatile values, and expired backend values when the
// backend keeps them in memory, until ctx is done. Values stay readable afterwards.
func (s *GuardedStore) RunJanitor(ctx context.Context) {
	go s.volatile.Start()
	if j, ok := s.backend.(interface{ RunJanitor(context.Context) }); ok {
		go j.RunJanitor(ctx)
	}
	<-ctx.Done()
	s.volatile.Stop()
}

// VolatileLen reports how many values are held in memory
func (s *GuardedStore) VolatileLen() int {
	return s.volatile.Len()
}

// peek returns the volatile entry for key without extending its TTL
func (s *GuardedStore) peek(key string) (entry, bool) {
	item := s.volatile.Get(key, ttlcache.WithDisableTouchOnHit[string, entry]())
	if item == nil {
		return entry{}, false
	}
	return item.Value(), true
}

// Key builds a namespaced key: <prefix>:<userID>:<name>
func Key(prefix, userID, name string) string {
	return prefix + ":" + userID + ":" + name
}

// Admit reports whether value may go to the durable tier. Only data URIs are
// inspected; their decoded size is estimated as 3/4 of the encoded length.
func (s *GuardedStore) Admit(value string) bool {
	if !model.IsDataURI(value) {
		return true
	}
	return len(value)*3/4 <= s.threshold
}

// Write stores a scalar value. The durable tier receives the value if admitted,
// an empty placeholder otherwise.
func (s *GuardedStore) Write(ctx context.Context, key, value string) (model.PersistedValue, error) {
	s.volatile.Set(key, entry{raw: value}, ttlcache.DefaultTTL)

	return s.commitScalar(ctx, key, value)
}

// WriteValue stores a document, guarding each of its payload fields individually.
func (s *GuardedStore) WriteValue(ctx context.Context, key string, doc Guarded) (model.PersistedValue, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return model.PersistedValue{Key: key}, fmt.Errorf("failed to marshal value: %w", err)
	}

	s.volatile.Set(key, entry{raw: string(raw), doc: doc}, ttlcache.DefaultTTL)

	return s.commitDocument(ctx, key, string(raw), doc)
}

// Read returns the value for key, preferring the volatile cache and extending its
// TTL. An empty durable placeholder reads as absent.
func (s *GuardedStore) Read(ctx context.Context, key string) (string, bool, error) {
	if item := s.volatile.Get(key); item != nil {
		e := item.Value()
		return e.raw, e.raw != "", nil
	}

	val, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok || val == "" {
		return "", false, nil
	}
	return val, true, nil
}

// ReadJSON decodes the value for key into out. Returns ErrNotFound when absent.
func (s *GuardedStore) ReadJSON(ctx context.Context, key string, out interface{}) error {
	raw, ok, err := s.Read(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// Delete removes key from both tiers
func (s *GuardedStore) Delete(ctx context.Context, key string) error {
	s.volatile.Delete(key)

	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Commit re-applies the admission policy to the volatile value of key and writes
// the result to the durable tier.
func (s *GuardedStore) Commit(ctx context.Context, key string) (model.PersistedValue, error) {
	e, ok := s.peek(key)
	if !ok {
		return model.PersistedValue{Key: key}, ErrNotFound
	}
	if e.doc != nil {
		return s.commitDocument(ctx, key, e.raw, e.doc)
	}
	return s.commitScalar(ctx, key, e.raw)
}

// Snapshot commits every volatile value, in key order.
func (s *GuardedStore) Snapshot(ctx context.Context) ([]model.PersistedValue, error) {
	keys := s.volatile.Keys()
	sort.Strings(keys)

	results := make([]model.PersistedValue, 0, len(keys))
	for _, k := range keys {
		pv, err := s.Commit(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return results, err
		}
		results = append(results, pv)
	}
	return results, nil
}

func (s *GuardedStore) commitScalar(ctx context.Context, key, value string) (model.PersistedValue, error) {
	pv := model.PersistedValue{Key: key, Payload: value, Admitted: s.Admit(value)}
	durable := value
	if !pv.Admitted {
		durable = ""
		s.skipped(key, len(value))
	}
	if err := s.backend.Set(ctx, key, durable); err != nil {
		return pv, fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return pv, nil
}

func (s *GuardedStore) commitDocument(ctx context.Context, key, raw string, doc Guarded) (model.PersistedValue, error) {
	durableDoc, admitted := doc.Guarded(s.Admit)
	pv := model.PersistedValue{Key: key, Payload: raw, Admitted: admitted}

	durable, err := json.Marshal(durableDoc)
	if err != nil {
		return pv, fmt.Errorf("failed to marshal durable value: %w", err)
	}
	if !admitted {
		s.skipped(key, len(raw))
	}
	if err := s.backend.Set(ctx, key, string(durable)); err != nil {
		return pv, fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return pv, nil
}

func (s *GuardedStore) skipped(key string, size int) {
	name := key
	if i := strings.LastIndex(key, ":"); i >= 0 {
		name = key[i+1:]
	}
	s.metrics.StorageSkipped(name)
	s.log.Warn("storage quota skipped, keeping value in memory only", "key", name, "encoded_bytes", size)
}
