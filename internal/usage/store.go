// Package usage counts subscription-provider usage per wall-clock hour.
//
// Counters are applied to local state synchronously and pushed to an optional
// shared Backend in the background. A failed push leaves the amount in the
// counter's unsynced balance and marks the counter degraded; the local value
// stays authoritative until a later push or refresh reconciles it.
package usage

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

const (
	BucketWidth     = time.Hour
	defaultCacheTTL = time.Second
	defaultKeyTTL   = 2 * BucketWidth
	defaultTimeout  = 5 * time.Second
)

// Backend is a shared key/value counter store with expiring keys. IncrBy must
// be atomic across processes and only set the expiry when it creates a key.
type Backend interface {
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, bool, error)
	Close() error
}

type counter struct {
	bucket    int64
	value     int64
	unsynced  int64
	fetchedAt time.Time
	degraded  bool
}

type Store struct {
	backend  Backend
	now      func() time.Time
	cacheTTL time.Duration
	keyTTL   time.Duration
	timeout  time.Duration
	logger   *log.Logger

	mu       sync.Mutex
	counters map[string]*counter
	refresh  singleflight.Group
	pending  sync.WaitGroup
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) { s.cacheTTL = ttl }
}

// WithKeyTTL sets the shared-key expiry; values below two bucket widths are
// raised to that floor.
func WithKeyTTL(ttl time.Duration) Option {
	return func(s *Store) { s.keyTTL = ttl }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore builds a store. A nil backend runs the in-process fallback only.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		now:      time.Now,
		cacheTTL: defaultCacheTTL,
		keyTTL:   defaultKeyTTL,
		timeout:  defaultTimeout,
		counters: map[string]*counter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultCacheTTL
	}
	if s.keyTTL < defaultKeyTTL {
		s.keyTTL = defaultKeyTTL
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	return s
}

func (s *Store) Shared() bool {
	return s.backend != nil
}

func BucketOf(t time.Time) int64 {
	return t.Unix() / int64(BucketWidth/time.Second)
}

func BucketStart(bucket int64) time.Time {
	return time.Unix(bucket*int64(BucketWidth/time.Second), 0).UTC()
}

// NextReset is when the bucket containing t ends.
func NextReset(t time.Time) time.Time {
	return BucketStart(BucketOf(t) + 1)
}

func BucketKey(provider, resource string, bucket int64) string {
	return fmt.Sprintf("llm_usage:%s:%s:%d", provider, resource, bucket)
}

func localKey(provider, resource string) string {
	return provider + "|" + resource
}

// counterLocked returns the counter for the current bucket, starting a fresh
// one when the hour has rolled over.
func (s *Store) counterLocked(provider, resource string, bucket int64) *counter {
	key := localKey(provider, resource)
	c, ok := s.counters[key]
	if !ok || c.bucket != bucket {
		c = &counter{bucket: bucket}
		s.counters[key] = c
	}
	return c
}

// Record adds delta to the current bucket. The local value is updated before
// Record returns; the shared write happens in the background.
func (s *Store) Record(provider, resource string, delta int64) {
	if delta <= 0 {
		return
	}
	bucket := BucketOf(s.now())

	s.mu.Lock()
	c := s.counterLocked(provider, resource, bucket)
	c.value += delta
	if s.backend == nil {
		s.mu.Unlock()
		return
	}
	amount := delta + c.unsynced
	c.unsynced = 0
	s.mu.Unlock()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.push(provider, resource, bucket, amount)
	}()
}

func (s *Store) push(provider, resource string, bucket, amount int64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	total, err := s.backend.IncrBy(ctx, BucketKey(provider, resource, bucket), amount, s.keyTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[localKey(provider, resource)]
	if !ok || c.bucket != bucket {
		// The hour rolled over while the write was in flight.
		return
	}
	if err != nil {
		c.unsynced += amount
		if !c.degraded {
			s.logger.Printf("usage shared write failed provider=%s resource=%s amount=%d error=%v; counting locally", provider, resource, amount, err)
		}
		c.degraded = true
		return
	}
	c.degraded = false
	c.value = max(c.value, total+c.unsynced)
	c.fetchedAt = s.now()
}

// Count is the synchronous read: it never waits on the network and returns
// the last known value for the current bucket.
func (s *Store) Count(provider, resource string) int64 {
	bucket := BucketOf(s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterLocked(provider, resource, bucket).value
}

// CountContext refreshes from the shared backend when the cached value is
// older than the cache TTL, then returns the current count. Refresh failures
// degrade to the local value.
func (s *Store) CountContext(ctx context.Context, provider, resource string) int64 {
	if s.backend != nil && s.stale(provider, resource) {
		_ = s.Refresh(ctx, provider, resource)
	}
	return s.Count(provider, resource)
}

func (s *Store) stale(provider, resource string) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counterLocked(provider, resource, BucketOf(now))
	return c.fetchedAt.IsZero() || now.Sub(c.fetchedAt) >= s.cacheTTL
}

// Refresh reads the shared counter for the current bucket. Concurrent
// refreshes of the same key share one backend read.
func (s *Store) Refresh(ctx context.Context, provider, resource string) error {
	if s.backend == nil {
		return nil
	}
	bucket := BucketOf(s.now())
	key := BucketKey(provider, resource, bucket)

	value, err, _ := s.refresh.Do(key, func() (any, error) {
		readCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		remote, _, err := s.backend.Get(readCtx, key)
		return remote, err
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counterLocked(provider, resource, bucket)
	if err != nil {
		if !c.degraded {
			s.logger.Printf("usage shared read failed provider=%s resource=%s error=%v; using local count", provider, resource, err)
		}
		c.degraded = true
		return domain.Internal("usage shared read failed", err)
	}
	remote, _ := value.(int64)
	c.value = max(c.value, remote+c.unsynced)
	c.fetchedAt = s.now()
	if c.unsynced == 0 {
		c.degraded = false
	}
	return nil
}

// Snapshot reports the current-hour counters for provider.
func (s *Store) Snapshot(ctx context.Context, provider string) domain.UsageState {
	state := domain.UsageState{
		Provider:               provider,
		CallsThisHour:          s.CountContext(ctx, provider, domain.ResourceCalls),
		SearchesThisHour:       s.CountContext(ctx, provider, domain.ResourceSearches),
		ThinkingTokensThisHour: s.CountContext(ctx, provider, domain.ResourceThinkingTokens),
		LastResetAt:            BucketStart(BucketOf(s.now())),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, resource := range []string{domain.ResourceCalls, domain.ResourceSearches, domain.ResourceThinkingTokens} {
		if c, ok := s.counters[localKey(provider, resource)]; ok && c.degraded {
			state.SharedStoreDegraded = true
		}
	}
	return state
}

// Flush waits for background shared writes to finish.
func (s *Store) Flush() {
	s.pending.Wait()
}

func (s *Store) Close() error {
	s.Flush()
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
