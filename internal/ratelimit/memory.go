package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore keeps limiter records in process memory. Each instance of a
// horizontally scaled deployment enforces its own limit; use RedisStore when
// the limit must be shared.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]*Record
	now       func() time.Time
	retention time.Duration
	logger    *slog.Logger
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock replaces the time source
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// WithRetention sets how long idle records survive a sweep
func WithRetention(d time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithLogger sets the logger used by the janitor
func WithLogger(l *slog.Logger) MemoryOption {
	return func(m *MemoryStore) { m.logger = l }
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		records:   make(map[string]*Record),
		now:       time.Now,
		retention: DefaultRetention,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Allow records a request for identity and reports whether it may proceed
func (m *MemoryStore) Allow(identity string, maxRequests int, window time.Duration) bool {
	return m.decide(identity, maxRequests, window).Allowed
}

// Check implements Limiter. It never returns an error.
func (m *MemoryStore) Check(_ context.Context, identity string, maxRequests int, window time.Duration) (Decision, error) {
	return m.decide(identity, maxRequests, window), nil
}

func (m *MemoryStore) decide(identity string, maxRequests int, window time.Duration) Decision {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[identity]
	if !ok {
		rec = &Record{WindowStart: now}
		m.records[identity] = rec
	}
	return step(rec, now, maxRequests, window)
}

// Get returns a copy of the record for identity
func (m *MemoryStore) Get(identity string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[identity]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of tracked identities
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Sweep purges records whose window started before the retention ceiling.
// Records still serving a block are kept. Returns the number removed.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	cutoff := now.Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, rec := range m.records {
		if rec.Blocked && now.Before(rec.BlockedUntil) {
			continue
		}
		if rec.WindowStart.Before(cutoff) {
			delete(m.records, id)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps every interval until ctx is cancelled
func (m *MemoryStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					m.logger.Debug("Rate limit records purged", slog.Int("count", n))
				}
			}
		}
	}()
}
