package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/custody-ledger/internal/adapter/storage"
	"github.com/rl1809/custody-ledger/internal/core/domain"
	"github.com/rl1809/custody-ledger/internal/port"
)

// fakeClock advances one second per call so tests see distinct timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("ev-%03d", n.Add(1)) }
}

func newTestService(opts ...Option) (*CustodyService, *storage.MemoryAdapter) {
	store := storage.NewMemoryAdapter()
	base := []Option{WithClock(newFakeClock().Now), WithIDGenerator(sequentialIDs())}
	return NewCustodyService(store, nil, append(base, opts...)...), store
}

func vestRequest(requestID string, action domain.Action, qty int) domain.ApplyRequest {
	return domain.ApplyRequest{
		SubjectID:   "S",
		SubjectName: "Pvt. S",
		Category:    domain.CategoryClothing,
		Action:      action,
		Items:       []domain.Item{{ItemID: "vest", ItemName: "Vest", Quantity: qty}},
		ActorID:     "quartermaster",
		RequestID:   requestID,
	}
}

func weaponRequest(requestID string, action domain.Action, serials ...string) domain.ApplyRequest {
	return domain.ApplyRequest{
		SubjectID:   "S",
		SubjectName: "Pvt. S",
		Category:    domain.CategoryWeapons,
		Action:      action,
		Items:       []domain.Item{{ItemID: "rifle", ItemName: "Rifle", Quantity: len(serials), Serials: serials}},
		ActorID:     "armorer",
		RequestID:   requestID,
	}
}

// mockCacheRepo is an in-process port.CacheRepository.
type mockCacheRepo struct {
	mu      sync.Mutex
	results map[string]domain.Result
	gets    int
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{results: make(map[string]domain.Result)}
}

func (m *mockCacheRepo) GetResult(_ context.Context, key string) (*domain.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	r, ok := m.results[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *mockCacheRepo) PutResult(_ context.Context, key string, result domain.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[key]; !ok {
		m.results[key] = result
	}
	return nil
}

type mockLocker struct {
	err      error
	acquired atomic.Int32
	released atomic.Int32
}

func (m *mockLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.acquired.Add(1)
	return func(context.Context) error {
		m.released.Add(1)
		return nil
	}, nil
}

type mockMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	retries  int
	drift    map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{outcomes: make(map[string]int), drift: make(map[string]int)}
}

func (m *mockMetrics) Observe(_ context.Context, operation, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[operation+"/"+outcome]++
}

func (m *mockMetrics) Retry(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *mockMetrics) Drift(category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drift[category]++
}

// conflictingStore always reports a write conflict on commit.
type conflictingStore struct {
	*storage.MemoryAdapter
	attempts atomic.Int32
}

func (c *conflictingStore) AtomicReadModifyWrite(ctx context.Context, key domain.HoldingKey, fn func(context.Context, port.Tx) error) error {
	c.attempts.Add(1)
	return c.MemoryAdapter.AtomicReadModifyWrite(ctx, key, func(ctx context.Context, tx port.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return port.ErrWriteConflict
	})
}
