package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/rl1809/custody-ledger/internal/core/domain"
	"github.com/rl1809/custody-ledger/internal/port"
)

var _ port.DatabaseRepository = (*MemoryAdapter)(nil)
var _ port.Roster = (*MemoryAdapter)(nil)

type requestKey struct {
	key       domain.HoldingKey
	requestID string
}

// MemoryAdapter is an in-process store with the same optimistic semantics as
// the SQL adapter: reads record versions, commit validates them.
type MemoryAdapter struct {
	mu        sync.RWMutex
	events    map[domain.HoldingKey][]domain.CustodyEvent
	committed map[requestKey]domain.CommittedEvent
	holdings  map[domain.HoldingKey]domain.Holding
	units     map[string]domain.SerialUnit
	bySerial  map[string]string
	groups    map[string]string
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		events:    make(map[domain.HoldingKey][]domain.CustodyEvent),
		committed: make(map[requestKey]domain.CommittedEvent),
		holdings:  make(map[domain.HoldingKey]domain.Holding),
		units:     make(map[string]domain.SerialUnit),
		bySerial:  make(map[string]string),
		groups:    make(map[string]string),
	}
}

type memoryTx struct {
	store *MemoryAdapter
	key   domain.HoldingKey

	holdingRead    bool
	holdingVersion int64
	unitVersions   map[string]int64

	holding *domain.Holding
	units   map[string]domain.SerialUnit
	event   *domain.CommittedEvent
}

func (m *MemoryAdapter) AtomicReadModifyWrite(ctx context.Context, key domain.HoldingKey, fn func(ctx context.Context, tx port.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{
		store:        m,
		key:          key,
		unitVersions: make(map[string]int64),
		units:        make(map[string]domain.SerialUnit),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *MemoryAdapter) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.holdingRead || tx.holding != nil {
		current := m.holdings[tx.key].Version
		expected := tx.holdingVersion
		if tx.holding != nil && !tx.holdingRead {
			expected = tx.holding.Version
		}
		if current != expected {
			return port.ErrWriteConflict
		}
	}
	for id, version := range tx.unitVersions {
		if m.units[id].Version != version {
			return port.ErrWriteConflict
		}
	}
	for id, u := range tx.units {
		if _, read := tx.unitVersions[id]; !read && m.units[id].Version != u.Version {
			return port.ErrWriteConflict
		}
	}
	if tx.event != nil {
		rk := requestKey{key: tx.key, requestID: tx.event.Event.RequestID}
		if _, exists := m.committed[rk]; exists {
			return port.ErrWriteConflict
		}
	}

	if tx.holding != nil {
		h := tx.holding.Clone()
		h.Version = m.holdings[tx.key].Version + 1
		m.holdings[tx.key] = h
	}
	for id, u := range tx.units {
		u.Version = m.units[id].Version + 1
		m.units[id] = u
	}
	if tx.event != nil {
		rk := requestKey{key: tx.key, requestID: tx.event.Event.RequestID}
		m.committed[rk] = *tx.event
		m.events[tx.key] = append(m.events[tx.key], tx.event.Event)
	}
	return nil
}

func (tx *memoryTx) FindCommitted(_ context.Context, requestID string) (*domain.CommittedEvent, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	ce, ok := tx.store.committed[requestKey{key: tx.key, requestID: requestID}]
	if !ok {
		return nil, nil
	}
	out := domain.CommittedEvent{Event: cloneEvent(ce.Event), Holding: ce.Holding.Clone()}
	return &out, nil
}

func (tx *memoryTx) GetHolding(_ context.Context) (domain.Holding, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	h, ok := tx.store.holdings[tx.key]
	if !ok {
		h = domain.NewHolding(tx.key)
	}
	if !tx.holdingRead {
		tx.holdingRead = true
		tx.holdingVersion = h.Version
	}
	return h.Clone(), nil
}

func (tx *memoryTx) ListEvents(_ context.Context) ([]domain.CustodyEvent, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return cloneEvents(tx.store.events[tx.key]), nil
}

func (tx *memoryTx) GetSerialUnits(_ context.Context, serials []string) ([]domain.SerialUnit, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	var out []domain.SerialUnit
	for _, serial := range serials {
		id, ok := tx.store.bySerial[serial]
		if !ok {
			continue
		}
		u := tx.store.units[id]
		if _, seen := tx.unitVersions[id]; !seen {
			tx.unitVersions[id] = u.Version
		}
		out = append(out, u.Clone())
	}
	return out, nil
}

func (tx *memoryTx) AppendEvent(_ context.Context, ev domain.CustodyEvent, result domain.Holding) error {
	tx.event = &domain.CommittedEvent{Event: cloneEvent(ev), Holding: result.Clone()}
	return nil
}

func (tx *memoryTx) PutHolding(_ context.Context, h domain.Holding) error {
	if h.Key() != tx.key {
		return port.ErrWriteConflict
	}
	c := h.Clone()
	tx.holding = &c
	return nil
}

func (tx *memoryTx) PutSerialUnit(_ context.Context, u domain.SerialUnit) error {
	tx.units[u.ID] = u.Clone()
	return nil
}

func (m *MemoryAdapter) GetHolding(_ context.Context, key domain.HoldingKey) (*domain.Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.holdings[key]
	if !ok {
		return nil, nil
	}
	c := h.Clone()
	return &c, nil
}

func (m *MemoryAdapter) ListEvents(_ context.Context, key domain.HoldingKey) ([]domain.CustodyEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneEvents(m.events[key]), nil
}

func (m *MemoryAdapter) ListHoldingKeys(_ context.Context, category domain.Category) ([]domain.HoldingKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []domain.HoldingKey
	for k := range m.holdings {
		if k.Category == category {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	return keys, nil
}

func (m *MemoryAdapter) ListLedgerKeys(_ context.Context, category domain.Category) ([]domain.HoldingKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []domain.HoldingKey
	for k, evs := range m.events {
		if k.Category == category && len(evs) > 0 {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	return keys, nil
}

// ReplaceHolding overwrites a live holding without touching the ledger.
// It exists so tests and repair tooling can simulate a corrupted projection.
func (m *MemoryAdapter) ReplaceHolding(h domain.Holding) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := h.Clone()
	c.Version = m.holdings[h.Key()].Version + 1
	m.holdings[h.Key()] = c
}

func (m *MemoryAdapter) CreateSerialUnit(_ context.Context, unit domain.SerialUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySerial[unit.SerialNumber]; exists {
		return port.ErrDuplicateKey
	}
	if _, exists := m.units[unit.ID]; exists {
		return port.ErrDuplicateKey
	}
	u := unit.Clone()
	u.Version = 1
	m.units[u.ID] = u
	m.bySerial[u.SerialNumber] = u.ID
	return nil
}

func (m *MemoryAdapter) GetSerialUnit(_ context.Context, id string) (*domain.SerialUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.units[id]
	if !ok {
		return nil, nil
	}
	c := u.Clone()
	return &c, nil
}

func (m *MemoryAdapter) GetSerialUnitBySerial(ctx context.Context, serial string) (*domain.SerialUnit, error) {
	m.mu.RLock()
	id, ok := m.bySerial[serial]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return m.GetSerialUnit(ctx, id)
}

func (m *MemoryAdapter) ListSerialUnits(_ context.Context, category domain.Category, status domain.SerialStatus) ([]domain.SerialUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.SerialUnit
	for _, u := range m.units {
		if u.Category != category || (status != "" && u.Status != status) {
			continue
		}
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return out, nil
}

func (m *MemoryAdapter) DeleteSerialUnit(_ context.Context, id string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.units[id]
	if !ok || u.Version != version || u.Status != domain.SerialAvailable {
		return port.ErrWriteConflict
	}
	delete(m.units, id)
	delete(m.bySerial, u.SerialNumber)
	return nil
}

func (m *MemoryAdapter) SetGroup(_ context.Context, subjectID, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[subjectID] = group
	return nil
}

func (m *MemoryAdapter) GetGroup(_ context.Context, subjectID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[subjectID]
	if !ok {
		return "", &domain.NotFoundError{Kind: "roster entry", ID: subjectID}
	}
	return g, nil
}

func cloneEvent(ev domain.CustodyEvent) domain.CustodyEvent {
	out := ev
	out.Items = make([]domain.Item, len(ev.Items))
	for i, item := range ev.Items {
		out.Items[i] = item
		if item.Serials != nil {
			out.Items[i].Serials = append([]string(nil), item.Serials...)
		}
	}
	return out
}

func cloneEvents(evs []domain.CustodyEvent) []domain.CustodyEvent {
	out := make([]domain.CustodyEvent, len(evs))
	for i, ev := range evs {
		out[i] = cloneEvent(ev)
	}
	return out
}

func sortKeys(keys []domain.HoldingKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Category != keys[j].Category {
			return keys[i].Category < keys[j].Category
		}
		return keys[i].SubjectID < keys[j].SubjectID
	})
}
