package remote

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/warp/delivery-tracker/tracker"
)

// Operation names, as counted by Memory.Calls.
const (
	OpProbe                = "probe"
	OpEnsureSchema         = "ensure schema"
	OpSaveStore            = "save store"
	OpSaveDelivery         = "save delivery"
	OpListStores           = "list stores"
	OpListDeliveriesByDate = "list deliveries by date"
	OpListDeliveries       = "list deliveries"
	OpDeleteDelivery       = "delete delivery"
	OpDeleteStore          = "delete store"
)

var (
	errMemoryOffline = errors.New("connection refused")
	errMemoryNoTable = errors.New("no such table")
)

// Memory is an in-process Client with fault injection. It behaves like a
// remote with the schema already provisioned until DropSchema is called.
type Memory struct {
	mu sync.Mutex

	stores     []tracker.Store
	deliveries []tracker.Delivery

	offline      bool
	schemaReady  bool
	schemaBroken bool
	linger       map[string]bool
	failDelete   map[string]bool
	calls        map[string]int
}

// NewMemory creates an empty, reachable in-memory remote.
func NewMemory() *Memory {
	return &Memory{
		schemaReady: true,
		linger:      make(map[string]bool),
		failDelete:  make(map[string]bool),
		calls:       make(map[string]int),
	}
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// SetOffline makes every operation fail with a RemoteError while true.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// DropSchema makes data operations fail with a SchemaError until the next
// EnsureSchema. Stored records are kept.
func (m *Memory) DropSchema() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemaReady = false
}

// BreakSchema makes EnsureSchema succeed without provisioning anything.
func (m *Memory) BreakSchema(broken bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemaBroken = broken
}

// Linger makes deletes of id report success while the record stays.
func (m *Memory) Linger(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linger[id] = true
}

// FailDelete makes deletes of id fail with a RemoteError.
func (m *Memory) FailDelete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDelete[id] = true
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of operations invoked.
func (m *Memory) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// ResetCalls zeroes the call counters.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
}

// enter counts op and applies the injected faults. Callers hold m.mu.
func (m *Memory) enter(op string, needsSchema bool) error {
	m.calls[op]++
	if m.offline {
		return &tracker.RemoteError{Op: op, Err: errMemoryOffline}
	}
	if needsSchema && !m.schemaReady {
		return &tracker.SchemaError{Op: op, Err: errMemoryNoTable}
	}
	return nil
}

// =============================================================================
// CLIENT
// =============================================================================

func (m *Memory) Probe(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter(OpProbe, false)
}

func (m *Memory) EnsureSchema(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpEnsureSchema, false); err != nil {
		return err
	}
	if !m.schemaBroken {
		m.schemaReady = true
	}
	return nil
}

func (m *Memory) SaveStore(_ context.Context, s tracker.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSaveStore, true); err != nil {
		return err
	}
	for i, existing := range m.stores {
		if existing.ID == s.ID {
			m.stores[i] = s
			return nil
		}
	}
	m.stores = append(m.stores, s)
	return nil
}

func (m *Memory) SaveDelivery(_ context.Context, d tracker.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSaveDelivery, true); err != nil {
		return err
	}
	for i, existing := range m.deliveries {
		if existing.ID == d.ID {
			m.deliveries[i] = d
			return nil
		}
	}
	m.deliveries = append(m.deliveries, d)
	return nil
}

func (m *Memory) ListStores(_ context.Context) ([]tracker.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpListStores, true); err != nil {
		return nil, err
	}
	return append([]tracker.Store{}, m.stores...), nil
}

func (m *Memory) ListDeliveriesByDate(_ context.Context, day tracker.Day) ([]tracker.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpListDeliveriesByDate, true); err != nil {
		return nil, err
	}
	out := []tracker.Delivery{}
	for _, d := range m.deliveries {
		if d.Date == day {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) ListDeliveries(_ context.Context) ([]tracker.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpListDeliveries, true); err != nil {
		return nil, err
	}
	out := append([]tracker.Delivery{}, m.deliveries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

func (m *Memory) DeleteDelivery(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpDeleteDelivery, true); err != nil {
		return err
	}
	if m.failDelete[id] {
		return &tracker.RemoteError{Op: OpDeleteDelivery, Err: errMemoryOffline}
	}
	if m.linger[id] {
		return nil
	}
	kept := m.deliveries[:0]
	for _, d := range m.deliveries {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	m.deliveries = kept
	return nil
}

func (m *Memory) DeleteStore(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpDeleteStore, true); err != nil {
		return err
	}
	if m.failDelete[id] {
		return &tracker.RemoteError{Op: OpDeleteStore, Err: errMemoryOffline}
	}
	if m.linger[id] {
		return nil
	}
	kept := m.stores[:0]
	for _, s := range m.stores {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	m.stores = kept
	return nil
}
