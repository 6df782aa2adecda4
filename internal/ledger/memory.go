package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"clubbot/internal/timer"
)

// Memory is a process-local Store. It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	closed   bool
	now      func() time.Time
	timers   map[string]map[string]timer.Timer
	entities map[string]map[string]timer.Entity
	audit    map[string][]AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		timers:   map[string]map[string]timer.Timer{},
		entities: map[string]map[string]timer.Entity{},
		audit:    map[string][]AuditEntry{},
	}
}

// SetClock replaces the clock used to stamp UpdatedAt.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	m.now = now
}

// Seed stores t verbatim, bypassing validation and timestamping.
func (m *Memory) Seed(tenant string, t timer.Timer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenantTimers(tenant)[t.ID] = t
}

func (m *Memory) tenantTimers(tenant string) map[string]timer.Timer {
	ts, ok := m.timers[tenant]
	if !ok {
		ts = map[string]timer.Timer{}
		m.timers[tenant] = ts
	}
	return ts
}

func (m *Memory) ListTimers(ctx context.Context, tenant string) ([]timer.Timer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]timer.Timer, 0, len(m.timers[tenant]))
	for _, t := range m.timers[tenant] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpsertTimer(ctx context.Context, tenant string, t timer.Timer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: empty id", timer.ErrMalformed)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if t.State == "" {
		t.State = timer.StateActive
	}
	ts := m.tenantTimers(tenant)
	if cur, ok := ts[t.ID]; ok && cur.State.Terminal() {
		return nil
	}
	t.GuildID = tenant
	t.FireAt = t.FireAt.UTC()
	t.UpdatedAt = m.now().UTC()
	ts[t.ID] = t
	return nil
}

func (m *Memory) SetTimerState(ctx context.Context, tenant, id string, state timer.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !state.Valid() {
		return fmt.Errorf("invalid timer state %q", state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	ts := m.timers[tenant]
	t, ok := ts[id]
	if !ok {
		return fmt.Errorf("timer %s: %w", id, ErrNotFound)
	}
	t.State = state
	t.UpdatedAt = m.now().UTC()
	ts[id] = t
	return nil
}

func (m *Memory) DeleteTimers(ctx context.Context, tenant string, ids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	ts := m.timers[tenant]
	n := 0
	for _, id := range ids {
		if _, ok := ts[id]; ok {
			delete(ts, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListEntities(ctx context.Context, tenant string, kind timer.RefType) ([]timer.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := []timer.Entity{}
	for _, e := range m.entities[tenant] {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutEntity(ctx context.Context, tenant string, e timer.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("entity id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	es, ok := m.entities[tenant]
	if !ok {
		es = map[string]timer.Entity{}
		m.entities[tenant] = es
	}
	e.GuildID = tenant
	es[string(e.Kind)+"/"+e.ID] = e
	return nil
}

func (m *Memory) AppendAudit(ctx context.Context, tenant string, e AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = m.now()
	}
	m.audit[tenant] = append(m.audit[tenant], e)
	return nil
}

func (m *Memory) PruneAudit(ctx context.Context, tenant string, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	kept := m.audit[tenant][:0]
	n := 0
	for _, e := range m.audit[tenant] {
		if e.At.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.audit[tenant] = kept
	return n, nil
}

// Audit returns a copy of the audit log of tenant.
func (m *Memory) Audit(tenant string) []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit[tenant]...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
