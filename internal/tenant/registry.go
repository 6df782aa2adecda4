// Package tenant keeps the set of guilds the reminder subsystem serves.
package tenant

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"clubbot/internal/timer"
)

var ErrUnknownTenant = errors.New("tenant: unknown tenant")

// Tenant is one guild: its default channels and display timezone.
type Tenant struct {
	ID       string
	Name     string
	Channels timer.Channels
	Location *time.Location
	Enabled  bool
}

// Loc returns the display timezone, UTC when unset.
func (t Tenant) Loc() *time.Location {
	if t.Location == nil {
		return time.UTC
	}
	return t.Location
}

// Registry is a concurrency-safe tenant table owned by the composition root.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

func NewRegistry() *Registry {
	return &Registry{tenants: map[string]Tenant{}}
}

func (r *Registry) Add(t Tenant) error {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return errors.New("tenant id is required")
	}
	r.mu.Lock()
	r.tenants[t.ID] = t
	r.mu.Unlock()
	return nil
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[id]; !ok {
		return false
	}
	delete(r.tenants, id)
	return true
}

func (r *Registry) Get(id string) (Tenant, error) {
	r.mu.RLock()
	t, ok := r.tenants[id]
	r.mu.RUnlock()
	if !ok {
		return Tenant{}, fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}
	return t, nil
}

// List returns the enabled tenants sorted by id.
func (r *Registry) List() []Tenant {
	r.mu.RLock()
	out := make([]Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		if t.Enabled {
			out = append(out, t)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sync replaces the table with want and reports which ids were added and removed.
// Tenants present in both are updated in place.
func (r *Registry) Sync(want []Tenant) (added, removed []string) {
	next := make(map[string]Tenant, len(want))
	for _, t := range want {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			continue
		}
		t.ID = id
		next[id] = t
	}

	r.mu.Lock()
	for id := range next {
		if _, ok := r.tenants[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range r.tenants {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	r.tenants = next
	r.mu.Unlock()

	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
