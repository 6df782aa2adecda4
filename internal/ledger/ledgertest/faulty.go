// Package ledgertest provides ledger clients with injectable failures.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"clubbot/internal/ledger"
	"clubbot/internal/timer"
)

// ErrInjected is returned by every failing call.
var ErrInjected = errors.New("ledgertest: injected failure")

// Faulty wraps a client and fails reads or writes for chosen tenants.
type Faulty struct {
	Next ledger.Client

	mu           sync.Mutex
	failReads    map[string]bool
	failWrites   map[string]bool
	failStateIDs map[string]bool
	calls        int
}

func NewFaulty(next ledger.Client) *Faulty {
	return &Faulty{
		Next:         next,
		failReads:    map[string]bool{},
		failWrites:   map[string]bool{},
		failStateIDs: map[string]bool{},
	}
}

func (f *Faulty) FailReads(tenant string)  { f.set(f.failReads, tenant) }
func (f *Faulty) FailWrites(tenant string) { f.set(f.failWrites, tenant) }

// FailStateChange fails SetTimerState for the timer id in any tenant.
func (f *Faulty) FailStateChange(id string) { f.set(f.failStateIDs, id) }

// Calls returns the number of calls seen so far.
func (f *Faulty) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Faulty) set(m map[string]bool, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m[key] = true
}

func (f *Faulty) check(m map[string]bool, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if m[key] {
		return ErrInjected
	}
	return nil
}

func (f *Faulty) ListTimers(ctx context.Context, tenant string) ([]timer.Timer, error) {
	if err := f.check(f.failReads, tenant); err != nil {
		return nil, err
	}
	return f.Next.ListTimers(ctx, tenant)
}

func (f *Faulty) ListEntities(ctx context.Context, tenant string, kind timer.RefType) ([]timer.Entity, error) {
	if err := f.check(f.failReads, tenant); err != nil {
		return nil, err
	}
	return f.Next.ListEntities(ctx, tenant, kind)
}

func (f *Faulty) UpsertTimer(ctx context.Context, tenant string, t timer.Timer) error {
	if err := f.check(f.failWrites, tenant); err != nil {
		return err
	}
	return f.Next.UpsertTimer(ctx, tenant, t)
}

func (f *Faulty) SetTimerState(ctx context.Context, tenant, id string, state timer.State) error {
	if err := f.check(f.failWrites, tenant); err != nil {
		return err
	}
	if err := f.check(f.failStateIDs, id); err != nil {
		return err
	}
	return f.Next.SetTimerState(ctx, tenant, id, state)
}

func (f *Faulty) DeleteTimers(ctx context.Context, tenant string, ids []string) (int, error) {
	if err := f.check(f.failWrites, tenant); err != nil {
		return 0, err
	}
	return f.Next.DeleteTimers(ctx, tenant, ids)
}

func (f *Faulty) AppendAudit(ctx context.Context, tenant string, e ledger.AuditEntry) error {
	if err := f.check(f.failWrites, tenant); err != nil {
		return err
	}
	return f.Next.AppendAudit(ctx, tenant, e)
}

func (f *Faulty) PruneAudit(ctx context.Context, tenant string, before time.Time) (int, error) {
	if err := f.check(f.failWrites, tenant); err != nil {
		return 0, err
	}
	return f.Next.PruneAudit(ctx, tenant, before)
}
