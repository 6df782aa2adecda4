// Package reconcile converges stored timers toward the timers derived from
// the current task and meeting rows.
//
// A pass for one tenant:
//  1. load live tasks and meetings
//  2. derive the expected timer set
//  3. load the active task/meeting timers
//  4. insert expected timers that are missing
//  5. overwrite active timers whose fire time, channel or payload changed
//  6. cancel active timers that are no longer expected; timers of a blocked
//     task are marked blocked instead
//
// Non-active rows are never rewritten, and an expected id whose stored row is
// already terminal is left alone. Ad-hoc reminders are outside the diff.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clubbot/internal/eventbus"
	"clubbot/internal/ledger"
	"clubbot/internal/observability/metrics"
	"clubbot/internal/tenant"
	"clubbot/internal/timer"
	logx "clubbot/pkg/logx"
)

// Tenants lists the tenants a ReconcileAll pass covers.
type Tenants interface {
	List() []tenant.Tenant
}

type Config struct {
	// Concurrency bounds how many tenants reconcile at once.
	Concurrency int
}

// Result counts the writes of one tenant pass.
type Result struct {
	Added     int
	Updated   int
	Cancelled int
	Blocked   int
	Skipped   int // expected ids whose stored row is terminal
	Errors    int
}

func (r Result) Changed() int { return r.Added + r.Updated + r.Cancelled + r.Blocked }

func (r *Result) add(o Result) {
	r.Added += o.Added
	r.Updated += o.Updated
	r.Cancelled += o.Cancelled
	r.Blocked += o.Blocked
	r.Skipped += o.Skipped
	r.Errors += o.Errors
}

// Summary aggregates a ReconcileAll pass.
type Summary struct {
	Tenants int
	Failed  []string
	Total   Result
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	ledger  ledger.Client
	tenants Tenants
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(cfg Config, lc ledger.Client, tenants Tenants, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{ledger: lc, tenants: tenants, log: log, bus: bus, metrics: m, now: time.Now}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// SetClock replaces the time source, for tests and one-shot CLI runs.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Service) clock() time.Time {
	s.mu.Lock()
	now := s.now
	s.mu.Unlock()
	return now().UTC()
}

// ReconcileAll runs one pass for every enabled tenant. A failing tenant is
// logged and counted; it never stops the others.
func (s *Service) ReconcileAll(ctx context.Context) Summary {
	s.mu.Lock()
	limit := s.cfg.Concurrency
	s.mu.Unlock()

	tenants := s.tenants.List()
	var (
		mu  sync.Mutex
		sum = Summary{Tenants: len(tenants)}
	)
	var g errgroup.Group
	g.SetLimit(limit)
	for _, tn := range tenants {
		g.Go(func() error {
			res, err := s.Reconcile(ctx, tn)
			mu.Lock()
			defer mu.Unlock()
			sum.Total.add(res)
			if err != nil {
				sum.Failed = append(sum.Failed, tn.ID)
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(sum.Failed)
	return sum
}

// Reconcile runs one pass for tn. Load failures abort the pass; individual
// write failures are counted and the pass continues. The returned error is
// non-nil when anything failed.
func (s *Service) Reconcile(ctx context.Context, tn tenant.Tenant) (Result, error) {
	start := time.Now()
	log := s.log.With(logx.Guild(tn.ID))

	res, err := s.reconcile(ctx, tn, log)
	took := time.Since(start)
	s.metrics.ObserveReconcile(tn.ID, took)
	s.metrics.ReconcileOp(tn.ID, "added", res.Added)
	s.metrics.ReconcileOp(tn.ID, "updated", res.Updated)
	s.metrics.ReconcileOp(tn.ID, "cancelled", res.Cancelled)
	s.metrics.ReconcileOp(tn.ID, "blocked", res.Blocked)

	ev := eventbus.ReconcileEvent{
		Added: res.Added, Updated: res.Updated, Cancelled: res.Cancelled,
		Blocked: res.Blocked, Errors: res.Errors, Took: took,
	}
	if err != nil {
		s.metrics.ReconcileFailed(tn.ID)
		ev.Error = err.Error()
		log.Warn("reconcile failed", logx.Err(err), logx.Int("errors", res.Errors))
		s.bus.Publish(eventbus.Event{Type: eventbus.ReconcileFailed, Tenant: tn.ID, Data: ev})
		return res, err
	}
	if res.Changed() > 0 {
		log.Info("reconcile done",
			logx.Int("added", res.Added), logx.Int("updated", res.Updated),
			logx.Int("cancelled", res.Cancelled), logx.Int("blocked", res.Blocked),
			logx.Duration("took", took))
	} else {
		log.Debug("reconcile done, no changes", logx.Duration("took", took))
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.ReconcileDone, Tenant: tn.ID, Data: ev})
	return res, nil
}

func (s *Service) reconcile(ctx context.Context, tn tenant.Tenant, log logx.Logger) (Result, error) {
	var res Result
	now := s.clock()

	entities, err := s.loadEntities(ctx, tn.ID)
	if err != nil {
		return res, err
	}
	stored, err := s.ledger.ListTimers(ctx, tn.ID)
	if err != nil {
		return res, fmt.Errorf("loading timers: %w", err)
	}
	p := Diff(entities, stored, now, tn.Channels)
	if len(p.NoChannel) > 0 {
		log.Warn("timers without a channel were not stored",
			logx.Int("count", len(p.NoChannel)), logx.Strs("ids", p.NoChannel))
	}

	var errs []error
	fail := func(op, id string, err error) {
		res.Errors++
		errs = append(errs, fmt.Errorf("%s %s: %w", op, id, err))
		log.Warn("reconcile write failed", logx.String("op", op), logx.TimerID(id), logx.Err(err))
	}

	for _, t := range p.Add {
		if err := s.ledger.UpsertTimer(ctx, tn.ID, t); err != nil {
			fail("add", t.ID, err)
			continue
		}
		res.Added++
	}
	for _, t := range p.Update {
		if err := s.ledger.UpsertTimer(ctx, tn.ID, t); err != nil {
			fail("update", t.ID, err)
			continue
		}
		res.Updated++
	}
	for _, id := range p.Cancel {
		if err := s.ledger.SetTimerState(ctx, tn.ID, id, timer.StateCancelled); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				continue
			}
			fail("cancel", id, err)
			continue
		}
		res.Cancelled++
	}
	for _, id := range p.Block {
		if err := s.ledger.SetTimerState(ctx, tn.ID, id, timer.StateBlocked); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				continue
			}
			fail("block", id, err)
			continue
		}
		res.Blocked++
	}
	res.Skipped = p.Skipped

	if len(errs) > 0 {
		return res, fmt.Errorf("%d timer write(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return res, nil
}

func (s *Service) loadEntities(ctx context.Context, tenantID string) ([]timer.Entity, error) {
	var out []timer.Entity
	for _, kind := range []timer.RefType{timer.RefTask, timer.RefMeeting} {
		es, err := s.ledger.ListEntities(ctx, tenantID, kind)
		if err != nil {
			return nil, fmt.Errorf("loading %s rows: %w", kind, err)
		}
		out = append(out, es...)
	}
	return out, nil
}
