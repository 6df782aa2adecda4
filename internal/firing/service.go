// Package firing delivers due timers and retires old ones.
//
// Each Tick loads the active timers of every enabled tenant, sends the due
// ones through the notification sink and marks them fired or failed. There is
// no retry: a failed delivery stays failed. Delivery is at-least-once; a crash
// between send and state write re-sends on the next tick.
package firing

import (
	"context"
	"errors"
	"sync"
	"time"

	"clubbot/internal/eventbus"
	"clubbot/internal/ledger"
	"clubbot/internal/notifier"
	"clubbot/internal/observability/metrics"
	"clubbot/internal/tenant"
	"clubbot/internal/timer"
	logx "clubbot/pkg/logx"
)

type Tenants interface {
	List() []tenant.Tenant
}

type Config struct {
	// Tolerance lets a timer fire this much before its fire time.
	Tolerance time.Duration
	// SendTimeout bounds one sink call; a timeout counts as a failure.
	SendTimeout time.Duration
	// Retention is how long terminal timers are kept before cleanup deletes them.
	Retention time.Duration
}

// TickResult counts one tick across tenants.
type TickResult struct {
	Due     int
	Fired   int
	Failed  int
	Skipped int
	Errors  int // tenants whose timers could not be loaded
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	ledger  ledger.Client
	sink    notifier.Sink
	tenants Tenants
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
}

func New(cfg Config, lc ledger.Client, sink notifier.Sink, tenants Tenants, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{ledger: lc, sink: sink, tenants: tenants, log: log, bus: bus, metrics: m}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	if cfg.Tolerance < 0 {
		cfg.Tolerance = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Tick fires every due active timer of every enabled tenant.
func (s *Service) Tick(ctx context.Context, now time.Time) TickResult {
	start := time.Now()
	var total TickResult
	for _, tn := range s.tenants.List() {
		if ctx.Err() != nil {
			break
		}
		r := s.TickTenant(ctx, tn, now)
		total.Due += r.Due
		total.Fired += r.Fired
		total.Failed += r.Failed
		total.Skipped += r.Skipped
		total.Errors += r.Errors
	}
	s.metrics.ObserveTick(time.Since(start))
	if total.Due > 0 || total.Errors > 0 {
		s.log.Info("firing tick",
			logx.Int("due", total.Due), logx.Int("fired", total.Fired),
			logx.Int("failed", total.Failed), logx.Int("skipped", total.Skipped),
			logx.Int("tenant_errors", total.Errors))
	}
	return total
}

// TickTenant fires the due timers of one tenant.
func (s *Service) TickTenant(ctx context.Context, tn tenant.Tenant, now time.Time) TickResult {
	cfg := s.config()
	log := s.log.With(logx.Guild(tn.ID))
	var res TickResult

	ts, err := s.ledger.ListTimers(ctx, tn.ID)
	if err != nil {
		// Transient: the next tick tries again.
		log.Warn("loading timers failed", logx.Err(err))
		res.Errors++
		return res
	}

	active := 0
	for _, t := range ts {
		if !t.Active() {
			continue
		}
		active++
		// Malformed rows are reported once they are due, not every tick.
		if !t.Due(now, cfg.Tolerance) {
			continue
		}
		if err := t.Validate(); err != nil {
			res.Skipped++
			s.metrics.TimerSkipped(tn.ID)
			log.Warn("skipping malformed timer", logx.TimerID(t.ID), logx.Err(err))
			s.bus.Publish(eventbus.Event{Type: eventbus.TimerSkipped, Tenant: tn.ID, Data: eventbus.TimerEvent{ID: t.ID, Type: string(t.Type), Error: err.Error()}})
			continue
		}
		res.Due++
		if s.fire(ctx, tn, t, cfg, log) {
			res.Fired++
		} else {
			res.Failed++
		}
	}
	s.metrics.SetActive(tn.ID, active-res.Fired-res.Failed)
	return res
}

// fire sends t and records the outcome. It reports whether delivery succeeded.
func (s *Service) fire(ctx context.Context, tn tenant.Tenant, t timer.Timer, cfg Config, log logx.Logger) bool {
	log = log.With(logx.TimerID(t.ID), logx.String("type", string(t.Type)))
	ev := eventbus.TimerEvent{ID: t.ID, Type: string(t.Type), FireAt: t.FireAt}

	sendErr := s.send(ctx, tn, t, cfg)
	state := timer.StateFired
	if sendErr != nil {
		state = timer.StateFailed
		ev.Error = sendErr.Error()
	}

	if err := s.ledger.SetTimerState(ctx, tn.ID, t.ID, state); err != nil {
		// A fired timer that could not be marked is re-sent next tick.
		log.Warn("recording timer state failed", logx.String("state", string(state)), logx.Err(err))
	}

	if sendErr != nil {
		s.metrics.TimerFailed(tn.ID, string(t.Type))
		log.Warn("timer delivery failed", logx.Err(sendErr))
		s.bus.Publish(eventbus.Event{Type: eventbus.TimerFailed, Tenant: tn.ID, Data: ev})
		return false
	}
	s.metrics.TimerFired(tn.ID, string(t.Type))
	log.Info("timer fired")
	s.bus.Publish(eventbus.Event{Type: eventbus.TimerFired, Tenant: tn.ID, Data: ev})
	return true
}

func (s *Service) send(ctx context.Context, tn tenant.Tenant, t timer.Timer, cfg Config) error {
	if s.sink == nil {
		return errors.New("no notification sink")
	}
	text, err := notifier.Render(t, tn.Loc())
	if err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	return s.sink.Send(sctx, tn.ID, t.ChannelID, text)
}

// Cleanup deletes terminal timers whose last update (or fire time, when the
// update time is unknown) is older than the retention window, and audit
// entries older than the same window. It returns the number of timers deleted.
func (s *Service) Cleanup(ctx context.Context, now time.Time) int {
	total := 0
	for _, tn := range s.tenants.List() {
		if ctx.Err() != nil {
			break
		}
		n, err := s.CleanupTenant(ctx, tn, now)
		if err != nil {
			continue
		}
		total += n
	}
	if total > 0 {
		s.log.Info("timer cleanup", logx.Int("deleted", total), logx.Time("cutoff", now.Add(-s.config().Retention)))
	}
	return total
}

// CleanupTenant runs the retention pass for one tenant.
func (s *Service) CleanupTenant(ctx context.Context, tn tenant.Tenant, now time.Time) (int, error) {
	cutoff := now.Add(-s.config().Retention)
	log := s.log.With(logx.Guild(tn.ID))
	if pruned, err := s.ledger.PruneAudit(ctx, tn.ID, cutoff); err != nil {
		log.Warn("audit prune failed", logx.Err(err))
	} else if pruned > 0 {
		log.Debug("audit pruned", logx.Int("deleted", pruned))
	}
	n, err := s.cleanupTenant(ctx, tn.ID, cutoff)
	if err != nil {
		log.Warn("timer cleanup failed", logx.Err(err))
		return 0, err
	}
	if n > 0 {
		s.metrics.TimersDeleted(tn.ID, n)
		s.bus.Publish(eventbus.Event{Type: eventbus.CleanupDone, Tenant: tn.ID, Data: eventbus.CleanupEvent{Deleted: n}})
	}
	return n, nil
}

func (s *Service) cleanupTenant(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	ts, err := s.ledger.ListTimers(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, t := range ts {
		if !t.State.Terminal() {
			continue
		}
		last := t.UpdatedAt
		if last.IsZero() {
			last = t.FireAt
		}
		if last.IsZero() || last.Before(cutoff) {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return s.ledger.DeleteTimers(ctx, tenantID, ids)
}
