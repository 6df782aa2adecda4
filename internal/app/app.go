// Package app wires the reminder subsystem together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clubbot/internal/config"
	"clubbot/internal/eventbus"
	"clubbot/internal/firing"
	"clubbot/internal/ledger"
	"clubbot/internal/notifier"
	"clubbot/internal/observability/metrics"
	"clubbot/internal/reconcile"
	"clubbot/internal/reminder"
	"clubbot/internal/runtime/supervisor"
	"clubbot/internal/scheduler"
	"clubbot/internal/tenant"
	"clubbot/internal/transport/telegram"
	logx "clubbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   ledger.Store
	ledger  ledger.Client
	tenants *tenant.Registry

	notif *notifier.Service // nil without a bot token
	sink  notifier.Sink

	metrics    *metrics.Metrics
	metricsSrv *metrics.Server

	rec       *reconcile.Service
	fire      *firing.Service
	reminders *reminder.Service
	sched     *scheduler.Service

	sup *supervisor.Supervisor
}

type Option func(*options)

type options struct {
	sink notifier.Sink
}

// WithSink replaces the chat transport, for tests and dry runs.
func WithSink(s notifier.Sink) Option {
	return func(o *options) { o.sink = s }
}

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMapped(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogging(cfg), nil)
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: bus, tenants: tenant.NewRegistry()}

	// Chat transport. Without a token everything is logged instead of sent.
	a.sink = o.sink
	if a.sink == nil {
		tc, _ := mapTelegram(cfg)
		ncfg, _ := mapNotifier(cfg)
		if tc.Token == "" {
			log.Warn("telegram.token is empty; notifications are logged only")
			a.sink = notifier.LogSink{Log: root.With(logx.String("comp", "sink"))}
		} else {
			client, err := telegram.New(tc, root.With(logx.String("comp", "telegram")))
			if err != nil {
				_ = logSvc.Close()
				return nil, fmt.Errorf("telegram: %w", err)
			}
			a.notif = notifier.New(ncfg, client, root.With(logx.String("comp", "notifier")), bus)
			a.sink = a.notif
			logSvc.SetSender(a.notif)
		}
	}

	lcfg, callTimeout, _ := mapLedger(cfg)
	store, err := ledger.Open(lcfg, root.With(logx.String("comp", "ledger")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("ledger: %w", err)
	}
	a.store = store
	a.ledger = ledger.WithTimeout(store, callTimeout)
	log.Info("ledger opened", logx.String("driver", lcfg.Driver))

	tenants, _ := mapTenants(cfg)
	added, _ := a.tenants.Sync(tenants)
	log.Info("tenants loaded", logx.Strs("ids", added), logx.Int("enabled", len(a.tenants.List())))

	a.metrics = metrics.New()
	mcfg, _ := mapMetrics(cfg)
	a.metricsSrv = metrics.NewServer(mcfg, a.metrics, root.With(logx.String("comp", "metrics")))

	fcfg, _ := mapFiring(cfg)
	a.rec = reconcile.New(mapReconcile(cfg), a.ledger, a.tenants, root.With(logx.String("comp", "reconcile")), bus, a.metrics)
	a.fire = firing.New(fcfg, a.ledger, a.sink, a.tenants, root.With(logx.String("comp", "firing")), bus, a.metrics)
	a.reminders = reminder.New(a.ledger, a.tenants, root.With(logx.String("comp", "reminder")), bus)

	scfg, specs := mapScheduler(cfg)
	a.sched = scheduler.New(scfg, root.With(logx.String("comp", "scheduler")))
	if err := a.registerJobs(specs); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) Log() logx.Logger { return a.log }
func (a *App) Config() *config.Config { return a.cfgm.Get() }
func (a *App) Store() ledger.Store { return a.store }
func (a *App) Ledger() ledger.Client { return a.ledger }
func (a *App) Tenants() *tenant.Registry { return a.tenants }
func (a *App) Reconciler() *reconcile.Service { return a.rec }
func (a *App) Firing() *firing.Service { return a.fire }
func (a *App) Reminders() *reminder.Service { return a.reminders }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Metrics() *metrics.Metrics { return a.metrics }
func (a *App) MetricsAddr() string { return a.metricsSrv.Addr() }
func (a *App) Bus() eventbus.Bus { return a.bus }
func (a *App) Notifier() *notifier.Service { return a.notif }

func (a *App) registerJobs(specs jobSpecs) error {
	jobs := []scheduler.Job{
		{Name: jobReconcile, Spec: specs.Reconcile, Timeout: 5 * time.Minute, Run: a.reconcileJob},
		{Name: jobFire, Spec: specs.Tick, Timeout: 2 * time.Minute, Run: a.fireJob},
		{Name: jobCleanup, Spec: specs.Cleanup, Timeout: 5 * time.Minute, Run: a.cleanupJob},
	}
	for _, j := range jobs {
		if err := a.sched.Add(j); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) reconcileJob(ctx context.Context) error {
	sum := a.rec.ReconcileAll(ctx)
	if len(sum.Failed) > 0 {
		return fmt.Errorf("reconcile failed for %s", strings.Join(sum.Failed, ","))
	}
	return nil
}

func (a *App) fireJob(ctx context.Context) error {
	res := a.fire.Tick(ctx, time.Now())
	if res.Errors > 0 {
		return fmt.Errorf("firing: %d tenant(s) could not be loaded", res.Errors)
	}
	return nil
}

func (a *App) cleanupJob(ctx context.Context) error {
	a.fire.Cleanup(ctx, time.Now())
	return ctx.Err()
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the long-lived services: periodic jobs, config watch, audit
// log and the metrics endpoint. A first reconcile pass runs immediately.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateMapped(cfg)
	})

	events, unsub := a.bus.Subscribe(256)
	au := &auditor{ledger: a.ledger, log: a.log.With(logx.String("comp", "audit"))}
	a.sup.Go("audit", func(c context.Context) error {
		defer unsub()
		return au.run(c, events)
	})

	a.metricsSrv.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	a.sup.Go("reconcile.initial", func(c context.Context) error {
		if err := a.reconcileJob(c); err != nil {
			a.log.Warn("initial reconcile incomplete", logx.Err(err))
		}
		return nil
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	a.log.Info("app started", logx.Int("tenants", len(a.tenants.List())))
	return nil
}

// applyConfig pushes a committed reload into the running services.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if config.RestartSections[s] {
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogging(next))

	if tenants, err := mapTenants(next); err != nil {
		a.log.Warn("invalid tenants; keeping previous", logx.Err(err))
	} else {
		added, removed := a.tenants.Sync(tenants)
		if len(added)+len(removed) > 0 {
			a.log.Info("tenants changed", logx.Strs("added", added), logx.Strs("removed", removed))
		}
	}

	a.rec.Apply(mapReconcile(next))
	if fc, err := mapFiring(next); err == nil {
		a.fire.Apply(fc)
	}
	if a.notif != nil {
		if nc, err := mapNotifier(next); err == nil {
			a.notif.Apply(nc)
		}
	}

	scfg, specs := mapScheduler(next)
	a.sched.Apply(scfg)
	for name, spec := range map[string]string{jobReconcile: specs.Reconcile, jobFire: specs.Tick, jobCleanup: specs.Cleanup} {
		if err := a.sched.Reschedule(name, spec); err != nil {
			a.log.Warn("reschedule failed", logx.String("job", name), logx.Err(err))
		}
	}

	if mc, err := mapMetrics(next); err == nil {
		a.metricsSrv.Reconfigure(ctx, mc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts everything down. Each step is bounded so one stuck component
// cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("metrics", time.Second, func(c context.Context) error { a.metricsSrv.Stop(c); return nil })
	if a.sup != nil {
		step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	step("ledger", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// Close releases resources of an app that was never started, as used by
// the one-shot CLI commands.
func (a *App) Close() error {
	return errors.Join(a.store.Close(), a.logs.Close())
}
