package app

import (
	"fmt"
	"strings"
	"time"

	"clubbot/internal/config"
	"clubbot/internal/firing"
	"clubbot/internal/ledger"
	"clubbot/internal/notifier"
	"clubbot/internal/observability/metrics"
	"clubbot/internal/reconcile"
	"clubbot/internal/scheduler"
	"clubbot/internal/tenant"
	"clubbot/internal/timer"
	"clubbot/internal/transport/telegram"
	logx "clubbot/pkg/logx"
)

// Job names registered with the scheduler.
const (
	jobReconcile = "reconcile"
	jobFire      = "fire"
	jobCleanup   = "cleanup"
)

type jobSpecs struct {
	Reconcile string
	Tick      string
	Cleanup   string
}

func mapLogging(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled,
			Tenant:     lc.Chat.Tenant,
			Channel:    lc.Chat.Channel,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 15*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), Timeout: timeout}, nil
}

// mapLedger returns the store config and the per-call timeout.
func mapLedger(cfg *config.Config) (ledger.Config, time.Duration, error) {
	lc := cfg.Ledger
	driver := strings.ToLower(strings.TrimSpace(lc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	busy, err := config.ParseDurationOrDefault("ledger.busy_timeout", lc.BusyTimeout, time.Second)
	if err != nil {
		return ledger.Config{}, 0, err
	}
	call, err := config.ParseDurationOrDefault("ledger.call_timeout", lc.CallTimeout, 10*time.Second)
	if err != nil {
		return ledger.Config{}, 0, err
	}
	path := strings.TrimSpace(lc.Path)
	if (driver == "sqlite" || driver == "sqlite3") && path == "" {
		path = ledger.DefaultPath
	}
	return ledger.Config{Driver: driver, Path: path, BusyTimeout: busy}, call, nil
}

func mapTenants(cfg *config.Config) ([]tenant.Tenant, error) {
	out := make([]tenant.Tenant, 0, len(cfg.Tenants))
	for _, tc := range cfg.Tenants {
		t := tenant.Tenant{
			ID:   strings.TrimSpace(tc.ID),
			Name: strings.TrimSpace(tc.Name),
			Channels: timer.Channels{
				Task:       strings.TrimSpace(tc.TaskChannel),
				Meeting:    strings.TrimSpace(tc.MeetingChannel),
				Escalation: strings.TrimSpace(tc.EscalationChannel),
			},
			Enabled: tc.IsEnabled(),
		}
		if tz := strings.TrimSpace(tc.Timezone); tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("tenants[%s].timezone: %w", t.ID, err)
			}
			t.Location = loc
		}
		out = append(out, t)
	}
	return out, nil
}

func mapReconcile(cfg *config.Config) reconcile.Config {
	return reconcile.Config{Concurrency: cfg.Reconciler.Concurrency}
}

func mapFiring(cfg *config.Config) (firing.Config, error) {
	fc := cfg.Firing
	tol, err := config.ParseDurationOrDefault("firing.tolerance", fc.Tolerance, time.Minute)
	if err != nil {
		return firing.Config{}, err
	}
	send, err := config.ParseDurationOrDefault("firing.send_timeout", fc.SendTimeout, 15*time.Second)
	if err != nil {
		return firing.Config{}, err
	}
	ret, err := config.ParseDurationOrDefault("firing.retention", fc.Retention, 7*24*time.Hour)
	if err != nil {
		return firing.Config{}, err
	}
	return firing.Config{Tolerance: tol, SendTimeout: send, Retention: ret}, nil
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	send, err := config.ParseDurationOrDefault("notifier.send_timeout", nc.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{RatePerSec: nc.RatePerSec, SendTimeout: send, DisablePreview: nc.DisablePreview}, nil
}

func mapMetrics(cfg *config.Config) (metrics.ServerConfig, error) {
	mc := cfg.Metrics
	read, err := config.ParseDurationOrDefault("metrics.read_timeout", mc.ReadTimeout, 5*time.Second)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	write, err := config.ParseDurationOrDefault("metrics.write_timeout", mc.WriteTimeout, 10*time.Second)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	idle, err := config.ParseDurationOrDefault("metrics.idle_timeout", mc.IdleTimeout, 60*time.Second)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	return metrics.ServerConfig{
		Enabled:       mc.Enabled,
		Addr:          strings.TrimSpace(mc.Addr),
		Path:          strings.TrimSpace(mc.Path),
		Token:         strings.TrimSpace(mc.Token),
		AllowInsecure: mc.AllowInsecure,
		Pprof:         mc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapScheduler(cfg *config.Config) (scheduler.Config, jobSpecs) {
	sc := cfg.Scheduler
	or := func(v, def string) string {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
		return def
	}
	return scheduler.Config{Timezone: sc.Timezone}, jobSpecs{
		Reconcile: or(sc.ReconcileEvery, "15m"),
		Tick:      or(sc.TickEvery, "60s"),
		Cleanup:   or(sc.CleanupEvery, "6h"),
	}
}

// validateMapped runs every mapper so a reload that cannot be applied is
// rejected before commit.
func validateMapped(cfg *config.Config) error {
	if _, err := mapTelegram(cfg); err != nil {
		return err
	}
	if _, _, err := mapLedger(cfg); err != nil {
		return err
	}
	if _, err := mapTenants(cfg); err != nil {
		return err
	}
	if _, err := mapFiring(cfg); err != nil {
		return err
	}
	if _, err := mapNotifier(cfg); err != nil {
		return err
	}
	if _, err := mapMetrics(cfg); err != nil {
		return err
	}
	return nil
}
