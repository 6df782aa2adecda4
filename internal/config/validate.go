package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"clubbot/internal/scheduler"
	"clubbot/internal/transport"
)

// Validate checks everything that can be checked without opening resources.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		check(err)
	}
	sched := func(path, raw string) {
		if strings.TrimSpace(raw) == "" {
			return
		}
		ps, err := scheduler.ParseSchedule(raw)
		if err == nil {
			_, err = ps.Schedule()
		}
		if err != nil {
			check(fmt.Errorf("%s: %w", path, err))
		}
	}

	dur("telegram.timeout", cfg.Telegram.Timeout)

	switch d := strings.ToLower(strings.TrimSpace(cfg.Ledger.Driver)); d {
	case "", "memory", "sqlite", "sqlite3":
	default:
		check(fmt.Errorf("ledger.driver: unknown driver %q", cfg.Ledger.Driver))
	}
	dur("ledger.busy_timeout", cfg.Ledger.BusyTimeout)
	dur("ledger.call_timeout", cfg.Ledger.CallTimeout)

	check(validTimezone("scheduler.timezone", cfg.Scheduler.Timezone))
	sched("scheduler.reconcile_every", cfg.Scheduler.ReconcileEvery)
	sched("scheduler.tick_every", cfg.Scheduler.TickEvery)
	sched("scheduler.cleanup_every", cfg.Scheduler.CleanupEvery)

	if cfg.Reconciler.Concurrency < 0 {
		check(errors.New("reconciler.concurrency must be >= 0"))
	}
	dur("firing.tolerance", cfg.Firing.Tolerance)
	dur("firing.send_timeout", cfg.Firing.SendTimeout)
	dur("firing.retention", cfg.Firing.Retention)

	if cfg.Notifier.RatePerSec < 0 {
		check(errors.New("notifier.rate_per_sec must be >= 0"))
	}
	dur("notifier.send_timeout", cfg.Notifier.SendTimeout)

	dur("metrics.read_timeout", cfg.Metrics.ReadTimeout)
	dur("metrics.write_timeout", cfg.Metrics.WriteTimeout)
	dur("metrics.idle_timeout", cfg.Metrics.IdleTimeout)
	if p := strings.TrimSpace(cfg.Metrics.Path); p != "" && !strings.HasPrefix(p, "/") {
		check(fmt.Errorf("metrics.path must start with '/': %q", p))
	}

	seen := map[string]bool{}
	for i, t := range cfg.Tenants {
		prefix := fmt.Sprintf("tenants[%d]", i)
		id := strings.TrimSpace(t.ID)
		if id == "" {
			check(fmt.Errorf("%s.id is required", prefix))
			continue
		}
		prefix = fmt.Sprintf("tenants[%s]", id)
		if seen[id] {
			check(fmt.Errorf("%s: duplicate id", prefix))
		}
		seen[id] = true
		check(validTimezone(prefix+".timezone", t.Timezone))
		for name, ch := range map[string]string{
			"task_channel":       t.TaskChannel,
			"meeting_channel":    t.MeetingChannel,
			"escalation_channel": t.EscalationChannel,
		} {
			if strings.TrimSpace(ch) == "" {
				continue
			}
			if _, err := transport.ParseChatTarget(ch); err != nil {
				check(fmt.Errorf("%s.%s: %w", prefix, name, err))
			}
		}
	}

	if c := cfg.Logging.Chat; c.Enabled {
		if strings.TrimSpace(c.Channel) == "" {
			check(errors.New("logging.chat.channel is required when logging.chat.enabled"))
		} else if _, err := transport.ParseChatTarget(c.Channel); err != nil {
			check(fmt.Errorf("logging.chat.channel: %w", err))
		}
		if c.RatePerSec < 0 {
			check(errors.New("logging.chat.rate_per_sec must be >= 0"))
		}
	}
	return errors.Join(errs...)
}

func validTimezone(path, tz string) error {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%s: invalid %q: %w", path, tz, err)
	}
	return nil
}
