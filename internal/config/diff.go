package config

import (
	"reflect"
	"sort"
	"strings"

	logx "clubbot/pkg/logx"
)

// RestartSections are sections that only take effect after a restart.
var RestartSections = map[string]bool{"telegram": true, "ledger": true}

// SummarizeConfigChange returns the changed sections and safe log fields
// describing them. Secrets (tokens) are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	trim := strings.TrimSpace

	if oldCfg.Telegram.Token != newCfg.Telegram.Token || trim(oldCfg.Telegram.Timeout) != trim(newCfg.Telegram.Timeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", trim(newCfg.Telegram.Token) != ""),
			logx.String("telegram.timeout", trim(newCfg.Telegram.Timeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.Ledger != newCfg.Ledger {
		changed = append(changed, "ledger")
		attrs = append(attrs,
			logx.String("ledger.driver", newCfg.Ledger.Driver),
			logx.String("ledger.call_timeout", newCfg.Ledger.CallTimeout),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", trim(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.reconcile_every", newCfg.Scheduler.ReconcileEvery),
			logx.String("scheduler.tick_every", newCfg.Scheduler.TickEvery),
			logx.String("scheduler.cleanup_every", newCfg.Scheduler.CleanupEvery),
		)
	}

	if oldCfg.Reconciler != newCfg.Reconciler {
		changed = append(changed, "reconciler")
		attrs = append(attrs, logx.Int("reconciler.concurrency", newCfg.Reconciler.Concurrency))
	}

	if oldCfg.Firing != newCfg.Firing {
		changed = append(changed, "firing")
		attrs = append(attrs,
			logx.String("firing.tolerance", newCfg.Firing.Tolerance),
			logx.String("firing.send_timeout", newCfg.Firing.SendTimeout),
			logx.String("firing.retention", newCfg.Firing.Retention),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec))
	}

	om, nm := oldCfg.Metrics, newCfg.Metrics
	om.Token, nm.Token = "", ""
	if om != nm || (trim(oldCfg.Metrics.Token) != "") != (trim(newCfg.Metrics.Token) != "") {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", trim(newCfg.Metrics.Addr)),
			logx.Bool("metrics.token_set", trim(newCfg.Metrics.Token) != ""),
		)
	}

	if added, removed, updated := diffTenants(oldCfg.Tenants, newCfg.Tenants); len(added)+len(removed)+len(updated) > 0 {
		changed = append(changed, "tenants")
		attrs = append(attrs,
			logx.Strs("tenants.added", added),
			logx.Strs("tenants.removed", removed),
			logx.Strs("tenants.updated", updated),
		)
	}
	return changed, attrs
}

func diffTenants(oldT, newT []TenantConfig) (added, removed, updated []string) {
	idx := func(ts []TenantConfig) map[string]TenantConfig {
		m := make(map[string]TenantConfig, len(ts))
		for _, t := range ts {
			m[strings.TrimSpace(t.ID)] = t
		}
		return m
	}
	om, nm := idx(oldT), idx(newT)
	for id, t := range nm {
		o, ok := om[id]
		switch {
		case !ok:
			added = append(added, id)
		case !reflect.DeepEqual(o, t):
			updated = append(updated, id)
		}
	}
	for id := range om {
		if _, ok := nm[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(updated)
	return added, removed, updated
}
