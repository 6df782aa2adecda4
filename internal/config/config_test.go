package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  timeout: 20s
logging:
  level: debug
  console: true
ledger:
  driver: sqlite
  path: ./clubbot.db
  call_timeout: 5s
scheduler:
  timezone: UTC
  reconcile_every: 15m
  tick_every: 60s
  cleanup_every: "@every 6h"
firing:
  tolerance: 1m
  retention: 168h
tenants:
  - id: g1
    name: Robotics Club
    task_channel: "-1001:12"
    meeting_channel: "-1001:13"
    timezone: Asia/Jakarta
  - id: g2
    task_channel: "-1002"
    meeting_channel: "-1002"
    enabled: false
`

func TestParseBytesYAML(t *testing.T) {
	t.Parallel()
	cfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Ledger.Driver != "sqlite" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Tenants) != 2 || cfg.Tenants[0].TaskChannel != "-1001:12" {
		t.Fatalf("tenants = %+v", cfg.Tenants)
	}
	if !cfg.Tenants[0].IsEnabled() || cfg.Tenants[1].IsEnabled() {
		t.Fatalf("enabled flags wrong: %+v", cfg.Tenants)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseBytesStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown yaml key", file: "c.yaml", body: "ledger:\n  driver: memory\n  pool: 3\n"},
		{name: "unknown json key", file: "c.json", body: `{"telegram":{"token":"x","poll":"1s"}}`},
		{name: "trailing json", file: "c.json", body: `{} {}`},
		{name: "bad yaml", file: "c.yml", body: "tenants: [\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseBytes(tt.file, []byte(tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Ledger:    LedgerConfig{Driver: "postgres"},
		Scheduler: SchedulerConfig{Timezone: "Mars/Olympus", TickEvery: "often"},
		Firing:    FiringConfig{Retention: "-1h"},
		Metrics:   MetricsConfig{Path: "metrics"},
		Tenants: []TenantConfig{
			{ID: "g1", TaskChannel: "not-a-chat"},
			{ID: "g1"},
			{ID: " "},
		},
		Logging: LoggingConfig{Chat: LoggingChat{Enabled: true}},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{
		"ledger.driver", "scheduler.timezone", "scheduler.tick_every", "firing.retention",
		"metrics.path", "task_channel", "duplicate id", "tenants[2].id", "logging.chat.channel",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 15*time.Second)
	if err != nil || d != 15*time.Second {
		t.Fatalf("empty = %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "2m", time.Second)
	if err != nil || d != 2*time.Minute {
		t.Fatalf("2m = %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "soon", time.Second); err == nil {
		t.Fatal("expected error")
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestManagerReloadValidateThenCommit(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, sampleYAML)

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx := context.Background()

	// Same content: nothing published.
	if changed, err := m.Reload(ctx); err != nil || changed {
		t.Fatalf("Reload unchanged = %v, %v", changed, err)
	}

	// Invalid content keeps the previous config.
	writeFile(t, path, strings.Replace(sampleYAML, "tick_every: 60s", "tick_every: whenever", 1))
	if _, err := m.Reload(ctx); err == nil {
		t.Fatal("expected validation error")
	}
	if m.Get().Scheduler.TickEvery != "60s" {
		t.Fatalf("invalid config was committed: %q", m.Get().Scheduler.TickEvery)
	}

	// Hook rejection keeps the previous config too.
	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	writeFile(t, path, strings.Replace(sampleYAML, "tick_every: 60s", "tick_every: 30s", 1))
	if _, err := m.Reload(ctx); err == nil {
		t.Fatal("expected hook rejection")
	}

	m.SetValidator(nil)
	if changed, err := m.Reload(ctx); err != nil || !changed {
		t.Fatalf("Reload = %v, %v", changed, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Scheduler.TickEvery != "30s" {
			t.Fatalf("published TickEvery = %q", cfg.Scheduler.TickEvery)
		}
	default:
		t.Fatal("no config published")
	}
}

func TestManagerWatchPicksUpEdits(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	edit := time.NewTicker(200 * time.Millisecond)
	defer edit.Stop()
	for {
		select {
		case cfg := <-sub:
			if cfg.Firing.Tolerance != "2m" {
				t.Fatalf("published tolerance = %q", cfg.Firing.Tolerance)
			}
			cancel()
			<-done
			return
		case <-edit.C:
			// The watcher may start after the first write; keep touching the file.
			writeFile(t, path, strings.Replace(sampleYAML, "tolerance: 1m", "tolerance: 2m", 1))
		case <-deadline:
			t.Fatal("watch did not publish the edit")
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	off := false
	oldCfg := &Config{
		Metrics: MetricsConfig{Enabled: true, Token: "a"},
		Tenants: []TenantConfig{{ID: "g1", TaskChannel: "1"}, {ID: "g2"}},
	}
	newCfg := &Config{
		Metrics:  MetricsConfig{Enabled: true, Token: "b"},
		Firing:   FiringConfig{Tolerance: "2m"},
		Telegram: TelegramConfig{Token: "secret"},
		Tenants:  []TenantConfig{{ID: "g1", TaskChannel: "2"}, {ID: "g3", Enabled: &off}},
	}
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	got := strings.Join(sections, ",")
	if got != "telegram,firing,tenants" {
		t.Fatalf("sections = %s", got)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if !RestartSections["telegram"] || RestartSections["firing"] {
		t.Fatal("unexpected restart sections")
	}

	added, removed, updated := diffTenants(oldCfg.Tenants, newCfg.Tenants)
	if strings.Join(added, ",") != "g3" || strings.Join(removed, ",") != "g2" || strings.Join(updated, ",") != "g1" {
		t.Fatalf("tenants diff = %v %v %v", added, removed, updated)
	}
}
