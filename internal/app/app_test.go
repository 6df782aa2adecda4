package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"clubbot/internal/config"
	"clubbot/internal/eventbus"
	"clubbot/internal/ledger"
	"clubbot/internal/reminder"
	"clubbot/internal/timer"
	logx "clubbot/pkg/logx"
)

const baseConfig = `
logging:
  level: error
ledger:
  driver: memory
scheduler:
  reconcile_every: 1h
  tick_every: 1h
  cleanup_every: 6h
tenants:
  - id: g1
    task_channel: "-1001"
    meeting_channel: "-1002"
    escalation_channel: "-1003"
`

type memSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *memSink) Send(_ context.Context, tenant, channelID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, tenant+"|"+channelID+"|"+text)
	return nil
}

func (s *memSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func newApp(t *testing.T, body string) (*App, *memSink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sink := &memSink{}
	a, err := New(path, WithSink(sink))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, sink, path
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestReconcileThenFireEndToEnd(t *testing.T) {
	t.Parallel()
	a, sink, _ := newApp(t, baseConfig)
	defer a.Close()
	ctx := context.Background()

	due := time.Now().UTC().Add(3 * time.Hour).Truncate(time.Second)
	err := a.Store().PutEntity(ctx, "g1", timer.Entity{
		Kind: timer.RefTask, ID: "t1", Title: "Order parts", At: due, Status: timer.TaskOpen, Mention: "@dana",
	})
	if err != nil {
		t.Fatalf("PutEntity: %v", err)
	}

	sum := a.Reconciler().ReconcileAll(ctx)
	if len(sum.Failed) != 0 || sum.Total.Added != 3 {
		t.Fatalf("summary = %+v, want 3 added (24h reminder already past)", sum)
	}

	res := a.Firing().Tick(ctx, due.Add(time.Second))
	if res.Fired != 2 {
		t.Fatalf("tick = %+v, want 2 fired", res)
	}
	msgs := sink.all()
	if len(msgs) != 2 {
		t.Fatalf("sent = %v", msgs)
	}
	for _, m := range msgs {
		if !strings.HasPrefix(m, "g1|-1001|") {
			t.Fatalf("message routed wrong: %q", m)
		}
	}

	res = a.Firing().Tick(ctx, due.Add(49*time.Hour))
	if res.Fired != 1 {
		t.Fatalf("escalation tick = %+v", res)
	}
	if last := sink.all()[2]; !strings.HasPrefix(last, "g1|-1003|") || !strings.Contains(last, timer.Broadcast) {
		t.Fatalf("escalation = %q", last)
	}
}

func TestStartAuditsAndReloads(t *testing.T) {
	t.Parallel()
	a, _, path := newApp(t, baseConfig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = a.Stop(stopCtx, StopCommand)
	}()

	if _, err := a.Reminders().Schedule(ctx, "g1", reminder.Request{Message: "bring the banner", Delay: time.Hour}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	mem, ok := a.Store().(*ledger.Memory)
	if !ok {
		t.Fatalf("store is %T, want memory", a.Store())
	}
	eventually(t, "audit entry", func() bool {
		for _, e := range mem.Audit("g1") {
			if e.Action == eventbus.TimerScheduled && e.OK {
				return true
			}
		}
		return false
	})

	next := baseConfig + `
  - id: g2
    task_channel: "-2001"
    meeting_channel: "-2002"
    timezone: UTC
`
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if changed, err := a.cfgm.Reload(ctx); err != nil || !changed {
		t.Fatalf("Reload = %v, %v", changed, err)
	}
	eventually(t, "tenant g2", func() bool {
		_, err := a.Tenants().Get("g2")
		return err == nil
	})
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := strings.Replace(baseConfig, "tick_every: 1h", "tick_every: sometimes", 1)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("expected error")
	}
}

func TestMapLedgerDefaultsToSQLite(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		in         config.LedgerConfig
		wantDriver string
		wantPath   string
	}{
		{name: "empty", in: config.LedgerConfig{}, wantDriver: "sqlite", wantPath: ledger.DefaultPath},
		{name: "sqlite without path", in: config.LedgerConfig{Driver: "SQLite"}, wantDriver: "sqlite", wantPath: ledger.DefaultPath},
		{name: "explicit path", in: config.LedgerConfig{Path: "/var/lib/clubbot/ledger.db"}, wantDriver: "sqlite", wantPath: "/var/lib/clubbot/ledger.db"},
		{name: "memory on request", in: config.LedgerConfig{Driver: "memory"}, wantDriver: "memory"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			lc, call, err := mapLedger(&config.Config{Ledger: tc.in})
			if err != nil {
				t.Fatalf("mapLedger: %v", err)
			}
			if lc.Driver != tc.wantDriver || lc.Path != tc.wantPath {
				t.Fatalf("mapLedger = %+v, want driver %q path %q", lc, tc.wantDriver, tc.wantPath)
			}
			if call != 10*time.Second {
				t.Fatalf("call timeout = %s, want 10s", call)
			}
		})
	}
}

func TestAuditEntryMapping(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 9, 9, 16, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		ev     eventbus.Event
		ok     bool
		wantOK bool
		detail string
	}{
		{
			name: "fired",
			ev:   eventbus.Event{Type: eventbus.TimerFired, Time: at, Data: eventbus.TimerEvent{ID: "t1_task_overdue", Type: "task_overdue"}},
			ok:   true, wantOK: true, detail: "task_overdue",
		},
		{
			name: "failed",
			ev:   eventbus.Event{Type: eventbus.TimerFailed, Time: at, Data: eventbus.TimerEvent{ID: "t1_task_overdue", Type: "task_overdue", Error: "chat not found"}},
			ok:   true, wantOK: false, detail: "task_overdue: chat not found",
		},
		{
			name: "reconcile with changes",
			ev:   eventbus.Event{Type: eventbus.ReconcileDone, Time: at, Data: eventbus.ReconcileEvent{Added: 4}},
			ok:   true, wantOK: true, detail: "added=4 updated=0 cancelled=0 blocked=0 errors=0",
		},
		{
			name: "reconcile no-op",
			ev:   eventbus.Event{Type: eventbus.ReconcileDone, Time: at, Data: eventbus.ReconcileEvent{}},
		},
		{
			name: "cleanup",
			ev:   eventbus.Event{Type: eventbus.CleanupDone, Time: at, Data: eventbus.CleanupEvent{Deleted: 2}},
			ok:   true, wantOK: true, detail: "deleted=2",
		},
		{
			name: "notification",
			ev:   eventbus.Event{Type: eventbus.NotificationSent, Time: at, Data: eventbus.NotificationEvent{ChannelID: "1"}},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := auditEntry(tt.ev)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.OK != tt.wantOK || got.Detail != tt.detail || got.Action != tt.ev.Type || !got.At.Equal(at) {
				t.Fatalf("entry = %+v", got)
			}
		})
	}
}

func TestAuditorSkipsProcessEvents(t *testing.T) {
	t.Parallel()
	mem := ledger.NewMemory()
	au := &auditor{ledger: mem, log: logx.Nop()}
	au.record(context.Background(), eventbus.Event{Type: eventbus.CleanupDone, Data: eventbus.CleanupEvent{Deleted: 1}})
	if got := mem.Audit(""); len(got) != 0 {
		t.Fatalf("audit = %+v", got)
	}
	au.record(context.Background(), eventbus.Event{Type: eventbus.CleanupDone, Tenant: "g1", Data: eventbus.CleanupEvent{Deleted: 1}})
	if got := mem.Audit("g1"); len(got) != 1 {
		t.Fatalf("audit = %+v", got)
	}
}
