package reconcile

import (
	"context"
	"reflect"
	"testing"
	"time"

	"clubbot/internal/eventbus"
	"clubbot/internal/ledger"
	"clubbot/internal/ledger/ledgertest"
	"clubbot/internal/tenant"
	"clubbot/internal/timer"
	logx "clubbot/pkg/logx"
)

var (
	due = time.Date(2025, 9, 10, 17, 0, 0, 0, time.UTC)
	now = time.Date(2025, 9, 9, 16, 0, 0, 0, time.UTC)
)

func guild(id string) tenant.Tenant {
	return tenant.Tenant{ID: id, Enabled: true, Channels: timer.Channels{Task: "100", Meeting: "200"}}
}

func newService(t *testing.T, lc ledger.Client, tenants ...tenant.Tenant) *Service {
	t.Helper()
	reg := tenant.NewRegistry()
	for _, tn := range tenants {
		if err := reg.Add(tn); err != nil {
			t.Fatalf("Add tenant: %v", err)
		}
	}
	s := New(Config{Concurrency: 2}, lc, reg, logx.Nop(), eventbus.New(), nil)
	s.SetClock(func() time.Time { return now })
	return s
}

func putTask(t *testing.T, st ledger.Store, tenantID, id, status string, at time.Time) {
	t.Helper()
	err := st.PutEntity(context.Background(), tenantID, timer.Entity{
		Kind: timer.RefTask, ID: id, Title: "Write report", At: at, Status: status, Mention: "@alice",
	})
	if err != nil {
		t.Fatalf("PutEntity: %v", err)
	}
}

func states(t *testing.T, c ledger.Client, tenantID string) map[string]timer.State {
	t.Helper()
	ts, err := c.ListTimers(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("ListTimers: %v", err)
	}
	out := map[string]timer.State{}
	for _, tm := range ts {
		out[tm.ID] = tm.State
	}
	return out
}

func TestReconcileConverges(t *testing.T) {
	t.Parallel()
	st := ledger.NewMemory()
	putTask(t, st, "g1", "t1", timer.TaskOpen, due)
	s := newService(t, st, guild("g1"))
	ctx := context.Background()

	res, err := s.Reconcile(ctx, guild("g1"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Added != 4 || res.Changed() != 4 {
		t.Fatalf("first pass = %+v, want 4 added", res)
	}
	want := map[string]timer.State{
		"t1_task_reminder_24h": timer.StateActive,
		"t1_task_reminder_2h":  timer.StateActive,
		"t1_task_overdue":      timer.StateActive,
		"t1_task_escalate":     timer.StateActive,
	}
	if got := states(t, st, "g1"); !reflect.DeepEqual(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}

	res, err = s.Reconcile(ctx, guild("g1"))
	if err != nil {
		t.Fatalf("Reconcile (second): %v", err)
	}
	if res.Changed() != 0 {
		t.Fatalf("second pass = %+v, want no changes", res)
	}
}

func TestReconcileUpdatesMovedDeadline(t *testing.T) {
	t.Parallel()
	st := ledger.NewMemory()
	putTask(t, st, "g1", "t1", timer.TaskOpen, due)
	s := newService(t, st, guild("g1"))
	ctx := context.Background()
	if _, err := s.Reconcile(ctx, guild("g1")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	putTask(t, st, "g1", "t1", timer.TaskInProgress, due.Add(24*time.Hour))
	res, err := s.Reconcile(ctx, guild("g1"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Updated != 4 || res.Added != 0 || res.Cancelled != 0 {
		t.Fatalf("pass = %+v, want 4 updated", res)
	}
	ts, _ := st.ListTimers(ctx, "g1")
	for _, tm := range ts {
		if tm.ID == "t1_task_overdue" && !tm.FireAt.Equal(due.Add(24*time.Hour)) {
			t.Fatalf("overdue FireAt = %v", tm.FireAt)
		}
	}
}

func TestReconcileCancelsOnCompletion(t *testing.T) {
	t.Parallel()
	st := ledger.NewMemory()
	putTask(t, st, "g1", "t1", timer.TaskOpen, due)
	s := newService(t, st, guild("g1"))
	ctx := context.Background()
	if _, err := s.Reconcile(ctx, guild("g1")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	putTask(t, st, "g1", "t1", timer.TaskDone, due)
	res, err := s.Reconcile(ctx, guild("g1"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Cancelled != 4 {
		t.Fatalf("pass = %+v, want 4 cancelled", res)
	}
	for id, state := range states(t, st, "g1") {
		if state != timer.StateCancelled {
			t.Fatalf("%s state = %s, want cancelled", id, state)
		}
	}

	// Reopening never resurrects terminal rows under the same id.
	putTask(t, st, "g1", "t1", timer.TaskOpen, due)
	res, err = s.Reconcile(ctx, guild("g1"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Added != 0 || res.Skipped != 4 {
		t.Fatalf("reopen pass = %+v, want 4 skipped", res)
	}
}

func TestReconcileDeletedEntityCancels(t *testing.T) {
	t.Parallel()
	st := ledger.NewMemory()
	s := newService(t, st, guild("g1"))
	ctx := context.Background()
	orphan := timer.Timer{ID: "gone_task_overdue", Type: timer.TaskOverdue, RefType: timer.RefTask, RefID: "gone", FireAt: due, ChannelID: "100"}
	if err := st.UpsertTimer(ctx, "g1", orphan); err != nil {
		t.Fatalf("UpsertTimer: %v", err)
	}
	res, err := s.Reconcile(ctx, guild("g1"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Cancelled != 1 {
		t.Fatalf("pass = %+v, want 1 cancelled", res)
	}
}

func TestReconcileMarksBlockedTask(t *testing.T) {
	t.Parallel()
	st := ledger.NewMemory()
	putTask(t, st, "g1", "t1", timer.TaskOpen, due)
	s := newService(t, st, guild("g1"))
	ctx := context.Background()
	if _, err := s.Reconcile(ctx, guild("g1")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	putTask(t, st, "g1", "t1", timer.TaskBlocked, due)
	res, err := s.Reconcile(ctx, guild("g1"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Blocked != 4 || res.Cancelled != 0 {
		t.Fatalf("pass = %+v, want 4 blocked", res)
	}
	for id, state := range states(t, st, "g1") {
		if state != timer.StateBlocked {
			t.Fatalf("%s state = %s, want blocked", id, state)
		}
	}
}

func TestReconcileLeavesAdHocRemindersAlone(t *testing.T) {
	t.Parallel()
	st := ledger.NewMemory()
	s := newService(t, st, guild("g1"))
	ctx := context.Background()
	rem := timer.Timer{ID: "r-1", Type: timer.ScheduledReminder, RefType: timer.RefReminder, RefID: "r-1", FireAt: due, ChannelID: "100", Title: "snacks"}
	if err := st.UpsertTimer(ctx, "g1", rem); err != nil {
		t.Fatalf("UpsertTimer: %v", err)
	}
	res, err := s.Reconcile(ctx, guild("g1"))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Changed() != 0 {
		t.Fatalf("pass = %+v, want no changes", res)
	}
	if got := states(t, st, "g1")["r-1"]; got != timer.StateActive {
		t.Fatalf("reminder state = %s, want active", got)
	}
}

func TestReconcileAllIsolatesTenants(t *testing.T) {
	t.Parallel()
	st := ledger.NewMemory()
	for _, g := range []string{"g1", "g2", "g3"} {
		putTask(t, st, g, "t1", timer.TaskOpen, due)
	}
	faulty := ledgertest.NewFaulty(st)
	faulty.FailReads("g2")
	s := newService(t, faulty, guild("g1"), guild("g2"), guild("g3"))

	sum := s.ReconcileAll(context.Background())
	if sum.Tenants != 3 {
		t.Fatalf("Tenants = %d, want 3", sum.Tenants)
	}
	if !reflect.DeepEqual(sum.Failed, []string{"g2"}) {
		t.Fatalf("Failed = %v, want [g2]", sum.Failed)
	}
	if sum.Total.Added != 8 {
		t.Fatalf("Added = %d, want 8", sum.Total.Added)
	}
	if got := states(t, st, "g2"); len(got) != 0 {
		t.Fatalf("failing tenant got timers: %v", got)
	}
}

func TestReconcileContinuesPastWriteFailure(t *testing.T) {
	t.Parallel()
	st := ledger.NewMemory()
	putTask(t, st, "g1", "t1", timer.TaskOpen, due)
	s := newService(t, st, guild("g1"))
	ctx := context.Background()
	if _, err := s.Reconcile(ctx, guild("g1")); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	putTask(t, st, "g1", "t1", timer.TaskDone, due)
	faulty := ledgertest.NewFaulty(st)
	faulty.FailStateChange("t1_task_overdue")
	s2 := newService(t, faulty, guild("g1"))
	res, err := s2.Reconcile(ctx, guild("g1"))
	if err == nil {
		t.Fatal("expected an error for the failed write")
	}
	if res.Cancelled != 3 || res.Errors != 1 {
		t.Fatalf("pass = %+v, want 3 cancelled and 1 error", res)
	}

	// The next cycle retries what failed.
	res, err = s.Reconcile(ctx, guild("g1"))
	if err != nil || res.Cancelled != 1 {
		t.Fatalf("retry pass = %+v, %v", res, err)
	}
}

func TestDiffChannelAndPayload(t *testing.T) {
	t.Parallel()
	ch := timer.Channels{Task: "100", Meeting: "200", Escalation: "999"}
	meeting := timer.Entity{Kind: timer.RefMeeting, GuildID: "g1", ID: "m1", Title: "Sync", At: due, Status: timer.MeetingScheduled}
	p := Diff([]timer.Entity{meeting}, nil, now, ch)
	if len(p.Add) != 3 {
		t.Fatalf("Add = %d, want 3", len(p.Add))
	}
	stored := append([]timer.Timer(nil), p.Add...)
	for i := range stored {
		stored[i].State = timer.StateActive
	}

	meeting.Title = "Sync (moved room)"
	p = Diff([]timer.Entity{meeting}, stored, now, ch)
	if len(p.Update) != 3 || len(p.Add) != 0 {
		t.Fatalf("Update = %d, want 3", len(p.Update))
	}

	meeting.Status = timer.MeetingCanceled
	p = Diff([]timer.Entity{meeting}, stored, now, ch)
	if len(p.Cancel) != 3 {
		t.Fatalf("Cancel = %v, want 3 ids", p.Cancel)
	}
}

func TestReconcileNeverStoresChannelLessTimers(t *testing.T) {
	t.Parallel()
	st := ledger.NewMemory()
	putTask(t, st, "g1", "t1", timer.TaskOpen, due.Add(30*24*time.Hour))
	ctx := context.Background()
	stale := timer.Timer{ID: "t1_task_overdue", Type: timer.TaskOverdue, RefType: timer.RefTask, RefID: "t1", FireAt: due.Add(30 * 24 * time.Hour)}
	if err := st.UpsertTimer(ctx, "g1", stale); err != nil {
		t.Fatalf("UpsertTimer: %v", err)
	}
	bare := tenant.Tenant{ID: "g1", Enabled: true}
	s := newService(t, st, bare)

	p := Diff([]timer.Entity{{Kind: timer.RefTask, ID: "t1", At: due.Add(30 * 24 * time.Hour), Status: timer.TaskOpen}}, nil, now, timer.Channels{})
	if len(p.NoChannel) != 4 || len(p.Add) != 0 {
		t.Fatalf("plan = %+v, want 4 channel-less timers and nothing to add", p)
	}

	res, err := s.Reconcile(ctx, bare)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Added != 0 || res.Cancelled != 1 {
		t.Fatalf("pass = %+v, want nothing added and the stale row cancelled", res)
	}
	if got := states(t, st, "g1"); len(got) != 1 || got["t1_task_overdue"] != timer.StateCancelled {
		t.Fatalf("states = %v", got)
	}
}
