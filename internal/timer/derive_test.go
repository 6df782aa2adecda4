package timer

import (
	"reflect"
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func TestDeriveTaskWorkedExample(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-09-09T16:00:00Z")
	task := Entity{
		Kind:    RefTask,
		GuildID: "g1",
		ID:      "t1",
		Title:   "Book the venue",
		At:      mustTime(t, "2025-09-10T17:00:00Z"),
		Status:  TaskOpen,
		Mention: "<@42>",
	}

	got := Derive(task, now, Channels{Task: "100"})
	want := map[string]string{
		"t1_task_reminder_24h": "2025-09-09T17:00:00Z",
		"t1_task_reminder_2h":  "2025-09-10T15:00:00Z",
		"t1_task_overdue":      "2025-09-10T17:00:00Z",
		"t1_task_escalate":     "2025-09-12T17:00:00Z",
	}
	if len(got) != len(want) {
		t.Fatalf("derived %d timers, want %d: %v", len(got), len(want), got)
	}
	for id, at := range want {
		tm, ok := got[id]
		if !ok {
			t.Fatalf("missing timer %s", id)
		}
		if !tm.FireAt.Equal(mustTime(t, at)) {
			t.Fatalf("%s fire_at = %s, want %s", id, tm.FireAt.Format(time.RFC3339), at)
		}
		if tm.State != StateActive || tm.RefType != RefTask || tm.RefID != "t1" || tm.GuildID != "g1" {
			t.Fatalf("unexpected timer fields: %+v", tm)
		}
		if tm.ChannelID != "100" {
			t.Fatalf("%s channel = %q, want tenant task channel", id, tm.ChannelID)
		}
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-09-01T00:00:00Z")
	m := Entity{Kind: RefMeeting, ID: "m1", Title: "GBM", At: mustTime(t, "2025-09-03T18:00:00Z"), Status: MeetingScheduled}

	a := Derive(m, now, Channels{Meeting: "200"})
	b := Derive(m, now, Channels{Meeting: "200"})
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("derive not deterministic:\n%v\n%v", a, b)
	}
	if len(a) != 3 {
		t.Fatalf("meeting derived %d timers, want 3", len(a))
	}
	if got := a["m1_meeting_followup"].FireAt; !got.Equal(mustTime(t, "2025-09-03T18:30:00Z")) {
		t.Fatalf("followup fire_at = %s", got)
	}
	if got := a["m1_meeting_start"].Mention; got != Broadcast {
		t.Fatalf("meeting mention = %q, want broadcast", got)
	}
}

func TestDerivePastTimeOmission(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-09-10T12:00:00Z")
	task := Entity{Kind: RefTask, ID: "t2", At: now.Add(-time.Hour), Status: TaskInProgress}

	got := Derive(task, now, Channels{})
	if _, ok := got["t2_task_reminder_24h"]; ok {
		t.Fatal("24h reminder for a past deadline must be omitted")
	}
	if _, ok := got["t2_task_overdue"]; ok {
		t.Fatal("overdue timer at a past deadline must be omitted")
	}
	if _, ok := got["t2_task_escalate"]; !ok {
		t.Fatal("escalation 47h in the future must be kept")
	}
}

func TestDeriveSkipsNonLiveAndUndated(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-09-01T00:00:00Z")
	due := now.Add(72 * time.Hour)

	tests := []struct {
		name string
		e    Entity
	}{
		{name: "done task", e: Entity{Kind: RefTask, ID: "a", At: due, Status: TaskDone}},
		{name: "blocked task", e: Entity{Kind: RefTask, ID: "b", At: due, Status: TaskBlocked}},
		{name: "no deadline", e: Entity{Kind: RefTask, ID: "c", Status: TaskOpen}},
		{name: "canceled meeting", e: Entity{Kind: RefMeeting, ID: "d", At: due, Status: MeetingCanceled}},
		{name: "ended meeting", e: Entity{Kind: RefMeeting, ID: "e", At: due, Status: MeetingEnded}},
		{name: "missing id", e: Entity{Kind: RefTask, At: due, Status: TaskOpen}},
		{name: "reminder kind", e: Entity{Kind: RefReminder, ID: "f", At: due}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Derive(tt.e, now, Channels{Task: "1", Meeting: "2"}); len(got) != 0 {
				t.Fatalf("expected no timers, got %v", got)
			}
		})
	}
}

func TestDeriveChannelRouting(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-09-01T00:00:00Z")
	task := Entity{Kind: RefTask, ID: "t3", At: now.Add(72 * time.Hour), Status: TaskOpen, ChannelID: "555"}

	got := Derive(task, now, Channels{Task: "100", Escalation: "999"})
	if ch := got["t3_task_overdue"].ChannelID; ch != "555" {
		t.Fatalf("entity channel should win, got %q", ch)
	}
	if ch := got["t3_task_escalate"].ChannelID; ch != "999" {
		t.Fatalf("escalation should route to escalation channel, got %q", ch)
	}
}

func TestTimerDueAndDiffers(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2025-09-01T12:00:00Z")
	tm := Timer{ID: "x", FireAt: now.Add(-30 * time.Second)}
	if !tm.Due(now, time.Minute) {
		t.Fatal("timer 30s in the past should be due")
	}
	tm.FireAt = now.Add(90 * time.Second)
	if tm.Due(now, time.Minute) {
		t.Fatal("timer 90s in the future should not be due with 60s tolerance")
	}

	a := Timer{ID: "x", FireAt: now, Title: "A", ChannelID: "1"}
	b := a
	b.State = StateFired
	if a.Differs(b) {
		t.Fatal("state is not a reconciled field")
	}
	b.FireAt = now.In(time.FixedZone("X", 3600))
	if a.Differs(b) {
		t.Fatal("same instant in another zone must not differ")
	}
	b.Mention = "<@1>"
	if !a.Differs(b) {
		t.Fatal("mention change must differ")
	}
}

func TestTimerValidate(t *testing.T) {
	t.Parallel()
	ok := Timer{ID: "a_task_overdue", Type: TaskOverdue, FireAt: time.Now(), ChannelID: "1"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid timer rejected: %v", err)
	}
	bad := ok
	bad.Type = "task_bogus"
	if err := bad.Validate(); err == nil {
		t.Fatal("unknown type accepted")
	}
	bad = ok
	bad.ChannelID = ""
	if err := bad.Validate(); err == nil {
		t.Fatal("missing channel accepted")
	}
}
