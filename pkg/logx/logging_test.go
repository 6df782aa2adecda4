package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(Guild("g1"))
	log.Warn("timer delivery failed", TimerID("t1_task_overdue"), Err(errors.New("chat not found")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	for k, want := range map[string]string{
		"level":    "warn",
		"message":  "timer delivery failed",
		GuildKey:   "g1",
		"timer_id": "t1_task_overdue",
	} {
		if rec[k] != want {
			t.Fatalf("%s = %v, want %q", k, rec[k], want)
		}
	}
	// New renames the error field; either name is acceptable here.
	if rec["err"] != "chat not found" && rec["error"] != "chat not found" {
		t.Fatalf("error field missing: %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFormatChatJSON(t *testing.T) {
	t.Parallel()
	line := `{"level":"warn","guild":"g1","timer_id":"t1_task_overdue","time":"x","message":"timer delivery failed"}`
	got := formatChatJSON([]byte(line))
	want := "[WARN] g1: timer delivery failed\n- timer_id=t1_task_overdue"
	if got != want {
		t.Fatalf("formatChatJSON = %q, want %q", got, want)
	}
	if got := formatChatJSON([]byte("not json")); got != "not json" {
		t.Fatalf("raw fallback = %q", got)
	}
	if got := truncate(strings.Repeat("a", 20), 12); got != "aaaaaaaaa..." {
		t.Fatalf("truncate = %q", got)
	}
}

type chatRecorder struct {
	mu   sync.Mutex
	sent []string
	done chan struct{}
}

func (c *chatRecorder) Send(_ context.Context, tenant, channelID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tenant+"|"+channelID+"|"+text)
	if len(c.sent) == 1 {
		close(c.done)
	}
	return nil
}

func TestChatSinkForwardsWarnings(t *testing.T) {
	rec := &chatRecorder{done: make(chan struct{})}
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: t.TempDir() + "/clubbot.log"},
		Chat:  ChatConfig{Enabled: true, Tenant: "ops", Channel: "-100", RatePerSec: 5},
	}, rec)
	defer svc.Close()

	log.Info("reconcile done")
	log.With(Guild("g1")).Warn("reconcile failed")

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("chat sink never delivered")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.sent) != 1 {
		t.Fatalf("sent = %v, want only the warning", rec.sent)
	}
	if !strings.HasPrefix(rec.sent[0], "ops|-100|[WARN] g1: reconcile failed") {
		t.Fatalf("sent = %q", rec.sent[0])
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop should not be zero")
	}
}
