// Package ledger is the row store behind the reminder subsystem.
//
// It holds per-tenant timer, task and meeting rows plus an append-only audit
// log. Every call is an independent, fallible round trip: there are no
// multi-row transactions and no change notifications. Idempotency comes from
// callers always computing the same timer id for the same logical reminder.
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite via sqlx)
//   - "memory": process-local maps, for tests and dry runs
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"clubbot/internal/timer"
	logx "clubbot/pkg/logx"
)

var (
	ErrNotFound = errors.New("ledger: row not found")
	ErrClosed   = errors.New("ledger: closed")
)

// Client is the contract the reconciler and the firing scheduler consume.
type Client interface {
	ListTimers(ctx context.Context, tenant string) ([]timer.Timer, error)
	// UpsertTimer inserts t, or overwrites the row with the same id while
	// that row is still active. Terminal rows are left as they are.
	UpsertTimer(ctx context.Context, tenant string, t timer.Timer) error
	SetTimerState(ctx context.Context, tenant, id string, state timer.State) error
	DeleteTimers(ctx context.Context, tenant string, ids []string) (int, error)
	ListEntities(ctx context.Context, tenant string, kind timer.RefType) ([]timer.Entity, error)
	AppendAudit(ctx context.Context, tenant string, e AuditEntry) error
	// PruneAudit deletes audit entries older than before.
	PruneAudit(ctx context.Context, tenant string, before time.Time) (int, error)
}

// Store is a Client that also owns entity rows and a connection lifecycle.
// Entity writes normally come from the agent layer; the admin CLI and tests
// use PutEntity to stand in for it.
type Store interface {
	Client
	PutEntity(ctx context.Context, tenant string, e timer.Entity) error
	Close() error
}

// AuditEntry records one operator-visible action.
type AuditEntry struct {
	At     time.Time
	Action string
	Target string
	OK     bool
	Detail string
}

// DefaultPath is the sqlite file used when no path is configured.
const DefaultPath = "./clubbot.db"

// Config configures the ledger driver. An empty driver means sqlite; the
// in-memory store must be asked for by name.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown ledger driver: " + driver)
	}
}

// ActiveByID indexes the active timers of ts by id.
func ActiveByID(ts []timer.Timer) map[string]timer.Timer {
	out := make(map[string]timer.Timer, len(ts))
	for _, t := range ts {
		if t.Active() {
			out[t.ID] = t
		}
	}
	return out
}
