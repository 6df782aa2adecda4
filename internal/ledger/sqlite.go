package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"clubbot/internal/timer"
	logx "clubbot/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
	now func() time.Time
}

type timerRow struct {
	GuildID   string `db:"guild_id"`
	ID        string `db:"id"`
	Type      string `db:"type"`
	RefType   string `db:"ref_type"`
	RefID     string `db:"ref_id"`
	FireAt    string `db:"fire_at"`
	ChannelID string `db:"channel_id"`
	State     string `db:"state"`
	Title     string `db:"title"`
	Mention   string `db:"mention"`
	UpdatedAt string `db:"updated_at"`
}

type entityRow struct {
	GuildID   string `db:"guild_id"`
	Kind      string `db:"kind"`
	ID        string `db:"id"`
	Title     string `db:"title"`
	At        string `db:"at"`
	Status    string `db:"status"`
	Owner     string `db:"owner"`
	Mention   string `db:"mention"`
	ChannelID string `db:"channel_id"`
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite ledger: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying ledger schema: %w", err)
	}
	return &sqliteStore{db: db, log: log, now: time.Now}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListTimers(ctx context.Context, tenant string) ([]timer.Timer, error) {
	var rows []timerRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT guild_id, id, type, ref_type, ref_id, fire_at, channel_id, state, title, mention, updated_at
		 FROM timers WHERE guild_id = ? ORDER BY fire_at, id`, tenant)
	if err != nil {
		return nil, fmt.Errorf("listing timers: %w", err)
	}
	out := make([]timer.Timer, 0, len(rows))
	for _, r := range rows {
		t, err := r.toTimer()
		if err != nil {
			// Malformed rows are skipped, never fatal for the batch.
			s.log.Warn("skipping malformed timer row", logx.Guild(tenant), logx.TimerID(r.ID), logx.Err(err))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *sqliteStore) UpsertTimer(ctx context.Context, tenant string, t timer.Timer) error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: empty id", timer.ErrMalformed)
	}
	if t.State == "" {
		t.State = timer.StateActive
	}
	now := formatTime(s.now())
	return retryOp(ctx, defaultRetryConfig, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO timers (guild_id, id, type, ref_type, ref_id, fire_at, channel_id, state, title, mention, updated_at)
			 VALUES (?,?,?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(guild_id, id) DO UPDATE SET
			   type=excluded.type, ref_type=excluded.ref_type, ref_id=excluded.ref_id,
			   fire_at=excluded.fire_at, channel_id=excluded.channel_id, state=excluded.state,
			   title=excluded.title, mention=excluded.mention, updated_at=excluded.updated_at
			 WHERE timers.state = 'active'`,
			tenant, t.ID, string(t.Type), string(t.RefType), t.RefID, formatTime(t.FireAt),
			t.ChannelID, string(t.State), t.Title, t.Mention, now,
		)
		return err
	})
}

func (s *sqliteStore) SetTimerState(ctx context.Context, tenant, id string, state timer.State) error {
	if !state.Valid() {
		return fmt.Errorf("invalid timer state %q", state)
	}
	var n int64
	err := retryOp(ctx, defaultRetryConfig, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE timers SET state = ?, updated_at = ? WHERE guild_id = ? AND id = ?`,
			string(state), formatTime(s.now()), tenant, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("setting timer %s state: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("timer %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) DeleteTimers(ctx context.Context, tenant string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM timers WHERE guild_id = ? AND id IN (?)`, tenant, ids)
	if err != nil {
		return 0, err
	}
	var n int64
	err = retryOp(ctx, defaultRetryConfig, func() error {
		res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deleting timers: %w", err)
	}
	return int(n), nil
}

func (s *sqliteStore) ListEntities(ctx context.Context, tenant string, kind timer.RefType) ([]timer.Entity, error) {
	var rows []entityRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT guild_id, kind, id, title, at, status, owner, mention, channel_id
		 FROM entities WHERE guild_id = ? AND kind = ? ORDER BY id`, tenant, string(kind))
	if err != nil {
		return nil, fmt.Errorf("listing %s entities: %w", kind, err)
	}
	out := make([]timer.Entity, 0, len(rows))
	for _, r := range rows {
		e := timer.Entity{
			Kind:      timer.RefType(r.Kind),
			GuildID:   r.GuildID,
			ID:        r.ID,
			Title:     r.Title,
			Status:    r.Status,
			Owner:     r.Owner,
			Mention:   r.Mention,
			ChannelID: r.ChannelID,
		}
		if strings.TrimSpace(r.At) != "" {
			at, err := ParseTimestamp(r.At)
			if err != nil {
				// A bad deadline behaves like no deadline.
				s.log.Warn("ignoring malformed entity deadline", logx.Guild(tenant), logx.String("entity", r.ID), logx.Err(err))
			} else {
				e.At = at
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *sqliteStore) PutEntity(ctx context.Context, tenant string, e timer.Entity) error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("entity id is required")
	}
	at := ""
	if !e.At.IsZero() {
		at = formatTime(e.At)
	}
	return retryOp(ctx, defaultRetryConfig, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO entities (guild_id, kind, id, title, at, status, owner, mention, channel_id, updated_at)
			 VALUES (?,?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(guild_id, kind, id) DO UPDATE SET
			   title=excluded.title, at=excluded.at, status=excluded.status, owner=excluded.owner,
			   mention=excluded.mention, channel_id=excluded.channel_id, updated_at=excluded.updated_at`,
			tenant, string(e.Kind), e.ID, e.Title, at, e.Status, e.Owner, e.Mention, e.ChannelID, formatTime(s.now()),
		)
		return err
	})
}

func (s *sqliteStore) AppendAudit(ctx context.Context, tenant string, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit (at, guild_id, action, target, ok, detail) VALUES (?,?,?,?,?,?)`,
		formatTime(e.At), tenant, e.Action, e.Target, ok, nullStr(e.Detail),
	)
	return err
}

func (s *sqliteStore) PruneAudit(ctx context.Context, tenant string, before time.Time) (int, error) {
	var n int64
	err := retryOp(ctx, defaultRetryConfig, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM audit WHERE guild_id = ? AND julianday(at) < julianday(?)`,
			tenant, formatTime(before))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("pruning audit: %w", err)
	}
	return int(n), nil
}

func (r timerRow) toTimer() (timer.Timer, error) {
	fireAt, err := ParseTimestamp(r.FireAt)
	if err != nil {
		return timer.Timer{}, fmt.Errorf("%w: fire_at: %v", timer.ErrMalformed, err)
	}
	t := timer.Timer{
		ID:        r.ID,
		GuildID:   r.GuildID,
		Type:      timer.Type(r.Type),
		RefType:   timer.RefType(r.RefType),
		RefID:     r.RefID,
		FireAt:    fireAt,
		ChannelID: r.ChannelID,
		State:     timer.State(r.State),
		Title:     r.Title,
		Mention:   r.Mention,
	}
	if !t.State.Valid() {
		return timer.Timer{}, fmt.Errorf("%w: state %q", timer.ErrMalformed, r.State)
	}
	if strings.TrimSpace(r.UpdatedAt) != "" {
		if at, err := ParseTimestamp(r.UpdatedAt); err == nil {
			t.UpdatedAt = at
		}
	}
	return t, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return sql.NullString{}
	}
	return v
}
