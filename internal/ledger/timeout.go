package ledger

import (
	"context"
	"time"

	"clubbot/internal/timer"
)

// WithTimeout bounds every call on c by d. A non-positive d returns c as is.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 || c == nil {
		return c
	}
	return &timeoutClient{next: c, d: d}
}

type timeoutClient struct {
	next Client
	d    time.Duration
}

func (c *timeoutClient) ListTimers(ctx context.Context, tenant string) ([]timer.Timer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.d)
	defer cancel()
	return c.next.ListTimers(ctx, tenant)
}

func (c *timeoutClient) UpsertTimer(ctx context.Context, tenant string, t timer.Timer) error {
	ctx, cancel := context.WithTimeout(ctx, c.d)
	defer cancel()
	return c.next.UpsertTimer(ctx, tenant, t)
}

func (c *timeoutClient) SetTimerState(ctx context.Context, tenant, id string, state timer.State) error {
	ctx, cancel := context.WithTimeout(ctx, c.d)
	defer cancel()
	return c.next.SetTimerState(ctx, tenant, id, state)
}

func (c *timeoutClient) DeleteTimers(ctx context.Context, tenant string, ids []string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.d)
	defer cancel()
	return c.next.DeleteTimers(ctx, tenant, ids)
}

func (c *timeoutClient) ListEntities(ctx context.Context, tenant string, kind timer.RefType) ([]timer.Entity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.d)
	defer cancel()
	return c.next.ListEntities(ctx, tenant, kind)
}

func (c *timeoutClient) AppendAudit(ctx context.Context, tenant string, e AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, c.d)
	defer cancel()
	return c.next.AppendAudit(ctx, tenant, e)
}

func (c *timeoutClient) PruneAudit(ctx context.Context, tenant string, before time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.d)
	defer cancel()
	return c.next.PruneAudit(ctx, tenant, before)
}
