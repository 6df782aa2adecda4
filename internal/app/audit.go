package app

import (
	"context"
	"fmt"
	"time"

	"clubbot/internal/eventbus"
	"clubbot/internal/ledger"
	logx "clubbot/pkg/logx"
)

const auditWriteTimeout = 5 * time.Second

// auditor copies operator-relevant events into the ledger audit log.
type auditor struct {
	ledger ledger.Client
	log    logx.Logger
}

func (a *auditor) run(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.record(ctx, e)
		}
	}
}

func (a *auditor) record(ctx context.Context, e eventbus.Event) {
	entry, ok := auditEntry(e)
	if !ok || e.Tenant == "" {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()
	if err := a.ledger.AppendAudit(wctx, e.Tenant, entry); err != nil {
		a.log.Debug("audit append failed", logx.Guild(e.Tenant), logx.String("action", entry.Action), logx.Err(err))
	}
}

// auditEntry maps an event to an audit row. Events without operator value
// (notification.sent, skipped no-op passes) map to false.
func auditEntry(e eventbus.Event) (ledger.AuditEntry, bool) {
	entry := ledger.AuditEntry{At: e.Time, Action: e.Type}
	switch d := e.Data.(type) {
	case eventbus.TimerEvent:
		switch e.Type {
		case eventbus.TimerFired, eventbus.TimerScheduled:
			entry.OK = true
		case eventbus.TimerFailed, eventbus.TimerSkipped:
		default:
			return entry, false
		}
		entry.Target = d.ID
		entry.Detail = d.Type
		if d.Error != "" {
			entry.Detail += ": " + d.Error
		}
	case eventbus.ReconcileEvent:
		if e.Type == eventbus.ReconcileDone && d.Added+d.Updated+d.Cancelled+d.Blocked == 0 {
			return entry, false
		}
		entry.OK = e.Type == eventbus.ReconcileDone
		entry.Target = "timers"
		entry.Detail = fmt.Sprintf("added=%d updated=%d cancelled=%d blocked=%d errors=%d",
			d.Added, d.Updated, d.Cancelled, d.Blocked, d.Errors)
		if d.Error != "" {
			entry.Detail += " err=" + d.Error
		}
	case eventbus.CleanupEvent:
		entry.OK = true
		entry.Target = "timers"
		entry.Detail = fmt.Sprintf("deleted=%d", d.Deleted)
	default:
		return entry, false
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	return entry, true
}
