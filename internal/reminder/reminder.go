// Package reminder schedules one-off reminders requested by people rather
// than derived from tasks or meetings. They are stored as active
// scheduled_reminder timers and delivered by the firing tick; the reconciler
// never touches them.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"clubbot/internal/eventbus"
	"clubbot/internal/ledger"
	"clubbot/internal/tenant"
	"clubbot/internal/timer"
	logx "clubbot/pkg/logx"
)

var (
	ErrEmptyMessage = errors.New("reminder: message is required")
	ErrPastTime     = errors.New("reminder: fire time is in the past")
	ErrNoChannel    = errors.New("reminder: no channel configured")
)

// maxMessage caps the stored text; longer requests are rejected, not cut.
const maxMessage = 2000

type Tenants interface {
	Get(id string) (tenant.Tenant, error)
}

// Request describes one reminder. At wins over Delay; with neither set the
// reminder is due immediately and goes out on the next firing tick.
type Request struct {
	Mention string
	Message string
	Delay   time.Duration
	At      time.Time
	Channel string // empty means the tenant task channel
}

type Service struct {
	ledger  ledger.Client
	tenants Tenants
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time
}

func New(lc ledger.Client, tenants Tenants, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{ledger: lc, tenants: tenants, log: log, bus: bus, now: time.Now}
}

// SetClock replaces the time source for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Schedule stores the reminder and returns the created timer.
func (s *Service) Schedule(ctx context.Context, tenantID string, req Request) (timer.Timer, error) {
	tn, err := s.tenants.Get(tenantID)
	if err != nil {
		return timer.Timer{}, err
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return timer.Timer{}, ErrEmptyMessage
	}
	if len(msg) > maxMessage {
		return timer.Timer{}, fmt.Errorf("reminder: message longer than %d bytes", maxMessage)
	}
	if req.Delay < 0 {
		return timer.Timer{}, fmt.Errorf("reminder: negative delay %s", req.Delay)
	}

	now := s.now().UTC()
	fireAt := now.Add(req.Delay)
	if !req.At.IsZero() {
		if req.At.Before(now) {
			return timer.Timer{}, ErrPastTime
		}
		fireAt = req.At.UTC()
	}

	channel := strings.TrimSpace(req.Channel)
	if channel == "" {
		channel = tn.Channels.Task
	}
	if channel == "" {
		return timer.Timer{}, fmt.Errorf("%w for guild %s", ErrNoChannel, tn.ID)
	}

	id := "reminder-" + uuid.NewString()
	t := timer.Timer{
		ID:        id,
		GuildID:   tn.ID,
		Type:      timer.ScheduledReminder,
		RefType:   timer.RefReminder,
		RefID:     id,
		FireAt:    fireAt,
		ChannelID: channel,
		Title:     msg,
		Mention:   strings.TrimSpace(req.Mention),
		State:     timer.StateActive,
	}
	if err := s.ledger.UpsertTimer(ctx, tn.ID, t); err != nil {
		return timer.Timer{}, fmt.Errorf("storing reminder: %w", err)
	}

	s.log.Info("reminder scheduled", logx.Guild(tn.ID), logx.TimerID(id), logx.Time("fire_at", fireAt))
	s.bus.Publish(eventbus.Event{Type: eventbus.TimerScheduled, Tenant: tn.ID, Data: eventbus.TimerEvent{ID: id, Type: string(t.Type), FireAt: fireAt}})
	return t, nil
}

// Cancel cancels an active reminder. Derived timers cannot be cancelled here.
func (s *Service) Cancel(ctx context.Context, tenantID, id string) error {
	ts, err := s.ledger.ListTimers(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, t := range ts {
		if t.ID != id {
			continue
		}
		if t.RefType != timer.RefReminder {
			return fmt.Errorf("reminder: %s is not an ad-hoc reminder", id)
		}
		if !t.Active() {
			return fmt.Errorf("reminder: %s is already %s", id, t.State)
		}
		return s.ledger.SetTimerState(ctx, tenantID, id, timer.StateCancelled)
	}
	return fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
}
