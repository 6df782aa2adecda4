// Package timer holds the timer model shared by the reconciler, the firing
// scheduler and the ledger, plus the pure deriver that maps an entity snapshot
// to the timers it should own.
package timer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type is the reminder kind. It selects both the derivation offset and the
// message template.
type Type string

const (
	TaskReminder24h   Type = "task_reminder_24h"
	TaskReminder2h    Type = "task_reminder_2h"
	TaskOverdue       Type = "task_overdue"
	TaskEscalate      Type = "task_escalate"
	MeetingReminder2h Type = "meeting_reminder_2h"
	MeetingStart      Type = "meeting_start"
	MeetingFollowup   Type = "meeting_followup"
	ScheduledReminder Type = "scheduled_reminder"
)

var knownTypes = map[Type]struct{}{
	TaskReminder24h:   {},
	TaskReminder2h:    {},
	TaskOverdue:       {},
	TaskEscalate:      {},
	MeetingReminder2h: {},
	MeetingStart:      {},
	MeetingFollowup:   {},
	ScheduledReminder: {},
}

func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// RefType is the kind of entity that owns a timer.
type RefType string

const (
	RefTask     RefType = "task"
	RefMeeting  RefType = "meeting"
	RefReminder RefType = "reminder"
)

func (r RefType) Valid() bool {
	switch r {
	case RefTask, RefMeeting, RefReminder:
		return true
	}
	return false
}

// State is the lifecycle state of a stored timer.
type State string

const (
	StateActive    State = "active"
	StateFired     State = "fired"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateBlocked   State = "blocked"
)

func (s State) Valid() bool {
	switch s {
	case StateActive, StateFired, StateFailed, StateCancelled, StateBlocked:
		return true
	}
	return false
}

// Terminal reports whether the state ends a timer's life for this cycle.
func (s State) Terminal() bool { return s.Valid() && s != StateActive }

// Task and meeting lifecycle values as written by the agent/ledger layer.
const (
	TaskOpen       = "open"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
	TaskBlocked    = "blocked"

	MeetingScheduled = "scheduled"
	MeetingCanceled  = "canceled"
	MeetingEnded     = "ended"
)

// Broadcast is the mention used when nobody in particular is responsible.
const Broadcast = "@everyone"

// ErrMalformed marks a timer record that cannot be fired or diffed.
var ErrMalformed = errors.New("malformed timer")

// Timer is one scheduled, idempotent unit of notification work.
//
// Display data (Title, Mention, ChannelID) is copied at derivation time so
// firing never needs the owning entity.
type Timer struct {
	ID        string
	GuildID   string
	Type      Type
	RefType   RefType
	RefID     string
	FireAt    time.Time
	ChannelID string
	Title     string
	Mention   string
	State     State
	UpdatedAt time.Time
}

// ID returns the deterministic identity of the reminder of type t owned by refID.
func ID(refID string, t Type) string {
	return refID + "_" + string(t)
}

// Active reports whether the timer is visible to diffing and firing.
func (t Timer) Active() bool { return t.State == StateActive }

// Due reports whether the timer should fire at now, given the tolerance window.
func (t Timer) Due(now time.Time, tolerance time.Duration) bool {
	return !t.FireAt.After(now.Add(tolerance))
}

// Differs reports whether the fields the reconciler owns differ between t and o.
func (t Timer) Differs(o Timer) bool {
	return !t.FireAt.Equal(o.FireAt) ||
		t.ChannelID != o.ChannelID ||
		t.Title != o.Title ||
		t.Mention != o.Mention
}

// Validate rejects records that the firing scheduler cannot deliver.
func (t Timer) Validate() error {
	switch {
	case strings.TrimSpace(t.ID) == "":
		return fmt.Errorf("%w: empty id", ErrMalformed)
	case !t.Type.Valid():
		return fmt.Errorf("%w: %s: unknown type %q", ErrMalformed, t.ID, t.Type)
	case t.FireAt.IsZero():
		return fmt.Errorf("%w: %s: missing fire_at", ErrMalformed, t.ID)
	case strings.TrimSpace(t.ChannelID) == "":
		return fmt.Errorf("%w: %s: missing channel", ErrMalformed, t.ID)
	}
	return nil
}

// Entity is a read-only snapshot of a task or meeting as seen in the ledger.
//
// At is the due time for tasks and the start time for meetings; the zero
// value means the entity has no concrete deadline.
type Entity struct {
	Kind      RefType
	GuildID   string
	ID        string
	Title     string
	At        time.Time
	Status    string
	Owner     string
	Mention   string
	ChannelID string
}

// Live reports whether the reconciler should load e at all (step 1 of a pass).
// Blocked tasks are live so their timers can be marked blocked.
func (e Entity) Live() bool {
	switch e.Kind {
	case RefTask:
		return e.Status != TaskDone
	case RefMeeting:
		return e.Status == MeetingScheduled
	}
	return false
}

// Blocked reports whether e is a task parked in the blocked state.
func (e Entity) Blocked() bool { return e.Kind == RefTask && e.Status == TaskBlocked }
