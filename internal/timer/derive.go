package timer

import (
	"strings"
	"time"
)

// Channels are a tenant's default notification channels. The deriver falls
// back to them when an entity does not carry its own channel.
type Channels struct {
	Task       string
	Meeting    string
	Escalation string
}

type offset struct {
	typ Type
	at  time.Duration
}

type rule struct {
	statuses map[string]struct{}
	offsets  []offset
	// mention used when the entity has none
	defaultMention string
}

// rules is the single definition of what counts as a reminder.
var rules = map[RefType]rule{
	RefTask: {
		statuses: map[string]struct{}{TaskOpen: {}, TaskInProgress: {}},
		offsets: []offset{
			{TaskReminder24h, -24 * time.Hour},
			{TaskReminder2h, -2 * time.Hour},
			{TaskOverdue, 0},
			{TaskEscalate, 48 * time.Hour},
		},
	},
	RefMeeting: {
		statuses: map[string]struct{}{MeetingScheduled: {}},
		offsets: []offset{
			{MeetingReminder2h, -2 * time.Hour},
			{MeetingStart, 0},
			{MeetingFollowup, 30 * time.Minute},
		},
		defaultMention: Broadcast,
	},
}

// Offsets returns the offset from the entity deadline for each reminder type of kind.
func Offsets(kind RefType) map[Type]time.Duration {
	r, ok := rules[kind]
	if !ok {
		return nil
	}
	out := make(map[Type]time.Duration, len(r.offsets))
	for _, o := range r.offsets {
		out[o.typ] = o.at
	}
	return out
}

// Derive computes the timers e should own at now.
//
// It is pure: the same snapshot, now and channels always produce the same map.
// Timers whose fire time is not after now are omitted, so a restart after
// downtime never produces a burst of stale reminders.
func Derive(e Entity, now time.Time, ch Channels) map[string]Timer {
	r, ok := rules[e.Kind]
	if !ok || strings.TrimSpace(e.ID) == "" || e.At.IsZero() {
		return nil
	}
	if _, ok := r.statuses[e.Status]; !ok {
		return nil
	}

	channel := strings.TrimSpace(e.ChannelID)
	if channel == "" {
		switch e.Kind {
		case RefTask:
			channel = ch.Task
		case RefMeeting:
			channel = ch.Meeting
		}
	}
	mention := strings.TrimSpace(e.Mention)
	if mention == "" {
		mention = r.defaultMention
	}
	title := strings.TrimSpace(e.Title)

	now = now.UTC()
	base := e.At.UTC()
	out := make(map[string]Timer, len(r.offsets))
	for _, o := range r.offsets {
		fireAt := base.Add(o.at)
		if !fireAt.After(now) {
			continue
		}
		t := Timer{
			ID:        ID(e.ID, o.typ),
			GuildID:   e.GuildID,
			Type:      o.typ,
			RefType:   e.Kind,
			RefID:     e.ID,
			FireAt:    fireAt,
			ChannelID: channel,
			Title:     title,
			Mention:   mention,
			State:     StateActive,
		}
		if o.typ == TaskEscalate {
			if esc := strings.TrimSpace(ch.Escalation); esc != "" {
				t.ChannelID = esc
			}
		}
		out[t.ID] = t
	}
	return out
}

// DeriveAll merges the derived timers of every entity into one expected set.
func DeriveAll(entities []Entity, now time.Time, ch Channels) map[string]Timer {
	out := map[string]Timer{}
	for _, e := range entities {
		for id, t := range Derive(e, now, ch) {
			out[id] = t
		}
	}
	return out
}
