package reconcile

import (
	"sort"
	"strings"
	"time"

	"clubbot/internal/timer"
)

// Plan is the set of writes that converges stored timers to the expected set.
type Plan struct {
	Add     []timer.Timer
	Update  []timer.Timer
	Cancel  []string
	Block   []string
	Skipped int
	// NoChannel lists expected timers that have no channel to deliver to.
	// They are never stored.
	NoChannel []string
}

// Empty reports whether the plan has no writes.
func (p Plan) Empty() bool {
	return len(p.Add)+len(p.Update)+len(p.Cancel)+len(p.Block) == 0
}

// owned reports whether the reconciler manages timers of this ref type.
func owned(r timer.RefType) bool {
	return r == timer.RefTask || r == timer.RefMeeting
}

// Diff computes the plan for one tenant. It is pure; output slices are
// sorted by timer id.
func Diff(entities []timer.Entity, stored []timer.Timer, now time.Time, ch timer.Channels) Plan {
	var p Plan
	live := make([]timer.Entity, 0, len(entities))
	blocked := map[string]bool{}
	for _, e := range entities {
		if !e.Live() {
			continue
		}
		if e.Blocked() {
			blocked[e.ID] = true
			continue
		}
		live = append(live, e)
	}
	expected := timer.DeriveAll(live, now, ch)
	for _, id := range sortedKeys(expected) {
		if strings.TrimSpace(expected[id].ChannelID) == "" {
			p.NoChannel = append(p.NoChannel, id)
			delete(expected, id)
		}
	}

	current := map[string]timer.Timer{}
	terminal := map[string]bool{}
	for _, t := range stored {
		if !owned(t.RefType) {
			continue
		}
		if t.Active() {
			current[t.ID] = t
		} else {
			terminal[t.ID] = true
		}
	}

	for _, id := range sortedKeys(expected) {
		exp := expected[id]
		cur, ok := current[id]
		switch {
		case ok:
			if cur.Differs(exp) {
				p.Update = append(p.Update, exp)
			}
		case terminal[id]:
			p.Skipped++
		default:
			p.Add = append(p.Add, exp)
		}
	}
	for _, id := range sortedKeys(current) {
		if _, ok := expected[id]; ok {
			continue
		}
		cur := current[id]
		if cur.RefType == timer.RefTask && blocked[cur.RefID] {
			p.Block = append(p.Block, id)
			continue
		}
		p.Cancel = append(p.Cancel, id)
	}
	return p
}

func sortedKeys(m map[string]timer.Timer) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
