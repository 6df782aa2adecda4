package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"clubbot/internal/timer"
)

const timeLayout = "Mon 02 Jan 15:04 MST"

type template struct {
	header string
	body   string // %s is the title
	// call is appended after the mention; empty means no call-to-action line.
	call      string
	broadcast bool
}

var templates = map[timer.Type]template{
	timer.TaskReminder24h: {
		header: "⏰ <b>Task Reminder - 24 Hours</b>",
		body:   "<b>%s</b> is due in 24 hours",
		call:   "Please check your task status!",
	},
	timer.TaskReminder2h: {
		header: "⚠️ <b>Task Reminder - 2 Hours</b>",
		body:   "<b>%s</b> is due in 2 hours",
		call:   "Please check your task status!",
	},
	timer.TaskOverdue: {
		header: "🚨 <b>OVERDUE TASK</b> 🚨",
		body:   "<b>%s</b> is now overdue",
		call:   "Please complete this task immediately!",
	},
	timer.TaskEscalate: {
		header:    "📢 <b>TASK ESCALATION</b> 📢",
		body:      "<b>%s</b> has been overdue for 48 hours",
		call:      "This task needs immediate attention!",
		broadcast: true,
	},
	timer.MeetingReminder2h: {
		header: "📅 <b>Meeting Reminder - 2 Hours</b>",
		body:   "<b>%s</b> starts in 2 hours",
		call:   "Please prepare for the meeting!",
	},
	timer.MeetingStart: {
		header: "🚀 <b>Meeting Starting Now</b> 🚀",
		body:   "<b>%s</b>",
		call:   "The meeting is starting now!",
	},
	timer.MeetingFollowup: {
		header: "📝 <b>Meeting Follow-up</b>",
		body:   "<b>%s</b> started 30 minutes ago",
		call:   "Please post notes and action items.",
	},
	timer.ScheduledReminder: {
		header: "🔔 <b>Reminder</b>",
		body:   "%s",
	},
}

// Render builds the HTML message for t. loc is the tenant display timezone;
// nil means UTC.
func Render(t timer.Timer, loc *time.Location) (string, error) {
	tpl, ok := templates[t.Type]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, t.Type)
	}
	if loc == nil {
		loc = time.UTC
	}

	title := strings.TrimSpace(t.Title)
	if title == "" {
		title = t.RefID
	}

	var b strings.Builder
	b.WriteString(tpl.header)
	b.WriteByte('\n')
	fmt.Fprintf(&b, tpl.body, html.EscapeString(title))
	b.WriteByte('\n')
	fmt.Fprintf(&b, "🕒 %s\n", t.FireAt.In(loc).Format(timeLayout))

	mention := strings.TrimSpace(t.Mention)
	if tpl.broadcast {
		mention = timer.Broadcast
	}
	switch {
	case mention != "" && tpl.call != "":
		fmt.Fprintf(&b, "%s - %s", html.EscapeString(mention), tpl.call)
	case mention != "":
		b.WriteString(html.EscapeString(mention))
	case tpl.call != "":
		b.WriteString(tpl.call)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
