package eventbus

import "time"

// Event types published by the reminder subsystem.
const (
	TimerFired       = "timer.fired"
	TimerFailed      = "timer.failed"
	TimerSkipped     = "timer.skipped"
	TimerScheduled   = "timer.scheduled"
	ReconcileDone    = "reconcile.done"
	ReconcileFailed  = "reconcile.failed"
	CleanupDone      = "cleanup.done"
	NotificationSent = "notification.sent"
)

// TimerEvent describes the outcome of one timer operation.
type TimerEvent struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	FireAt time.Time `json:"fire_at"`
	Error  string    `json:"error,omitempty"`
}

// ReconcileEvent summarizes one tenant reconcile pass.
type ReconcileEvent struct {
	Added     int           `json:"added"`
	Updated   int           `json:"updated"`
	Cancelled int           `json:"cancelled"`
	Blocked   int           `json:"blocked"`
	Errors    int           `json:"errors"`
	Took      time.Duration `json:"took"`
	Error     string        `json:"error,omitempty"`
}

// CleanupEvent reports removed terminal timers.
type CleanupEvent struct {
	Deleted int `json:"deleted"`
}

// NotificationEvent is emitted by the notification sink after a delivery attempt.
type NotificationEvent struct {
	ChannelID string `json:"channel_id"`
	Chars     int    `json:"chars"`
	Error     string `json:"error,omitempty"`
}
