package notifier

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownType = errors.New("notifier: no template for timer type")
	ErrNoSender    = errors.New("notifier: no transport configured")
)

// Sink delivers one rendered message. A non-nil error means not delivered.
type Sink interface {
	Send(ctx context.Context, tenant, channelID, text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, tenant, channelID, text string) error

func (f SinkFunc) Send(ctx context.Context, tenant, channelID, text string) error {
	return f(ctx, tenant, channelID, text)
}

// Config controls delivery pacing.
type Config struct {
	RatePerSec     int
	SendTimeout    time.Duration
	DisablePreview bool
}

type HistoryItem struct {
	At        time.Time
	Tenant    string
	ChannelID string
	Text      string
	Err       string
}
