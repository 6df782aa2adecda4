package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"clubbot/internal/eventbus"
	kit "clubbot/internal/transport"
	logx "clubbot/pkg/logx"
)

const historySize = 200

// Service is a rate-limited Sink over a chat transport.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.cfg = cfg
	// Burst equals the per-second rate so a tick with a few due timers is not serialized.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetSender swaps the transport, for example after a token change.
func (s *Service) SetSender(sender kit.Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// Send delivers text to channelID. The wait on the limiter counts against
// the caller's context; the transport call is bounded by SendTimeout.
func (s *Service) Send(ctx context.Context, tenant, channelID, text string) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	err := s.deliver(ctx, cfg, lim, sender, channelID, text)

	ev := eventbus.NotificationEvent{ChannelID: channelID, Chars: len(text)}
	item := HistoryItem{At: time.Now(), Tenant: tenant, ChannelID: channelID, Text: text}
	if err != nil {
		ev.Error = err.Error()
		item.Err = err.Error()
		s.log.Debug("notify send failed", logx.Guild(tenant), logx.String("channel", channelID), logx.Err(err))
	}
	s.appendHistory(item)
	s.bus.Publish(eventbus.Event{Type: eventbus.NotificationSent, Tenant: tenant, Data: ev})
	return err
}

func (s *Service) deliver(ctx context.Context, cfg Config, lim *rate.Limiter, sender kit.Sender, channelID, text string) error {
	if sender == nil {
		return ErrNoSender
	}
	to, err := kit.ParseChatTarget(channelID)
	if err != nil {
		return err
	}
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	_, err = sender.SendText(callCtx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: cfg.DisablePreview})
	return err
}

// Snapshot returns recent delivery attempts, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

// LogSink writes messages to the log instead of a chat. It backs dry runs
// and deployments without a bot token.
type LogSink struct {
	Log logx.Logger
}

func (l LogSink) Send(_ context.Context, tenant, channelID, text string) error {
	log := l.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log.Info("notification", logx.Guild(tenant), logx.String("channel", channelID), logx.String("text", text))
	return nil
}
