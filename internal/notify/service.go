// Package notify dispatches approval and action events to notification
// channels. DevopsMate ships a webhook driver (HMAC-signed JSON POST) and a
// log driver; more drivers can be registered with RegisterDriver.
//
// Delivery is best-effort and asynchronous: Notify returns immediately and
// failures are logged, never propagated to the workflow that raised them.
package notify

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// EventType describes what happened.
type EventType string

const (
	EventApprovalPending EventType = "approval_pending"
	EventApprovalDecided EventType = "approval_decided"
	EventActionFinished  EventType = "action_finished"
)

// Event is the notification payload.
type Event = contracts.NotificationEvent

// ChannelKind identifies a driver.
type ChannelKind string

const (
	ChannelWebhook ChannelKind = "webhook"
	ChannelLog     ChannelKind = "log"
)

// Channel is a configured notification destination.
type Channel struct {
	Name   string            `yaml:"name" json:"name"`
	Kind   ChannelKind       `yaml:"kind" json:"kind"`
	URL    string            `yaml:"url" json:"url,omitempty"`
	Secret string            `yaml:"secret" json:"-"`
	Events []string          `yaml:"events" json:"events,omitempty"` // empty = all events
	Auth   map[string]string `yaml:"auth" json:"-"`
}

// ChannelDriver delivers an event to one channel.
type ChannelDriver interface {
	Kind() ChannelKind
	Send(ctx context.Context, channel *Channel, event Event) error
}

// Service fans events out to every subscribed channel.
type Service struct {
	drvMu   sync.RWMutex
	drivers map[ChannelKind]ChannelDriver

	chMu     sync.RWMutex
	channels []Channel

	timeout  time.Duration
	inflight sync.WaitGroup
}

// NewService creates a notification service with the built-in webhook and
// log drivers.
func NewService(channels ...Channel) *Service {
	svc := &Service{
		drivers:  make(map[ChannelKind]ChannelDriver),
		channels: channels,
		timeout:  30 * time.Second,
	}
	svc.RegisterDriver(NewWebhookDriver())
	svc.RegisterDriver(logDriver{})
	return svc
}

// RegisterDriver adds or replaces a channel driver for its kind.
func (s *Service) RegisterDriver(driver ChannelDriver) {
	s.drvMu.Lock()
	defer s.drvMu.Unlock()
	s.drivers[driver.Kind()] = driver
	log.Debug().Str("kind", string(driver.Kind())).Msg("Registered notification channel driver")
}

// AddChannel registers another destination.
func (s *Service) AddChannel(ch Channel) {
	s.chMu.Lock()
	s.channels = append(s.channels, ch)
	s.chMu.Unlock()
}

func (s *Service) driver(kind ChannelKind) ChannelDriver {
	s.drvMu.RLock()
	defer s.drvMu.RUnlock()
	return s.drivers[kind]
}

// Notify dispatches event to every subscribed channel in the background.
// The dispatch is detached from ctx cancellation.
func (s *Service) Notify(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.chMu.RLock()
	channels := slices.Clone(s.channels)
	s.chMu.RUnlock()

	base := context.WithoutCancel(ctx)
	for i := range channels {
		ch := channels[i]
		if !subscribes(&ch, event.Type) {
			continue
		}
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			dctx, cancel := context.WithTimeout(base, s.timeout)
			defer cancel()
			s.dispatch(dctx, &ch, event)
		}()
	}
}

// Wait blocks until every in-flight dispatch has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func (s *Service) dispatch(ctx context.Context, ch *Channel, event Event) {
	d := s.driver(ch.Kind)
	if d == nil {
		log.Warn().Str("kind", string(ch.Kind)).Str("channel", ch.Name).Msg("No channel driver")
		return
	}
	if err := d.Send(ctx, ch, event); err != nil {
		log.Warn().Err(err).Str("channel", ch.Name).Str("event", event.Type).Str("action", event.ActionID).Msg("Notification failed")
		return
	}
	log.Debug().Str("channel", ch.Name).Str("event", event.Type).Str("action", event.ActionID).Msg("Notification dispatched")
}

func subscribes(ch *Channel, eventType string) bool {
	if len(ch.Events) == 0 {
		return true
	}
	for _, e := range ch.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// logDriver writes events to the structured log.
type logDriver struct{}

func (logDriver) Kind() ChannelKind { return ChannelLog }

func (logDriver) Send(_ context.Context, ch *Channel, event Event) error {
	log.Info().
		Str("channel", ch.Name).
		Str("event", event.Type).
		Str("action", event.ActionID).
		Str("approval", event.ApprovalID).
		Str("status", event.Status).
		Str("scope", event.Scope).
		Msg("🔔 Notification")
	return nil
}
