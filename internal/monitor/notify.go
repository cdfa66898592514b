package monitor

import (
	"context"
	"time"

	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/model"
)

// Kind names a notification. The values double as push event names.
type Kind string

const (
	KindMeasurement Kind = "new_measurement"
	KindPacketLoss  Kind = "packet_loss"
	KindStatus      Kind = "status_change"
	KindWarning     Kind = "warning"
	KindStats       Kind = "stats_update"
)

// Notification is one state change published by the monitor.
type Notification struct {
	Kind Kind
	At   time.Time
	// Events are the rows to persist, if any.
	Events []model.Event
	// Payload is the JSON-ready body pushed to dashboard clients: a
	// Reading, PacketLoss, StatusChange, model.Warning or session.Snapshot.
	Payload any
	// Transition is set for KindStatus.
	Transition *model.Transition
}

// PacketLoss describes one sequence gap.
type PacketLoss struct {
	Count int    `json:"count"`
	From  uint64 `json:"from"`
	To    uint64 `json:"to"`
}

// StatusChange is the payload of a KindStatus notification.
type StatusChange struct {
	Status          string         `json:"status"`
	At              time.Time      `json:"timestamp"`
	Disconnects     int            `json:"disconnect_count"`
	DurationSeconds *float64       `json:"duration,omitempty"`
	Warning         *model.Warning `json:"warning,omitempty"`
}

// Handler consumes notifications. Handlers run on the dispatcher
// goroutine, one notification at a time, in publication order.
type Handler interface {
	HandleNotification(ctx context.Context, n Notification)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, n Notification)

// HandleNotification calls f.
func (f HandlerFunc) HandleNotification(ctx context.Context, n Notification) { f(ctx, n) }

// EventWriter persists normalized event rows.
type EventWriter interface {
	Write(ctx context.Context, ev model.Event) error
}

// PersistTo returns a handler that writes every notification's events to w.
// Write errors are logged and do not stop delivery.
func PersistTo(w EventWriter, log logging.Logger) Handler {
	if log == nil {
		log = logging.Noop()
	}
	return HandlerFunc(func(ctx context.Context, n Notification) {
		for _, ev := range n.Events {
			if err := w.Write(ctx, ev); err != nil {
				log.Warn(ctx, "persist event failed",
					logging.String("event_type", string(ev.Type)),
					logging.Err(err),
				)
			}
		}
	})
}

// Dispatch delivers queued notifications to handlers until ctx is done,
// then flushes what is still queued and returns ctx.Err().
func (m *Monitor) Dispatch(ctx context.Context, handlers ...Handler) error {
	for {
		select {
		case <-ctx.Done():
			m.deliver(context.WithoutCancel(ctx), handlers)
			return ctx.Err()
		case <-m.wake:
			m.deliver(ctx, handlers)
		}
	}
}

// Drain delivers whatever is queued right now and returns the number of
// notifications delivered.
func (m *Monitor) Drain(ctx context.Context, handlers ...Handler) int {
	return m.deliver(ctx, handlers)
}

func (m *Monitor) deliver(ctx context.Context, handlers []Handler) int {
	m.mu.Lock()
	batch := m.pending
	m.pending = make([]Notification, 0, notificationsStart)
	m.mu.Unlock()

	for _, n := range batch {
		for _, h := range handlers {
			h.HandleNotification(ctx, n)
		}
	}
	return len(batch)
}
