package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tablebook/internal/model"
)

// Reservation lifecycle event types.
const (
	ReservationCreated   = "reservation.created"
	ReservationConfirmed = "reservation.confirmed"
	ReservationCancelled = "reservation.cancelled"
	ReservationCheckedIn = "reservation.checked_in"
	ReservationCompleted = "reservation.completed"
	ReservationNoShow    = "reservation.no_show"
	RestaurantsSynced    = "restaurants.synced"
)

var statusEvents = map[model.ReservationStatus]string{
	model.StatusPending:   ReservationCreated,
	model.StatusConfirmed: ReservationConfirmed,
	model.StatusCancelled: ReservationCancelled,
	model.StatusCheckedIn: ReservationCheckedIn,
	model.StatusCompleted: ReservationCompleted,
	model.StatusNoShow:    ReservationNoShow,
}

// TypeForStatus maps a reservation status to the event announcing it.
func TypeForStatus(status model.ReservationStatus) string {
	return statusEvents[status]
}

// Event represents a lightweight domain event.
type Event struct {
	ID           string
	Type         string
	RestaurantID string
	Payload      []byte
	CreatedAt    time.Time
}

// NewReservationEvent wraps a reservation snapshot in an event of the given type.
func NewReservationEvent(eventType string, res *model.Reservation) Event {
	payload, _ := json.Marshal(res)
	return Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		RestaurantID: res.RestaurantID,
		Payload:      payload,
		CreatedAt:    time.Now(),
	}
}

// Reservation decodes the payload of a reservation event.
func (e Event) Reservation() (*model.Reservation, error) {
	var res model.Reservation
	if err := json.Unmarshal(e.Payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type. The type "*" receives every event.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handlers run synchronously; a failing
// handler is logged and does not stop the others.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers["*"]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Str("event_id", event.ID).Msg("Event handler failed")
		}
	}
}
