package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/replk8/voice-agent/logger"
)

// Event is a call lifecycle notification published to observers
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	CallControlID string         `json:"call_control_id,omitempty"`
	Phase         string         `json:"phase,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// New stamps an event with an id and the current time
func New(eventType, callControlID string, data map[string]any) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		CallControlID: callControlID,
		Data:          data,
		Timestamp:     time.Now().UTC(),
	}
}

// Publisher delivers events to some sink
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Fanout sends every event to all of its publishers. A failing sink is
// logged and does not stop delivery to the rest.
type Fanout struct {
	publishers []Publisher
	log        *logger.Logger
}

// NewFanout builds a fan-out over the non-nil publishers
func NewFanout(publishers ...Publisher) *Fanout {
	f := &Fanout{log: logger.Component("events")}
	for _, p := range publishers {
		if p != nil {
			f.publishers = append(f.publishers, p)
		}
	}
	return f
}

func (f *Fanout) Publish(ctx context.Context, event Event) error {
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			f.log.Warn("Failed to publish %s event: %v", event.Type, err)
		}
	}
	return nil
}
