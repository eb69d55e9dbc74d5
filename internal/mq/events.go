package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/medreq/apiserver/types"
)

// Message attributes set on every request event.
const (
	AttrEventType = "type"
	AttrRequestID = "request_id"
	AttrEventID   = "event_id"
)

// EventPublisher encodes request events and publishes them to one
// channel.
type EventPublisher struct {
	mq      *MQ
	channel string
}

// NewEventPublisher returns a publisher writing to channel.
func NewEventPublisher(m *MQ, channel string) *EventPublisher {
	return &EventPublisher{mq: m, channel: channel}
}

// PublishRequestEvent publishes event as JSON.
func (p *EventPublisher) PublishRequestEvent(ctx context.Context, event types.RequestEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := p.mq.Publish(ctx, p.channel, data, map[string]string{
		AttrEventType: string(event.Type),
		AttrRequestID: strconv.Itoa(event.RequestID),
		AttrEventID:   event.ID,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// DecodeRequestEvent parses a message produced by PublishRequestEvent.
func DecodeRequestEvent(msg Message) (types.RequestEvent, error) {
	var event types.RequestEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return types.RequestEvent{}, fmt.Errorf("decode event %s: %w", msg.ID, err)
	}
	return event, nil
}
