package types

import "time"

// EventType names a request lifecycle event.
type EventType string

// Published event types.
const (
	EventRequestSubmitted     EventType = "request.submitted"
	EventRequestStatusChanged EventType = "request.status_changed"
)

// RequestEvent is the payload published to the message queue when a
// medical request is created or changes status.
type RequestEvent struct {
	ID         string        `json:"id"`
	Type       EventType     `json:"type"`
	RequestID  int           `json:"request_id"`
	UserID     int           `json:"user_id"`
	Status     RequestStatus `json:"status"`
	OccurredAt time.Time     `json:"occurred_at"`
}
