package realtime

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/nhle/ticketdesk/internal/model"
)

// Event names carried in Envelope.Event.
const (
	EventJoin          = "join"
	EventNotification  = "notification"
	EventTicketCreated = "ticketCreated"
	EventTicketUpdated = "ticketUpdated"
	EventTicketDeleted = "ticketDeleted"
)

// Envelope is one websocket text frame: an event name and its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload subscribes the connection to the user's channel.
type JoinPayload struct {
	UserID string `json:"userId"`
}

// Encode builds the frame for event with payload data.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// NotificationSink receives pushed notifications.
type NotificationSink interface {
	Add(n model.Notification)
}

// TicketSink receives pushed ticket lifecycle events.
type TicketSink interface {
	Created(t model.Ticket)
	Updated(t model.Ticket)
	Deleted(id string)
}

// errUnknownEvent is returned by dispatch for events nobody handles.
var errUnknownEvent = errors.New("unknown event")

// dispatch decodes frame and hands its payload to the matching sink.
func dispatch(frame []byte, notes NotificationSink, tickets TicketSink) (string, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", fmt.Errorf("decoding envelope: %w", err)
	}

	switch env.Event {
	case EventNotification:
		var n model.Notification
		if err := json.Unmarshal(env.Data, &n); err != nil {
			return env.Event, err
		}
		if notes != nil {
			notes.Add(n)
		}
	case EventTicketCreated, EventTicketUpdated:
		var t model.Ticket
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return env.Event, err
		}
		if tickets == nil {
			return env.Event, nil
		}
		if env.Event == EventTicketCreated {
			tickets.Created(t)
		} else {
			tickets.Updated(t)
		}
	case EventTicketDeleted:
		var id model.TicketID
		if err := json.Unmarshal(env.Data, &id); err != nil {
			return env.Event, err
		}
		if id.ID == "" {
			return env.Event, errors.New("ticketDeleted without id")
		}
		if tickets != nil {
			tickets.Deleted(id.ID)
		}
	default:
		return env.Event, errUnknownEvent
	}
	return env.Event, nil
}
