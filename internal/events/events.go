package events

import (
	"encoding/json"
	"time"

	"qms/place-queue/internal/models"
)

type Kind string

const (
	KindNewEntry        Kind = "new_entry"
	KindStatusChanged   Kind = "status_changed"
	KindPositionUpdated Kind = "position_updated"
	KindMovedToBack     Kind = "moved_to_back"
)

// Event is implemented only by the types in this file.
type Event interface {
	Kind() Kind
	TicketID() string
	// Status is the ticket status carried on the envelope, empty when the
	// event is not about a single status.
	Status() string
	isEvent()
}

type NewEntry struct {
	Ticket models.Ticket `json:"ticket"`
}

type StatusChanged struct {
	Ticket         models.Ticket `json:"ticket"`
	PreviousStatus string        `json:"previous_status"`
}

// PositionUpdated tells scope subscribers to refresh positions after the
// ticket identified by Ticket left the waiting line.
type PositionUpdated struct {
	Ticket           models.Ticket `json:"ticket"`
	WaitingCount     int           `json:"waiting_count"`
	NowServingNumber *int          `json:"now_serving_number"`
}

type MovedToBack struct {
	Old models.Ticket `json:"old_ticket"`
	New models.Ticket `json:"new_ticket"`
}

func (NewEntry) Kind() Kind        { return KindNewEntry }
func (StatusChanged) Kind() Kind   { return KindStatusChanged }
func (PositionUpdated) Kind() Kind { return KindPositionUpdated }
func (MovedToBack) Kind() Kind     { return KindMovedToBack }

func (e NewEntry) TicketID() string        { return e.Ticket.TicketID }
func (e StatusChanged) TicketID() string   { return e.Ticket.TicketID }
func (e PositionUpdated) TicketID() string { return e.Ticket.TicketID }
func (e MovedToBack) TicketID() string     { return e.New.TicketID }

func (e NewEntry) Status() string        { return e.Ticket.Status }
func (e StatusChanged) Status() string   { return e.Ticket.Status }
func (e PositionUpdated) Status() string { return e.Ticket.Status }
func (e MovedToBack) Status() string     { return e.New.Status }

func (NewEntry) isEvent()        {}
func (StatusChanged) isEvent()   {}
func (PositionUpdated) isEvent() {}
func (MovedToBack) isEvent()     {}

// Envelope is the JSON frame delivered to subscribers.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	TicketID  string          `json:"ticket_id"`
	Status    string          `json:"status,omitempty"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

func Encode(channel string, event Event, at time.Time) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Kind:      event.Kind(),
		TicketID:  event.TicketID(),
		Status:    event.Status(),
		Channel:   channel,
		Payload:   payload,
		Timestamp: at.UTC(),
	})
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
