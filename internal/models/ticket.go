package models

import "time"

type Ticket struct {
	TicketID         string            `json:"ticket_id"`
	PlaceID          string            `json:"place_id"`
	ServiceID        string            `json:"service_id,omitempty"`
	Day              string            `json:"day"`
	Number           int               `json:"number"`
	UserID           string            `json:"user_id"`
	Status           string            `json:"status"`
	EmployeeID       *string           `json:"employee_id,omitempty"`
	Employee         *EmployeeSnapshot `json:"employee,omitempty"`
	Place            PlaceSnapshot     `json:"place"`
	PreviousTicketID *string           `json:"previous_ticket_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	ActivatedAt      *time.Time        `json:"activated_at,omitempty"`
	ClosedAt         *time.Time        `json:"closed_at,omitempty"`
}

// PlaceSnapshot is copied into the ticket at booking time and never refreshed.
type PlaceSnapshot struct {
	PlaceID         string `json:"place_id"`
	NameEn          string `json:"name_en"`
	NameAr          string `json:"name_ar,omitempty"`
	EstimateMinutes int    `json:"estimate_minutes,omitempty"`
}

// EmployeeSnapshot is copied into the ticket when it is activated.
type EmployeeSnapshot struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusRejected  = "rejected"
	// StatusPending is reserved; no operation moves a ticket into it.
	StatusPending = "pending"
)

func (t Ticket) Scope() Scope {
	return Scope{PlaceID: t.PlaceID, ServiceID: t.ServiceID}
}

// Before reports whether t was created ahead of other in queue order.
// Equal timestamps fall back to the ticket number.
func (t Ticket) Before(other Ticket) bool {
	if t.CreatedAt.Equal(other.CreatedAt) {
		return t.Number < other.Number
	}
	return t.CreatedAt.Before(other.CreatedAt)
}
