package store

import (
	"context"
	"time"

	"qms/place-queue/internal/models"
)

// TicketStore is the durable record of tickets. Every implementation
// allocates ticket numbers atomically with the insert and applies status
// changes as compare-and-set on the expected current status.
type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	TransitionTicket(ctx context.Context, input TransitionInput) (models.Ticket, error)
	MoveToBack(ctx context.Context, input MoveToBackInput) (MoveResult, error)
	// ListScope returns the scope-day's tickets in queue order.
	ListScope(ctx context.Context, query ScopeQuery) ([]models.Ticket, error)
	// ListByUser returns the user's tickets newest first. An empty day lists all days.
	ListByUser(ctx context.Context, userID, day string) ([]models.Ticket, error)
}

type CreateTicketInput struct {
	PlaceID          string
	ServiceID        string
	Day              string
	UserID           string
	Place            models.PlaceSnapshot
	PreviousTicketID string
	CreatedAt        time.Time
}

type TransitionInput struct {
	TicketID       string
	Action         string
	ExpectedStatus string
	Employee       *models.EmployeeSnapshot
	OccurredAt     time.Time
}

type MoveToBackInput struct {
	TicketID       string
	ExpectedStatus string
	Day            string
	OccurredAt     time.Time
}

type MoveResult struct {
	Old models.Ticket
	New models.Ticket
}

type ScopeQuery struct {
	PlaceID   string
	ServiceID string
	Day       string
	Statuses  []string
}

func (in CreateTicketInput) Validate() error {
	switch {
	case in.PlaceID == "":
		return Invalid("place_id", "is required")
	case in.UserID == "":
		return Invalid("user_id", "is required")
	case in.Day == "":
		return Invalid("day", "is required")
	}
	if err := models.ValidDay(in.Day); err != nil {
		return Invalid("day", err.Error())
	}
	return nil
}

// PrepareTransition checks the action against the expected status and
// returns the status the ticket moves to.
func PrepareTransition(input TransitionInput) (string, error) {
	if input.TicketID == "" {
		return "", Invalid("ticket_id", "is required")
	}
	if !ValidTransition(input.Action, input.ExpectedStatus) {
		return "", &TransitionError{Action: input.Action, From: input.ExpectedStatus}
	}
	if input.Action == ActionActivate && input.Employee == nil {
		return "", Invalid("employee_id", "is required")
	}
	to, _ := TargetStatus(input.Action)
	return to, nil
}

// ApplyTransition mutates ticket in place for stores that keep whole rows.
func ApplyTransition(ticket *models.Ticket, to string, input TransitionInput) {
	at := input.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	ticket.Status = to
	ticket.UpdatedAt = at
	if to == models.StatusActive {
		employeeID := input.Employee.UserID
		ticket.EmployeeID = &employeeID
		snapshot := *input.Employee
		ticket.Employee = &snapshot
		ticket.ActivatedAt = &at
	}
	if IsTerminal(to) {
		ticket.ClosedAt = &at
	}
}

// Matches reports whether ticket belongs to the query's scope-day and status filter.
func (q ScopeQuery) Matches(ticket models.Ticket) bool {
	if ticket.PlaceID != q.PlaceID || ticket.ServiceID != q.ServiceID || ticket.Day != q.Day {
		return false
	}
	if len(q.Statuses) == 0 {
		return true
	}
	for _, status := range q.Statuses {
		if ticket.Status == status {
			return true
		}
	}
	return false
}
