package queue

import (
	"fmt"

	"qms/place-queue/internal/models"
)

type PositionInfo struct {
	AheadOfYou           int    `json:"ahead_of_you"`
	NowServingNumber     *int   `json:"now_serving_number"`
	EstimatedWaitMinutes *int   `json:"estimated_wait_minutes"`
	EstimatedWaitText    string `json:"estimated_wait_text,omitempty"`
}

// ComputePosition derives ticket's place in line from the tickets of its
// scope-day. Tickets from other scopes or days are ignored.
func ComputePosition(ticket models.Ticket, scopeTickets []models.Ticket, rate *int) PositionInfo {
	ahead := 0
	for _, other := range scopeTickets {
		if other.TicketID == ticket.TicketID || !sameQueue(ticket, other) {
			continue
		}
		if other.Status == models.StatusWaiting && other.Before(ticket) {
			ahead++
		}
	}
	info := PositionInfo{
		AheadOfYou:       ahead,
		NowServingNumber: NowServing(ticket.Scope(), ticket.Day, scopeTickets),
	}
	info.EstimatedWaitMinutes = EstimateWait(ahead, rate)
	if info.EstimatedWaitMinutes != nil {
		info.EstimatedWaitText = FormatWait(*info.EstimatedWaitMinutes)
	}
	return info
}

// NowServing returns the number of the most recently created active ticket.
func NowServing(scope models.Scope, day string, scopeTickets []models.Ticket) *int {
	var latest *models.Ticket
	for i := range scopeTickets {
		candidate := &scopeTickets[i]
		if candidate.Status != models.StatusActive || candidate.Scope() != scope || candidate.Day != day {
			continue
		}
		if latest == nil || latest.Before(*candidate) {
			latest = candidate
		}
	}
	if latest == nil {
		return nil
	}
	number := latest.Number
	return &number
}

func EstimateWait(count int, rate *int) *int {
	if rate == nil {
		return nil
	}
	minutes := count * *rate
	return &minutes
}

// ResolveRate picks the service's per-ticket minutes when set, else the place's.
func ResolveRate(placeMinutes, serviceMinutes int) *int {
	switch {
	case serviceMinutes > 0:
		return &serviceMinutes
	case placeMinutes > 0:
		return &placeMinutes
	}
	return nil
}

// FormatWait renders minutes as "{h}h {m}m".
func FormatWait(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

func sameQueue(a, b models.Ticket) bool {
	return a.Scope() == b.Scope() && a.Day == b.Day
}
