package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"qms/place-queue/internal/models"
	"qms/place-queue/internal/store"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/google/uuid"
)

type sequenceKey struct {
	placeID   string
	serviceID string
	day       string
}

// Store keeps tickets in process memory. tickets is a linked hash map so
// lookups by id are direct while iteration follows insertion order.
type Store struct {
	mu        sync.Mutex
	tickets   *linkedhashmap.Map
	sequences map[sequenceKey]int
}

func NewStore() *Store {
	return &Store{
		tickets:   linkedhashmap.New(),
		sequences: make(map[sequenceKey]int),
	}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	if err := input.Validate(); err != nil {
		return models.Ticket{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Ticket{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(input), nil
}

func (s *Store) insertLocked(input store.CreateTicketInput) models.Ticket {
	key := sequenceKey{placeID: input.PlaceID, serviceID: input.ServiceID, day: input.Day}
	s.sequences[key]++

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	ticket := models.Ticket{
		TicketID:  uuid.NewString(),
		PlaceID:   input.PlaceID,
		ServiceID: input.ServiceID,
		Day:       input.Day,
		Number:    s.sequences[key],
		UserID:    input.UserID,
		Status:    models.StatusWaiting,
		Place:     input.Place,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if input.PreviousTicketID != "" {
		previous := input.PreviousTicketID
		ticket.PreviousTicketID = &previous
	}
	s.tickets.Put(ticket.TicketID, ticket)
	return ticket
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ticketID)
}

func (s *Store) getLocked(ticketID string) (models.Ticket, error) {
	value, found := s.tickets.Get(ticketID)
	if !found {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return value.(models.Ticket), nil
}

func (s *Store) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	to, err := store.PrepareTransition(input)
	if err != nil {
		return models.Ticket{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, err := s.getLocked(input.TicketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if ticket.Status != input.ExpectedStatus {
		return models.Ticket{}, store.ErrStatusChanged
	}
	store.ApplyTransition(&ticket, to, input)
	s.tickets.Put(ticket.TicketID, ticket)
	return ticket, nil
}

func (s *Store) MoveToBack(ctx context.Context, input store.MoveToBackInput) (store.MoveResult, error) {
	to, err := store.PrepareTransition(store.TransitionInput{
		TicketID:       input.TicketID,
		Action:         store.ActionMoveToBack,
		ExpectedStatus: input.ExpectedStatus,
		OccurredAt:     input.OccurredAt,
	})
	if err != nil {
		return store.MoveResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.getLocked(input.TicketID)
	if err != nil {
		return store.MoveResult{}, err
	}
	if old.Status != input.ExpectedStatus {
		return store.MoveResult{}, store.ErrStatusChanged
	}
	store.ApplyTransition(&old, to, store.TransitionInput{OccurredAt: input.OccurredAt})
	s.tickets.Put(old.TicketID, old)

	created := s.insertLocked(store.CreateTicketInput{
		PlaceID:          old.PlaceID,
		ServiceID:        old.ServiceID,
		Day:              input.Day,
		UserID:           old.UserID,
		Place:            old.Place,
		PreviousTicketID: old.TicketID,
		CreatedAt:        old.UpdatedAt,
	})
	return store.MoveResult{Old: old, New: created}, nil
}

func (s *Store) ListScope(ctx context.Context, query store.ScopeQuery) ([]models.Ticket, error) {
	s.mu.Lock()
	var out []models.Ticket
	for _, value := range s.tickets.Values() {
		ticket := value.(models.Ticket)
		if query.Matches(ticket) {
			out = append(out, ticket)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *Store) ListByUser(ctx context.Context, userID, day string) ([]models.Ticket, error) {
	s.mu.Lock()
	var out []models.Ticket
	for _, value := range s.tickets.Values() {
		ticket := value.(models.Ticket)
		if ticket.UserID != userID {
			continue
		}
		if day != "" && ticket.Day != day {
			continue
		}
		out = append(out, ticket)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[j].Before(out[i]) })
	return out, nil
}
