package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"qms/place-queue/internal/audit"
	"qms/place-queue/internal/events"
	"qms/place-queue/internal/models"
	"qms/place-queue/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Directory resolves the records this service reads but does not own.
type Directory interface {
	GetPlace(ctx context.Context, placeID string) (models.Place, error)
	GetService(ctx context.Context, serviceID string) (models.Service, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// Emitter delivers events to realtime channels without reporting failures.
type Emitter interface {
	Emit(ctx context.Context, event events.Event, channels ...string)
}

type Options struct {
	// Location decides which calendar day a ticket belongs to. Defaults to UTC.
	Location     *time.Location
	MaxRetries   int
	RetryInitial time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
	Audit        audit.Sink
}

// Service composes the ticket store, directory and event fan-out into the
// queue operations exposed to callers.
type Service struct {
	tickets   store.TicketStore
	directory Directory
	emitter   Emitter
	audit     audit.Sink
	logger    *zap.Logger
	location  *time.Location
	now       func() time.Time

	maxRetries   int
	retryInitial time.Duration
	metrics      *instruments
}

func NewService(tickets store.TicketStore, directory Directory, emitter Emitter, options Options) *Service {
	s := &Service{
		tickets:      tickets,
		directory:    directory,
		emitter:      emitter,
		audit:        options.Audit,
		logger:       options.Logger,
		location:     options.Location,
		now:          options.Now,
		maxRetries:   options.MaxRetries,
		retryInitial: options.RetryInitial,
		metrics:      newInstruments(),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.audit == nil {
		s.audit = audit.NewLogSink(s.logger)
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.maxRetries < 0 {
		s.maxRetries = 0
	}
	if s.retryInitial <= 0 {
		s.retryInitial = 20 * time.Millisecond
	}
	return s
}

type BookInput struct {
	UserID    string
	PlaceID   string
	ServiceID string
}

// WaitingList is the waiting line of a scope-day, newest ticket first.
type WaitingList struct {
	Tickets              []models.Ticket `json:"tickets"`
	Count                int             `json:"count"`
	EstimatedWaitMinutes *int            `json:"estimated_wait_minutes"`
	EstimatedWaitText    string          `json:"estimated_wait_text,omitempty"`
	LastWaitingNumber    *int            `json:"last_waiting_number"`
}

type ScopeInput struct {
	PlaceID   string
	ServiceID string
	// Day is YYYY-MM-DD; empty means today.
	Day string
}

// QueueEntry is one of a user's waiting tickets with its live position.
type QueueEntry struct {
	Ticket models.Ticket `json:"ticket"`
	PositionInfo
	Place   models.Summary  `json:"place"`
	Service *models.Summary `json:"service,omitempty"`
}

func (s *Service) today() string {
	return models.DayKey(s.now(), s.location)
}

func (s *Service) Book(ctx context.Context, input BookInput) (ticket models.Ticket, err error) {
	ctx, span := startSpan(ctx, "queue.book",
		attribute.String("queue.place_id", input.PlaceID),
		attribute.String("queue.service_id", input.ServiceID))
	defer func() { endSpan(span, err) }()

	if input.UserID == "" {
		return models.Ticket{}, store.Invalid("user_id", "is required")
	}
	scope, place, service, err := s.resolveScope(ctx, input.PlaceID, input.ServiceID)
	if err != nil {
		return models.Ticket{}, err
	}

	now := s.now().UTC()
	createInput := store.CreateTicketInput{
		PlaceID:   scope.PlaceID,
		ServiceID: scope.ServiceID,
		Day:       models.DayKey(now, s.location),
		UserID:    input.UserID,
		Place:     place.Snapshot(),
		CreatedAt: now,
	}
	ticket, err = withRetry(ctx, s, "book", func() (models.Ticket, error) {
		return s.tickets.CreateTicket(ctx, createInput)
	})
	if err != nil {
		return models.Ticket{}, err
	}

	s.metrics.booked.Add(ctx, 1)
	s.emitter.Emit(ctx, events.NewEntry{Ticket: ticket}, events.ScopeChannels(scope)...)
	meta := ticketMeta(ticket)
	if service != nil {
		meta["service_name"] = service.NameEn
	}
	s.record(ctx, ticket.UserID, "ticket booked", meta)
	return ticket, nil
}

func (s *Service) ListWaiting(ctx context.Context, input ScopeInput) (list WaitingList, err error) {
	ctx, span := startSpan(ctx, "queue.list_waiting", attribute.String("queue.place_id", input.PlaceID))
	defer func() { endSpan(span, err) }()

	day, err := s.dayOrToday(input.Day)
	if err != nil {
		return WaitingList{}, err
	}
	scope, place, service, err := s.resolveScope(ctx, input.PlaceID, input.ServiceID)
	if err != nil {
		return WaitingList{}, err
	}

	waiting, err := s.tickets.ListScope(ctx, store.ScopeQuery{
		PlaceID:   scope.PlaceID,
		ServiceID: scope.ServiceID,
		Day:       day,
		Statuses:  []string{models.StatusWaiting},
	})
	if err != nil {
		return WaitingList{}, err
	}

	list = WaitingList{
		Tickets: make([]models.Ticket, 0, len(waiting)),
		Count:   len(waiting),
	}
	for i := len(waiting) - 1; i >= 0; i-- {
		list.Tickets = append(list.Tickets, waiting[i])
	}
	if len(list.Tickets) > 0 {
		last := list.Tickets[0].Number
		list.LastWaitingNumber = &last
	}
	list.EstimatedWaitMinutes = EstimateWait(list.Count, rateFor(place, service))
	if list.EstimatedWaitMinutes != nil {
		list.EstimatedWaitText = FormatWait(*list.EstimatedWaitMinutes)
	}
	return list, nil
}

// FirstActive returns the earliest created active ticket of the scope-day.
func (s *Service) FirstActive(ctx context.Context, input ScopeInput) (ticket models.Ticket, found bool, err error) {
	ctx, span := startSpan(ctx, "queue.first_active", attribute.String("queue.place_id", input.PlaceID))
	defer func() { endSpan(span, err) }()

	day, err := s.dayOrToday(input.Day)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if err := validateScope(input.PlaceID); err != nil {
		return models.Ticket{}, false, err
	}
	active, err := s.tickets.ListScope(ctx, store.ScopeQuery{
		PlaceID:   input.PlaceID,
		ServiceID: input.ServiceID,
		Day:       day,
		Statuses:  []string{models.StatusActive},
	})
	if err != nil {
		return models.Ticket{}, false, err
	}
	if len(active) == 0 {
		return models.Ticket{}, false, nil
	}
	return active[0], true, nil
}

// MyQueuesToday lists the user's waiting tickets for today in booking order.
// Each ticket's position is computed concurrently.
func (s *Service) MyQueuesToday(ctx context.Context, userID string) (entries []QueueEntry, err error) {
	ctx, span := startSpan(ctx, "queue.my_queues_today", attribute.String("queue.user_id", userID))
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return nil, store.Invalid("user_id", "is required")
	}
	owned, err := s.tickets.ListByUser(ctx, userID, s.today())
	if err != nil {
		return nil, err
	}
	var waiting []models.Ticket
	for i := len(owned) - 1; i >= 0; i-- {
		if owned[i].Status == models.StatusWaiting {
			waiting = append(waiting, owned[i])
		}
	}

	entries = make([]QueueEntry, len(waiting))
	g, gctx := errgroup.WithContext(ctx)
	for i, ticket := range waiting {
		g.Go(func() error {
			entry, err := s.queueEntry(gctx, ticket)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) queueEntry(ctx context.Context, ticket models.Ticket) (QueueEntry, error) {
	place, service, err := s.ticketDirectory(ctx, ticket)
	if err != nil {
		return QueueEntry{}, err
	}
	scopeTickets, err := s.tickets.ListScope(ctx, store.ScopeQuery{
		PlaceID:   ticket.PlaceID,
		ServiceID: ticket.ServiceID,
		Day:       ticket.Day,
	})
	if err != nil {
		return QueueEntry{}, err
	}
	entry := QueueEntry{
		Ticket:       ticket,
		PositionInfo: ComputePosition(ticket, scopeTickets, rateFor(place, service)),
		Place:        place.Summary(),
	}
	if service != nil {
		summary := service.Summary()
		entry.Service = &summary
	}
	return entry, nil
}

// History lists every ticket the user ever held, newest first.
func (s *Service) History(ctx context.Context, userID string) (tickets []models.Ticket, err error) {
	ctx, span := startSpan(ctx, "queue.history", attribute.String("queue.user_id", userID))
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return nil, store.Invalid("user_id", "is required")
	}
	return s.tickets.ListByUser(ctx, userID, "")
}

func (s *Service) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if ticketID == "" {
		return models.Ticket{}, store.Invalid("ticket_id", "is required")
	}
	return s.tickets.GetTicket(ctx, ticketID)
}

// Position reports where a single ticket stands in its queue.
func (s *Service) Position(ctx context.Context, ticketID string) (info PositionInfo, err error) {
	ctx, span := startSpan(ctx, "queue.position", attribute.String("queue.ticket_id", ticketID))
	defer func() { endSpan(span, err) }()

	ticket, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return PositionInfo{}, err
	}
	entry, err := s.queueEntry(ctx, ticket)
	if err != nil {
		return PositionInfo{}, err
	}
	return entry.PositionInfo, nil
}

func (s *Service) Activate(ctx context.Context, ticketID, employeeID string) (ticket models.Ticket, err error) {
	ctx, span := startSpan(ctx, "queue.activate",
		attribute.String("queue.ticket_id", ticketID),
		attribute.String("queue.employee_id", employeeID))
	defer func() { endSpan(span, err) }()

	if employeeID == "" {
		return models.Ticket{}, store.Invalid("employee_id", "is required")
	}
	employee, err := s.directory.GetUser(ctx, employeeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Ticket{}, store.ErrEmployeeNotFound
		}
		return models.Ticket{}, err
	}
	return s.transition(ctx, ticketID, store.ActionActivate, employee.EmployeeSnapshot())
}

func (s *Service) Cancel(ctx context.Context, ticketID string) (ticket models.Ticket, err error) {
	ctx, span := startSpan(ctx, "queue.cancel", attribute.String("queue.ticket_id", ticketID))
	defer func() { endSpan(span, err) }()
	return s.transition(ctx, ticketID, store.ActionCancel, nil)
}

func (s *Service) Complete(ctx context.Context, ticketID string) (ticket models.Ticket, err error) {
	ctx, span := startSpan(ctx, "queue.complete", attribute.String("queue.ticket_id", ticketID))
	defer func() { endSpan(span, err) }()
	return s.transition(ctx, ticketID, store.ActionComplete, nil)
}

func (s *Service) Reject(ctx context.Context, ticketID string) (ticket models.Ticket, err error) {
	ctx, span := startSpan(ctx, "queue.reject", attribute.String("queue.ticket_id", ticketID))
	defer func() { endSpan(span, err) }()
	return s.transition(ctx, ticketID, store.ActionReject, nil)
}

type transitionResult struct {
	ticket   models.Ticket
	previous string
	changed  bool
}

// transition applies action with compare-and-set on the status read just
// before. A ticket already in the action's target status is returned as is
// and no events are sent.
func (s *Service) transition(ctx context.Context, ticketID, action string, employee *models.EmployeeSnapshot) (models.Ticket, error) {
	if ticketID == "" {
		return models.Ticket{}, store.Invalid("ticket_id", "is required")
	}
	target, _ := store.TargetStatus(action)

	result, err := withRetry(ctx, s, action, func() (transitionResult, error) {
		current, err := s.tickets.GetTicket(ctx, ticketID)
		if err != nil {
			return transitionResult{}, err
		}
		if current.Status == target {
			if action == store.ActionActivate && !sameEmployee(current, employee) {
				return transitionResult{}, &store.TransitionError{Action: action, From: current.Status}
			}
			return transitionResult{ticket: current}, nil
		}
		if !store.ValidTransition(action, current.Status) {
			return transitionResult{}, &store.TransitionError{Action: action, From: current.Status}
		}
		updated, err := s.tickets.TransitionTicket(ctx, store.TransitionInput{
			TicketID:       ticketID,
			Action:         action,
			ExpectedStatus: current.Status,
			Employee:       employee,
			OccurredAt:     s.now().UTC(),
		})
		if err != nil {
			return transitionResult{}, err
		}
		return transitionResult{ticket: updated, previous: current.Status, changed: true}, nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	if !result.changed {
		return result.ticket, nil
	}

	ticket := result.ticket
	s.metrics.transitions.Add(ctx, 1, actionAttr(action))
	scopeChannels := events.ScopeChannels(ticket.Scope())
	s.emitter.Emit(ctx, events.StatusChanged{Ticket: ticket, PreviousStatus: result.previous},
		append(scopeChannels, events.UserChannel(ticket.UserID))...)
	s.emitPositions(ctx, ticket, scopeChannels)

	meta := ticketMeta(ticket)
	meta["previous_status"] = result.previous
	if ticket.EmployeeID != nil {
		meta["employee_id"] = *ticket.EmployeeID
	}
	s.record(ctx, ticket.UserID, "ticket "+ticket.Status, meta)
	return ticket, nil
}

// MoveToBack cancels the ticket and books a fresh one at the end of the same
// queue for the same owner. Repeating the call returns the replacement.
func (s *Service) MoveToBack(ctx context.Context, ticketID string) (ticket models.Ticket, err error) {
	ctx, span := startSpan(ctx, "queue.move_to_back", attribute.String("queue.ticket_id", ticketID))
	defer func() { endSpan(span, err) }()

	if ticketID == "" {
		return models.Ticket{}, store.Invalid("ticket_id", "is required")
	}

	type moveOutcome struct {
		result   store.MoveResult
		previous string
		changed  bool
	}
	outcome, err := withRetry(ctx, s, store.ActionMoveToBack, func() (moveOutcome, error) {
		current, err := s.tickets.GetTicket(ctx, ticketID)
		if err != nil {
			return moveOutcome{}, err
		}
		if current.Status == models.StatusCancelled {
			successor, found, err := s.successor(ctx, current)
			if err != nil {
				return moveOutcome{}, err
			}
			if found {
				return moveOutcome{result: store.MoveResult{Old: current, New: successor}}, nil
			}
		}
		if !store.ValidTransition(store.ActionMoveToBack, current.Status) {
			return moveOutcome{}, &store.TransitionError{Action: store.ActionMoveToBack, From: current.Status}
		}
		now := s.now().UTC()
		result, err := s.tickets.MoveToBack(ctx, store.MoveToBackInput{
			TicketID:       ticketID,
			ExpectedStatus: current.Status,
			Day:            models.DayKey(now, s.location),
			OccurredAt:     now,
		})
		if err != nil {
			return moveOutcome{}, err
		}
		return moveOutcome{result: result, previous: current.Status, changed: true}, nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	old, created := outcome.result.Old, outcome.result.New
	if !outcome.changed {
		return created, nil
	}

	s.metrics.transitions.Add(ctx, 1, actionAttr(store.ActionMoveToBack))
	scopeChannels := events.ScopeChannels(old.Scope())
	s.emitter.Emit(ctx, events.StatusChanged{Ticket: old, PreviousStatus: outcome.previous}, scopeChannels...)
	s.emitter.Emit(ctx, events.NewEntry{Ticket: created}, scopeChannels...)
	s.emitter.Emit(ctx, events.MovedToBack{Old: old, New: created}, events.UserChannel(created.UserID))

	meta := ticketMeta(created)
	meta["previous_ticket_id"] = old.TicketID
	meta["previous_number"] = strconv.Itoa(old.Number)
	s.record(ctx, created.UserID, "ticket moved to back", meta)
	return created, nil
}

func (s *Service) successor(ctx context.Context, ticket models.Ticket) (models.Ticket, bool, error) {
	owned, err := s.tickets.ListByUser(ctx, ticket.UserID, "")
	if err != nil {
		return models.Ticket{}, false, err
	}
	for _, candidate := range owned {
		if candidate.PreviousTicketID != nil && *candidate.PreviousTicketID == ticket.TicketID {
			return candidate, true, nil
		}
	}
	return models.Ticket{}, false, nil
}

// emitPositions tells scope subscribers that positions moved. A failed read
// only skips the event.
func (s *Service) emitPositions(ctx context.Context, ticket models.Ticket, channels []string) {
	scopeTickets, err := s.tickets.ListScope(ctx, store.ScopeQuery{
		PlaceID:   ticket.PlaceID,
		ServiceID: ticket.ServiceID,
		Day:       ticket.Day,
	})
	if err != nil {
		s.logger.Warn("load scope for position event", zap.String("ticket_id", ticket.TicketID), zap.Error(err))
		return
	}
	waiting := 0
	for _, other := range scopeTickets {
		if other.Status == models.StatusWaiting {
			waiting++
		}
	}
	s.emitter.Emit(ctx, events.PositionUpdated{
		Ticket:           ticket,
		WaitingCount:     waiting,
		NowServingNumber: NowServing(ticket.Scope(), ticket.Day, scopeTickets),
	}, channels...)
}

func (s *Service) resolveScope(ctx context.Context, placeID, serviceID string) (models.Scope, models.Place, *models.Service, error) {
	if err := validateScope(placeID); err != nil {
		return models.Scope{}, models.Place{}, nil, err
	}
	place, err := s.directory.GetPlace(ctx, placeID)
	if err != nil {
		return models.Scope{}, models.Place{}, nil, err
	}
	scope := models.Scope{PlaceID: placeID, ServiceID: serviceID}
	if serviceID == "" {
		return scope, place, nil, nil
	}
	service, err := s.directory.GetService(ctx, serviceID)
	if err != nil {
		return models.Scope{}, models.Place{}, nil, err
	}
	if service.PlaceID != placeID {
		return models.Scope{}, models.Place{}, nil, store.Invalid("service_id", "does not belong to place")
	}
	return scope, place, &service, nil
}

// ticketDirectory loads the live place and service of ticket, falling back to
// the booking snapshot when the place no longer exists.
func (s *Service) ticketDirectory(ctx context.Context, ticket models.Ticket) (models.Place, *models.Service, error) {
	place, err := s.directory.GetPlace(ctx, ticket.PlaceID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return models.Place{}, nil, err
		}
		place = models.Place{
			PlaceID:         ticket.Place.PlaceID,
			NameEn:          ticket.Place.NameEn,
			NameAr:          ticket.Place.NameAr,
			EstimateMinutes: ticket.Place.EstimateMinutes,
		}
	}
	if ticket.ServiceID == "" {
		return place, nil, nil
	}
	service, err := s.directory.GetService(ctx, ticket.ServiceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return place, nil, nil
		}
		return models.Place{}, nil, err
	}
	return place, &service, nil
}

func (s *Service) dayOrToday(day string) (string, error) {
	if day == "" {
		return s.today(), nil
	}
	if err := models.ValidDay(day); err != nil {
		return "", store.Invalid("day", err.Error())
	}
	return day, nil
}

func (s *Service) record(ctx context.Context, userID, message string, meta map[string]string) {
	s.audit.Record(ctx, audit.Entry{
		UserID:  userID,
		Message: message,
		Level:   audit.LevelInfo,
		Meta:    meta,
		Time:    s.now().UTC(),
	})
}

func validateScope(placeID string) error {
	if placeID == "" {
		return store.Invalid("place_id", "is required")
	}
	return nil
}

func rateFor(place models.Place, service *models.Service) *int {
	serviceMinutes := 0
	if service != nil {
		serviceMinutes = service.EstimateMinutes
	}
	return ResolveRate(place.EstimateMinutes, serviceMinutes)
}

func sameEmployee(ticket models.Ticket, employee *models.EmployeeSnapshot) bool {
	return employee != nil && ticket.EmployeeID != nil && *ticket.EmployeeID == employee.UserID
}

func ticketMeta(ticket models.Ticket) map[string]string {
	return map[string]string{
		"ticket_id":  ticket.TicketID,
		"number":     strconv.Itoa(ticket.Number),
		"place_id":   ticket.PlaceID,
		"service_id": ticket.ServiceID,
		"status":     ticket.Status,
	}
}
