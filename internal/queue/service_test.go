package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"qms/place-queue/internal/directory"
	"qms/place-queue/internal/events"
	"qms/place-queue/internal/models"
	"qms/place-queue/internal/store"
	"qms/place-queue/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	event    events.Event
	channels []string
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(ctx context.Context, event events.Event, channels ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{event: event, channels: channels})
}

func (r *recordingEmitter) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.event.Kind())
	}
	return out
}

func (r *recordingEmitter) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// steppingClock advances one second per reading so creation order is strict.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	service *Service
	tickets store.TicketStore
	emitter *recordingEmitter
}

func testDirectory() *directory.Static {
	return directory.NewStatic(
		[]models.Place{
			{PlaceID: "P1", NameEn: "Main branch", EstimateMinutes: 5},
			{PlaceID: "P2", NameEn: "Kiosk"},
		},
		[]models.Service{
			{ServiceID: "S1", PlaceID: "P1", NameEn: "Deposits", EstimateMinutes: 3},
			{ServiceID: "S9", PlaceID: "P2", NameEn: "Returns"},
		},
		[]models.User{
			{UserID: "E1", Name: "Mona", Role: models.RoleEmployee},
			{UserID: "E2", Name: "Karim", Role: models.RoleEmployee},
		},
	)
}

func newFixture(t *testing.T, tickets store.TicketStore, options Options) fixture {
	t.Helper()
	if tickets == nil {
		tickets = memory.NewStore()
	}
	if options.Now == nil {
		clock := &steppingClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
		options.Now = clock.Now
	}
	if options.RetryInitial == 0 {
		options.RetryInitial = time.Millisecond
	}
	emitter := &recordingEmitter{}
	return fixture{
		service: NewService(tickets, testDirectory(), emitter, options),
		tickets: tickets,
		emitter: emitter,
	}
}

func (f fixture) book(t *testing.T, userID, placeID, serviceID string) models.Ticket {
	t.Helper()
	ticket, err := f.service.Book(context.Background(), BookInput{UserID: userID, PlaceID: placeID, ServiceID: serviceID})
	require.NoError(t, err)
	return ticket
}

func TestBookActivateAndListWaiting(t *testing.T) {
	f := newFixture(t, nil, Options{MaxRetries: 3})
	ctx := context.Background()

	first := f.book(t, "U1", "P1", "S1")
	second := f.book(t, "U2", "P1", "S1")
	third := f.book(t, "U3", "P1", "S1")
	assert.Equal(t, []int{1, 2, 3}, []int{first.Number, second.Number, third.Number})
	assert.Equal(t, "2026-03-02", first.Day)
	assert.Equal(t, "Main branch", first.Place.NameEn)

	activated, err := f.service.Activate(ctx, first.TicketID, "E1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, activated.Status)
	require.NotNil(t, activated.EmployeeID)
	assert.Equal(t, "E1", *activated.EmployeeID)

	active, found, err := f.service.FirstActive(ctx, ScopeInput{PlaceID: "P1", ServiceID: "S1"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.TicketID, active.TicketID)

	list, err := f.service.ListWaiting(ctx, ScopeInput{PlaceID: "P1", ServiceID: "S1"})
	require.NoError(t, err)
	require.Len(t, list.Tickets, 2)
	assert.Equal(t, third.TicketID, list.Tickets[0].TicketID)
	assert.Equal(t, second.TicketID, list.Tickets[1].TicketID)
	assert.Equal(t, 2, list.Count)
	require.NotNil(t, list.EstimatedWaitMinutes)
	assert.Equal(t, 6, *list.EstimatedWaitMinutes)
	assert.Equal(t, "0h 6m", list.EstimatedWaitText)
	require.NotNil(t, list.LastWaitingNumber)
	assert.Equal(t, 3, *list.LastWaitingNumber)
}

func TestBookValidatesScope(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	_, err := f.service.Book(ctx, BookInput{UserID: "U1", PlaceID: "P1", ServiceID: "S9"})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = f.service.Book(ctx, BookInput{UserID: "U1", PlaceID: "nowhere"})
	assert.ErrorIs(t, err, store.ErrPlaceNotFound)

	_, err = f.service.Book(ctx, BookInput{UserID: "U1", PlaceID: "P1", ServiceID: "missing"})
	assert.ErrorIs(t, err, store.ErrServiceNotFound)

	_, err = f.service.Book(ctx, BookInput{PlaceID: "P1"})
	assert.ErrorIs(t, err, store.ErrValidation)

	assert.Empty(t, f.emitter.kinds())
}

func TestBookEmitsNewEntryOnScopeChannels(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.book(t, "U1", "P1", "S1")

	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, events.KindNewEntry, f.emitter.events[0].event.Kind())
	assert.Equal(t, []string{"place:P1", "place:P1:service:S1"}, f.emitter.events[0].channels)
}

func TestConcurrentBookingIsGapless(t *testing.T) {
	f := newFixture(t, nil, Options{MaxRetries: 5})
	const n = 20

	numbers := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticket, err := f.service.Book(context.Background(), BookInput{UserID: "U", PlaceID: "P1", ServiceID: "S1"})
			assert.NoError(t, err)
			numbers[i] = ticket.Number
		}(i)
	}
	wg.Wait()

	sort.Ints(numbers)
	for i, number := range numbers {
		assert.Equal(t, i+1, number)
	}
}

func TestTransitionsFollowStateMachine(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	ticket := f.book(t, "U1", "P1", "S1")

	_, err := f.service.Complete(ctx, ticket.TicketID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = f.service.Activate(ctx, ticket.TicketID, "ghost")
	assert.ErrorIs(t, err, store.ErrEmployeeNotFound)

	_, err = f.service.Activate(ctx, ticket.TicketID, "E1")
	require.NoError(t, err)
	completed, err := f.service.Complete(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)
	assert.NotNil(t, completed.ClosedAt)

	_, err = f.service.Reject(ctx, ticket.TicketID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = f.service.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrTicketNotFound)
}

func TestTransitionEmitsStatusAndPosition(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ticket := f.book(t, "U1", "P1", "S1")
	f.book(t, "U2", "P1", "S1")
	f.emitter.reset()

	_, err := f.service.Activate(context.Background(), ticket.TicketID, "E1")
	require.NoError(t, err)

	require.Len(t, f.emitter.events, 2)
	status := f.emitter.events[0]
	assert.Equal(t, events.KindStatusChanged, status.event.Kind())
	assert.Equal(t, models.StatusWaiting, status.event.(events.StatusChanged).PreviousStatus)
	assert.Equal(t, []string{"place:P1", "place:P1:service:S1", "user:U1"}, status.channels)

	position := f.emitter.events[1].event.(events.PositionUpdated)
	assert.Equal(t, 1, position.WaitingCount)
	require.NotNil(t, position.NowServingNumber)
	assert.Equal(t, 1, *position.NowServingNumber)
}

func TestRepeatedActionsAreIdempotent(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	ticket := f.book(t, "U1", "P1", "S1")
	f.emitter.reset()

	first, err := f.service.Cancel(ctx, ticket.TicketID)
	require.NoError(t, err)
	again, err := f.service.Cancel(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, []events.Kind{events.KindStatusChanged, events.KindPositionUpdated}, f.emitter.kinds())

	served := f.book(t, "U2", "P1", "S1")
	_, err = f.service.Activate(ctx, served.TicketID, "E1")
	require.NoError(t, err)
	_, err = f.service.Activate(ctx, served.TicketID, "E1")
	assert.NoError(t, err)
	_, err = f.service.Activate(ctx, served.TicketID, "E2")
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestMoveToBack(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	moved := f.book(t, "U1", "P1", "S1")
	f.book(t, "U2", "P1", "S1")
	f.book(t, "U3", "P1", "S1")
	f.emitter.reset()

	created, err := f.service.MoveToBack(ctx, moved.TicketID)
	require.NoError(t, err)
	assert.Equal(t, 4, created.Number)
	assert.Equal(t, models.StatusWaiting, created.Status)
	assert.Equal(t, "U1", created.UserID)
	require.NotNil(t, created.PreviousTicketID)
	assert.Equal(t, moved.TicketID, *created.PreviousTicketID)

	old, err := f.service.GetTicket(ctx, moved.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, old.Status)

	assert.Equal(t, []events.Kind{events.KindStatusChanged, events.KindNewEntry, events.KindMovedToBack}, f.emitter.kinds())
	assert.Equal(t, []string{"user:U1"}, f.emitter.events[2].channels)

	replay, err := f.service.MoveToBack(ctx, moved.TicketID)
	require.NoError(t, err)
	assert.Equal(t, created.TicketID, replay.TicketID)
	assert.Len(t, f.emitter.events, 3)

	position, err := f.service.Position(ctx, created.TicketID)
	require.NoError(t, err)
	assert.Equal(t, 2, position.AheadOfYou)
}

func TestMoveToBackRejectsClosedTicket(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	ticket := f.book(t, "U1", "P1", "")
	_, err := f.service.Reject(ctx, ticket.TicketID)
	require.NoError(t, err)

	_, err = f.service.MoveToBack(ctx, ticket.TicketID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestPosition(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	first := f.book(t, "U1", "P1", "S1")
	f.book(t, "U2", "P1", "S1")
	third := f.book(t, "U3", "P1", "S1")
	f.book(t, "U4", "P1", "")

	info, err := f.service.Position(ctx, third.TicketID)
	require.NoError(t, err)
	assert.Equal(t, 2, info.AheadOfYou)
	assert.Nil(t, info.NowServingNumber)
	require.NotNil(t, info.EstimatedWaitMinutes)
	assert.Equal(t, 6, *info.EstimatedWaitMinutes)

	_, err = f.service.Activate(ctx, first.TicketID, "E1")
	require.NoError(t, err)
	info, err = f.service.Position(ctx, third.TicketID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.AheadOfYou)
	require.NotNil(t, info.NowServingNumber)
	assert.Equal(t, 1, *info.NowServingNumber)
}

func TestWaitUnknownWithoutRate(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.book(t, "U1", "P2", "S9")

	list, err := f.service.ListWaiting(context.Background(), ScopeInput{PlaceID: "P2", ServiceID: "S9"})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Count)
	assert.Nil(t, list.EstimatedWaitMinutes)
	assert.Empty(t, list.EstimatedWaitText)
}

func TestListWaitingRejectsBadDay(t *testing.T) {
	f := newFixture(t, nil, Options{})
	_, err := f.service.ListWaiting(context.Background(), ScopeInput{PlaceID: "P1", Day: "02/03/2026"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestMyQueuesTodayAndHistory(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()
	f.book(t, "U2", "P1", "S1")
	serviceTicket := f.book(t, "U1", "P1", "S1")
	placeTicket := f.book(t, "U1", "P1", "")
	done := f.book(t, "U1", "P2", "")
	_, err := f.service.Cancel(ctx, done.TicketID)
	require.NoError(t, err)

	entries, err := f.service.MyQueuesToday(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, serviceTicket.TicketID, entries[0].Ticket.TicketID)
	assert.Equal(t, 1, entries[0].AheadOfYou)
	assert.Equal(t, "P1", entries[0].Place.ID)
	require.NotNil(t, entries[0].Service)
	assert.Equal(t, "Deposits", entries[0].Service.NameEn)

	assert.Equal(t, placeTicket.TicketID, entries[1].Ticket.TicketID)
	assert.Equal(t, 0, entries[1].AheadOfYou)
	assert.Nil(t, entries[1].Service)

	history, err := f.service.History(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, done.TicketID, history[0].TicketID)
	assert.Equal(t, serviceTicket.TicketID, history[2].TicketID)
}

// conflictingStore loses every status compare-and-set.
type conflictingStore struct {
	store.TicketStore
	mu    sync.Mutex
	calls int
}

func (s *conflictingStore) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return models.Ticket{}, store.ErrStatusChanged
}

func TestConflictRetriesAreBounded(t *testing.T) {
	tickets := &conflictingStore{TicketStore: memory.NewStore()}
	f := newFixture(t, tickets, Options{MaxRetries: 2})
	ticket := f.book(t, "U1", "P1", "S1")

	_, err := f.service.Cancel(context.Background(), ticket.TicketID)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.False(t, errors.Is(err, store.ErrConflict))
	assert.Equal(t, 3, tickets.calls)
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return errors.New("broker down")
}

func TestPublishFailureDoesNotFailBooking(t *testing.T) {
	fanout := events.NewFanout(nil, failingPublisher{})
	service := NewService(memory.NewStore(), testDirectory(), fanout, Options{})

	ticket, err := service.Book(context.Background(), BookInput{UserID: "U1", PlaceID: "P1"})
	require.NoError(t, err)
	assert.Equal(t, 1, ticket.Number)
}
