// Package storetest holds the behaviour every TicketStore implementation
// must share. Implementations call Run from their own tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"qms/place-queue/internal/models"
	"qms/place-queue/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = "2026-03-02"

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) store.TicketStore

func Run(t *testing.T, newStore Factory) {
	t.Run("NumbersIncreasePerScopeDay", func(t *testing.T) { testNumbering(t, newStore(t)) })
	t.Run("ConcurrentCreateIsGapless", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("TransitionCompareAndSet", func(t *testing.T) { testTransition(t, newStore(t)) })
	t.Run("ConcurrentTransitionsHaveOneWinner", func(t *testing.T) { testConcurrentTransition(t, newStore(t)) })
	t.Run("MoveToBack", func(t *testing.T) { testMoveToBack(t, newStore(t)) })
	t.Run("ListScope", func(t *testing.T) { testListScope(t, newStore(t)) })
	t.Run("ListByUser", func(t *testing.T) { testListByUser(t, newStore(t)) })
	t.Run("Validation", func(t *testing.T) { testValidation(t, newStore(t)) })
}

func input(placeID, serviceID, userID, day string, offset int) store.CreateTicketInput {
	return store.CreateTicketInput{
		PlaceID:   placeID,
		ServiceID: serviceID,
		Day:       day,
		UserID:    userID,
		Place:     models.PlaceSnapshot{PlaceID: placeID, NameEn: "Clinic", EstimateMinutes: 5},
		CreatedAt: base.Add(time.Duration(offset) * time.Second),
	}
}

func testNumbering(t *testing.T, st store.TicketStore) {
	ctx := context.Background()
	placeID, serviceID, otherService := uuid.NewString(), uuid.NewString(), uuid.NewString()

	var numbers []int
	for i := 0; i < 3; i++ {
		ticket, err := st.CreateTicket(ctx, input(placeID, serviceID, uuid.NewString(), day, i))
		require.NoError(t, err)
		assert.Equal(t, models.StatusWaiting, ticket.Status)
		assert.Equal(t, day, ticket.Day)
		assert.NotEmpty(t, ticket.TicketID)
		numbers = append(numbers, ticket.Number)
	}
	assert.Equal(t, []int{1, 2, 3}, numbers)

	other, err := st.CreateTicket(ctx, input(placeID, otherService, uuid.NewString(), day, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, other.Number, "service scopes number independently")

	wide, err := st.CreateTicket(ctx, input(placeID, "", uuid.NewString(), day, 11))
	require.NoError(t, err)
	assert.Equal(t, 1, wide.Number, "place-wide queue numbers independently")

	tomorrow, err := st.CreateTicket(ctx, input(placeID, serviceID, uuid.NewString(), "2026-03-03", 86400))
	require.NoError(t, err)
	assert.Equal(t, 1, tomorrow.Number, "numbering restarts each day")
}

func testConcurrentCreate(t *testing.T, st store.TicketStore) {
	ctx := context.Background()
	placeID, serviceID := uuid.NewString(), uuid.NewString()
	const n = 20

	var wg sync.WaitGroup
	results := make(chan int, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticket, err := st.CreateTicket(ctx, input(placeID, serviceID, uuid.NewString(), day, i))
			if err != nil {
				errs <- err
				return
			}
			results <- ticket.Number
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	var numbers []int
	for number := range results {
		numbers = append(numbers, number)
	}
	sort.Ints(numbers)
	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, numbers)
}

func testTransition(t *testing.T, st store.TicketStore) {
	ctx := context.Background()
	ticket, err := st.CreateTicket(ctx, input(uuid.NewString(), uuid.NewString(), uuid.NewString(), day, 0))
	require.NoError(t, err)

	employee := &models.EmployeeSnapshot{UserID: uuid.NewString(), Name: "Desk 1"}
	active, err := st.TransitionTicket(ctx, store.TransitionInput{
		TicketID:       ticket.TicketID,
		Action:         store.ActionActivate,
		ExpectedStatus: models.StatusWaiting,
		Employee:       employee,
		OccurredAt:     base.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, active.Status)
	require.NotNil(t, active.EmployeeID)
	assert.Equal(t, employee.UserID, *active.EmployeeID)
	require.NotNil(t, active.Employee)
	assert.Equal(t, "Desk 1", active.Employee.Name)
	assert.NotNil(t, active.ActivatedAt)
	assert.Equal(t, ticket.Number, active.Number)

	_, err = st.TransitionTicket(ctx, store.TransitionInput{
		TicketID:       ticket.TicketID,
		Action:         store.ActionCancel,
		ExpectedStatus: models.StatusWaiting,
	})
	assert.ErrorIs(t, err, store.ErrConflict, "stale expected status must not write")

	done, err := st.TransitionTicket(ctx, store.TransitionInput{
		TicketID:       ticket.TicketID,
		Action:         store.ActionComplete,
		ExpectedStatus: models.StatusActive,
		OccurredAt:     base.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.NotNil(t, done.ClosedAt)

	_, err = st.TransitionTicket(ctx, store.TransitionInput{
		TicketID:       ticket.TicketID,
		Action:         store.ActionActivate,
		ExpectedStatus: models.StatusCompleted,
		Employee:       employee,
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = st.TransitionTicket(ctx, store.TransitionInput{
		TicketID:       uuid.NewString(),
		Action:         store.ActionCancel,
		ExpectedStatus: models.StatusWaiting,
	})
	assert.ErrorIs(t, err, store.ErrTicketNotFound)

	_, err = st.GetTicket(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrTicketNotFound)

	got, err := st.GetTicket(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, ticket.Place, got.Place)
}

func testConcurrentTransition(t *testing.T, st store.TicketStore) {
	ctx := context.Background()
	ticket, err := st.CreateTicket(ctx, input(uuid.NewString(), "", uuid.NewString(), day, 0))
	require.NoError(t, err)

	actions := []store.TransitionInput{
		{TicketID: ticket.TicketID, Action: store.ActionCancel, ExpectedStatus: models.StatusWaiting},
		{TicketID: ticket.TicketID, Action: store.ActionActivate, ExpectedStatus: models.StatusWaiting, Employee: &models.EmployeeSnapshot{UserID: uuid.NewString(), Name: "Desk"}},
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(actions))
	for _, action := range actions {
		wg.Add(1)
		go func(in store.TransitionInput) {
			defer wg.Done()
			_, err := st.TransitionTicket(ctx, in)
			errs <- err
		}(action)
	}
	wg.Wait()
	close(errs)

	var succeeded, conflicted int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, store.ErrConflict):
			conflicted++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)
}

func testMoveToBack(t *testing.T, st store.TicketStore) {
	ctx := context.Background()
	placeID, serviceID, owner := uuid.NewString(), uuid.NewString(), uuid.NewString()

	var third models.Ticket
	for i := 1; i <= 7; i++ {
		userID := uuid.NewString()
		if i == 3 {
			userID = owner
		}
		ticket, err := st.CreateTicket(ctx, input(placeID, serviceID, userID, day, i))
		require.NoError(t, err)
		if i == 3 {
			third = ticket
		}
	}

	result, err := st.MoveToBack(ctx, store.MoveToBackInput{
		TicketID:       third.TicketID,
		ExpectedStatus: models.StatusWaiting,
		Day:            day,
		OccurredAt:     base.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, result.Old.Status)
	assert.Equal(t, 3, result.Old.Number)
	assert.NotEqual(t, third.TicketID, result.New.TicketID)
	assert.Equal(t, 8, result.New.Number)
	assert.Equal(t, models.StatusWaiting, result.New.Status)
	assert.Equal(t, owner, result.New.UserID)
	assert.Equal(t, third.Place, result.New.Place)
	require.NotNil(t, result.New.PreviousTicketID)
	assert.Equal(t, third.TicketID, *result.New.PreviousTicketID)

	old, err := st.GetTicket(ctx, third.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, old.Status)

	_, err = st.MoveToBack(ctx, store.MoveToBackInput{
		TicketID:       third.TicketID,
		ExpectedStatus: models.StatusWaiting,
		Day:            day,
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	waiting, err := st.ListScope(ctx, store.ScopeQuery{PlaceID: placeID, ServiceID: serviceID, Day: day, Statuses: []string{models.StatusWaiting}})
	require.NoError(t, err)
	require.Len(t, waiting, 7)
	assert.Equal(t, 8, waiting[len(waiting)-1].Number)
}

func testListScope(t *testing.T, st store.TicketStore) {
	ctx := context.Background()
	placeID, serviceID := uuid.NewString(), uuid.NewString()

	// created out of clock order on purpose; queue order follows created_at
	offsets := []int{30, 10, 20}
	for _, offset := range offsets {
		_, err := st.CreateTicket(ctx, input(placeID, serviceID, uuid.NewString(), day, offset))
		require.NoError(t, err)
	}
	_, err := st.CreateTicket(ctx, input(placeID, "", uuid.NewString(), day, 5))
	require.NoError(t, err)

	all, err := st.ListScope(ctx, store.ScopeQuery{PlaceID: placeID, ServiceID: serviceID, Day: day})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{2, 3, 1}, []int{all[0].Number, all[1].Number, all[2].Number})

	_, err = st.TransitionTicket(ctx, store.TransitionInput{
		TicketID:       all[0].TicketID,
		Action:         store.ActionActivate,
		ExpectedStatus: models.StatusWaiting,
		Employee:       &models.EmployeeSnapshot{UserID: uuid.NewString(), Name: "Desk"},
	})
	require.NoError(t, err)

	active, err := st.ListScope(ctx, store.ScopeQuery{PlaceID: placeID, ServiceID: serviceID, Day: day, Statuses: []string{models.StatusActive}})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, all[0].TicketID, active[0].TicketID)

	wide, err := st.ListScope(ctx, store.ScopeQuery{PlaceID: placeID, Day: day})
	require.NoError(t, err)
	require.Len(t, wide, 1, "place-wide query only matches tickets without a service")

	none, err := st.ListScope(ctx, store.ScopeQuery{PlaceID: placeID, ServiceID: serviceID, Day: "2026-03-03"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testListByUser(t *testing.T, st store.TicketStore) {
	ctx := context.Background()
	owner := uuid.NewString()

	first, err := st.CreateTicket(ctx, input(uuid.NewString(), "", owner, "2026-03-01", -86400))
	require.NoError(t, err)
	second, err := st.CreateTicket(ctx, input(uuid.NewString(), "", owner, day, 0))
	require.NoError(t, err)
	third, err := st.CreateTicket(ctx, input(uuid.NewString(), uuid.NewString(), owner, day, 60))
	require.NoError(t, err)
	_, err = st.CreateTicket(ctx, input(uuid.NewString(), "", uuid.NewString(), day, 30))
	require.NoError(t, err)

	all, err := st.ListByUser(ctx, owner, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{third.TicketID, second.TicketID, first.TicketID}, []string{all[0].TicketID, all[1].TicketID, all[2].TicketID})

	today, err := st.ListByUser(ctx, owner, day)
	require.NoError(t, err)
	require.Len(t, today, 2)
	assert.Equal(t, third.TicketID, today[0].TicketID)
}

func testValidation(t *testing.T, st store.TicketStore) {
	ctx := context.Background()
	_, err := st.CreateTicket(ctx, store.CreateTicketInput{UserID: uuid.NewString(), Day: day})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = st.CreateTicket(ctx, store.CreateTicketInput{PlaceID: uuid.NewString(), UserID: uuid.NewString(), Day: "yesterday"})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = st.TransitionTicket(ctx, store.TransitionInput{
		TicketID:       uuid.NewString(),
		Action:         store.ActionActivate,
		ExpectedStatus: models.StatusWaiting,
	})
	assert.ErrorIs(t, err, store.ErrValidation, "activate needs an employee")
}
