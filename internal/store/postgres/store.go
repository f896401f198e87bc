package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qms/place-queue/internal/models"
	"qms/place-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = `ticket_id, place_id, service_id, day, number, user_id, status,
	employee_id, employee_name, place_name_en, place_name_ar, place_estimate_minutes,
	previous_ticket_id, created_at, updated_at, activated_at, closed_at`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	if err := input.Validate(); err != nil {
		return models.Ticket{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ticket, err := insertTicket(ctx, tx, input)
	if err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, classify(err)
	}
	return ticket, nil
}

func nextTicketNumber(ctx context.Context, tx pgx.Tx, placeID, serviceID, day string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (place_id, service_id, day, next_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (place_id, service_id, day)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, placeID, serviceID, day)
	if err := row.Scan(&next); err != nil {
		return 0, classify(err)
	}
	return next, nil
}

func insertTicket(ctx context.Context, tx pgx.Tx, input store.CreateTicketInput) (models.Ticket, error) {
	number, err := nextTicketNumber(ctx, tx, input.PlaceID, input.ServiceID, input.Day)
	if err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, place_id, service_id, day, number, user_id, status,
			place_name_en, place_name_ar, place_estimate_minutes, previous_ticket_id,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		RETURNING `+ticketColumns,
		uuid.NewString(), input.PlaceID, input.ServiceID, input.Day, number, input.UserID, models.StatusWaiting,
		input.Place.NameEn, input.Place.NameAr, input.Place.EstimateMinutes, nullIfEmpty(input.PreviousTicketID),
		createdAt)
	ticket, err := scanTicket(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Ticket{}, store.ErrNumberTaken
		}
		return models.Ticket{}, classify(err)
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, classify(err)
	}
	return ticket, nil
}

// TransitionTicket is a single conditional UPDATE, so it needs no transaction.
func (s *Store) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	to, err := store.PrepareTransition(input)
	if err != nil {
		return models.Ticket{}, err
	}
	return updateTicketStatus(ctx, s.pool, to, input)
}

func updateTicketStatus(ctx context.Context, q querier, to string, input store.TransitionInput) (models.Ticket, error) {
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	updateQuery := `
		UPDATE tickets
		SET status = $1, updated_at = $2`
	args := []interface{}{to, occurredAt}
	argPos := 3

	if to == models.StatusActive {
		updateQuery += fmt.Sprintf(", employee_id = $%d, employee_name = $%d, activated_at = $2", argPos, argPos+1)
		args = append(args, input.Employee.UserID, input.Employee.Name)
		argPos += 2
	}
	if store.IsTerminal(to) {
		updateQuery += ", closed_at = $2"
	}

	updateQuery += fmt.Sprintf(`
		WHERE ticket_id = $%d AND status = $%d
		RETURNING `, argPos, argPos+1) + ticketColumns
	args = append(args, input.TicketID, input.ExpectedStatus)

	ticket, err := scanTicket(q.QueryRow(ctx, updateQuery, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			exists, err := ticketExists(ctx, q, input.TicketID)
			if err != nil {
				return models.Ticket{}, err
			}
			if !exists {
				return models.Ticket{}, store.ErrTicketNotFound
			}
			return models.Ticket{}, store.ErrStatusChanged
		}
		return models.Ticket{}, classify(err)
	}
	return ticket, nil
}

func ticketExists(ctx context.Context, q querier, ticketID string) (bool, error) {
	var exists bool
	row := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_id = $1)`, ticketID)
	if err := row.Scan(&exists); err != nil {
		return false, classify(err)
	}
	return exists, nil
}

func (s *Store) MoveToBack(ctx context.Context, input store.MoveToBackInput) (store.MoveResult, error) {
	transition := store.TransitionInput{
		TicketID:       input.TicketID,
		Action:         store.ActionMoveToBack,
		ExpectedStatus: input.ExpectedStatus,
		OccurredAt:     input.OccurredAt,
	}
	to, err := store.PrepareTransition(transition)
	if err != nil {
		return store.MoveResult{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.MoveResult{}, classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	old, err := updateTicketStatus(ctx, tx, to, transition)
	if err != nil {
		return store.MoveResult{}, err
	}
	created, err := insertTicket(ctx, tx, store.CreateTicketInput{
		PlaceID:          old.PlaceID,
		ServiceID:        old.ServiceID,
		Day:              input.Day,
		UserID:           old.UserID,
		Place:            old.Place,
		PreviousTicketID: old.TicketID,
		CreatedAt:        old.UpdatedAt,
	})
	if err != nil {
		return store.MoveResult{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return store.MoveResult{}, classify(err)
	}
	return store.MoveResult{Old: old, New: created}, nil
}

func (s *Store) ListScope(ctx context.Context, query store.ScopeQuery) ([]models.Ticket, error) {
	sqlQuery := `SELECT ` + ticketColumns + `
		FROM tickets
		WHERE place_id = $1 AND service_id = $2 AND day = $3`
	args := []interface{}{query.PlaceID, query.ServiceID, query.Day}
	if len(query.Statuses) > 0 {
		sqlQuery += ` AND status = ANY($4)`
		args = append(args, query.Statuses)
	}
	sqlQuery += ` ORDER BY created_at ASC, number ASC`
	return s.queryTickets(ctx, sqlQuery, args...)
}

func (s *Store) ListByUser(ctx context.Context, userID, day string) ([]models.Ticket, error) {
	sqlQuery := `SELECT ` + ticketColumns + ` FROM tickets WHERE user_id = $1`
	args := []interface{}{userID}
	if day != "" {
		sqlQuery += ` AND day = $2`
		args = append(args, day)
	}
	sqlQuery += ` ORDER BY created_at DESC, number DESC`
	return s.queryTickets(ctx, sqlQuery, args...)
}

func (s *Store) queryTickets(ctx context.Context, sqlQuery string, args ...interface{}) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, classify(err)
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return tickets, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var employeeIDNull sql.NullString
	var employeeNameNull sql.NullString
	var previousNull sql.NullString
	var activatedAtNull sql.NullTime
	var closedAtNull sql.NullTime
	err := row.Scan(
		&ticket.TicketID, &ticket.PlaceID, &ticket.ServiceID, &ticket.Day, &ticket.Number, &ticket.UserID, &ticket.Status,
		&employeeIDNull, &employeeNameNull, &ticket.Place.NameEn, &ticket.Place.NameAr, &ticket.Place.EstimateMinutes,
		&previousNull, &ticket.CreatedAt, &ticket.UpdatedAt, &activatedAtNull, &closedAtNull,
	)
	if err != nil {
		return models.Ticket{}, err
	}
	ticket.Place.PlaceID = ticket.PlaceID
	ticket.EmployeeID = nullStringPtr(employeeIDNull)
	if ticket.EmployeeID != nil {
		ticket.Employee = &models.EmployeeSnapshot{UserID: employeeIDNull.String, Name: employeeNameNull.String}
	}
	ticket.PreviousTicketID = nullStringPtr(previousNull)
	ticket.ActivatedAt = nullTimePtr(activatedAtNull)
	ticket.ClosedAt = nullTimePtr(closedAtNull)
	ticket.CreatedAt = ticket.CreatedAt.UTC()
	ticket.UpdatedAt = ticket.UpdatedAt.UTC()
	return ticket, nil
}

// classify marks connection-level failures as unavailable so callers can retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure and deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		}
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
