package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"qms/place-queue/internal/models"
	"qms/place-queue/internal/store"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type ticketRow struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID         string     `bun:"ticket_id,pk"`
	PlaceID          string     `bun:"place_id,notnull"`
	ServiceID        string     `bun:"service_id,notnull"`
	Day              string     `bun:"day,notnull"`
	Number           int        `bun:"number,notnull"`
	UserID           string     `bun:"user_id,notnull"`
	Status           string     `bun:"status,notnull"`
	EmployeeID       *string    `bun:"employee_id"`
	EmployeeName     *string    `bun:"employee_name"`
	PlaceNameEn      string     `bun:"place_name_en,notnull"`
	PlaceNameAr      string     `bun:"place_name_ar,notnull"`
	PlaceEstimate    int        `bun:"place_estimate_minutes,notnull"`
	PreviousTicketID *string    `bun:"previous_ticket_id"`
	CreatedAt        time.Time  `bun:"created_at,notnull"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull"`
	ActivatedAt      *time.Time `bun:"activated_at"`
	ClosedAt         *time.Time `bun:"closed_at"`
}

type sequenceRow struct {
	bun.BaseModel `bun:"table:ticket_sequences"`

	PlaceID    string `bun:"place_id,pk"`
	ServiceID  string `bun:"service_id,pk"`
	Day        string `bun:"day,pk"`
	NextNumber int    `bun:"next_number,notnull"`
}

type Store struct {
	db *bun.DB
}

// Open connects to a SQLite database. SQLite allows a single writer, so the
// pool is pinned to one connection and transactions queue behind each other.
func Open(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Init creates the tables and the scope-day number index when missing.
func (s *Store) Init(ctx context.Context) error {
	for _, model := range []interface{}{(*ticketRow)(nil), (*sequenceRow)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	if _, err := s.db.NewCreateIndex().
		Model((*ticketRow)(nil)).
		Index("tickets_scope_day_number_idx").
		Unique().
		IfNotExists().
		Column("place_id", "service_id", "day", "number").
		Exec(ctx); err != nil {
		return err
	}
	_, err := s.db.NewCreateIndex().
		Model((*ticketRow)(nil)).
		Index("tickets_user_idx").
		IfNotExists().
		Column("user_id", "created_at").
		Exec(ctx)
	return err
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	if err := input.Validate(); err != nil {
		return models.Ticket{}, err
	}

	var ticket models.Ticket
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := insertTicket(ctx, tx, input)
		if err != nil {
			return err
		}
		ticket = created
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func nextTicketNumber(ctx context.Context, tx bun.Tx, placeID, serviceID, day string) (int, error) {
	seq := sequenceRow{PlaceID: placeID, ServiceID: serviceID, Day: day, NextNumber: 1}
	if _, err := tx.NewInsert().
		Model(&seq).
		On("CONFLICT (place_id, service_id, day) DO UPDATE").
		Set("next_number = ticket_sequences.next_number + 1").
		Exec(ctx); err != nil {
		return 0, err
	}
	if err := tx.NewSelect().Model(&seq).WherePK().Scan(ctx); err != nil {
		return 0, err
	}
	return seq.NextNumber, nil
}

func insertTicket(ctx context.Context, tx bun.Tx, input store.CreateTicketInput) (models.Ticket, error) {
	number, err := nextTicketNumber(ctx, tx, input.PlaceID, input.ServiceID, input.Day)
	if err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC()

	row := ticketRow{
		TicketID:      uuid.NewString(),
		PlaceID:       input.PlaceID,
		ServiceID:     input.ServiceID,
		Day:           input.Day,
		Number:        number,
		UserID:        input.UserID,
		Status:        models.StatusWaiting,
		PlaceNameEn:   input.Place.NameEn,
		PlaceNameAr:   input.Place.NameAr,
		PlaceEstimate: input.Place.EstimateMinutes,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	if input.PreviousTicketID != "" {
		previous := input.PreviousTicketID
		row.PreviousTicketID = &previous
	}
	if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return models.Ticket{}, store.ErrNumberTaken
		}
		return models.Ticket{}, err
	}
	return row.toModel(), nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row, err := loadTicket(ctx, s.db, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	return row.toModel(), nil
}

func loadTicket(ctx context.Context, db bun.IDB, ticketID string) (ticketRow, error) {
	var row ticketRow
	err := db.NewSelect().Model(&row).Where("ticket_id = ?", ticketID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ticketRow{}, store.ErrTicketNotFound
		}
		return ticketRow{}, err
	}
	return row, nil
}

func (s *Store) TransitionTicket(ctx context.Context, input store.TransitionInput) (models.Ticket, error) {
	to, err := store.PrepareTransition(input)
	if err != nil {
		return models.Ticket{}, err
	}

	var ticket models.Ticket
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		updated, err := updateStatus(ctx, tx, to, input)
		if err != nil {
			return err
		}
		ticket = updated
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func updateStatus(ctx context.Context, tx bun.Tx, to string, input store.TransitionInput) (models.Ticket, error) {
	row, err := loadTicket(ctx, tx, input.TicketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if row.Status != input.ExpectedStatus {
		return models.Ticket{}, store.ErrStatusChanged
	}

	ticket := row.toModel()
	store.ApplyTransition(&ticket, to, input)
	next := fromModel(ticket)

	res, err := tx.NewUpdate().
		Model(&next).
		WherePK().
		Where("status = ?", input.ExpectedStatus).
		Exec(ctx)
	if err != nil {
		return models.Ticket{}, err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return models.Ticket{}, store.ErrStatusChanged
	}
	return ticket, nil
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

	var result store.MoveResult
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		old, err := updateStatus(ctx, tx, to, transition)
		if err != nil {
			return err
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
			return err
		}
		result = store.MoveResult{Old: old, New: created}
		return nil
	})
	if err != nil {
		return store.MoveResult{}, err
	}
	return result, nil
}

func (s *Store) ListScope(ctx context.Context, query store.ScopeQuery) ([]models.Ticket, error) {
	var rows []ticketRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("place_id = ?", query.PlaceID).
		Where("service_id = ?", query.ServiceID).
		Where("day = ?", query.Day)
	if len(query.Statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(query.Statuses))
	}
	if err := q.Order("created_at ASC", "number ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return toModels(rows), nil
}

func (s *Store) ListByUser(ctx context.Context, userID, day string) ([]models.Ticket, error) {
	var rows []ticketRow
	q := s.db.NewSelect().Model(&rows).Where("user_id = ?", userID)
	if day != "" {
		q = q.Where("day = ?", day)
	}
	if err := q.Order("created_at DESC", "number DESC").Scan(ctx); err != nil {
		return nil, err
	}
	return toModels(rows), nil
}

func toModels(rows []ticketRow) []models.Ticket {
	tickets := make([]models.Ticket, 0, len(rows))
	for _, row := range rows {
		tickets = append(tickets, row.toModel())
	}
	return tickets
}

func (r ticketRow) toModel() models.Ticket {
	ticket := models.Ticket{
		TicketID:  r.TicketID,
		PlaceID:   r.PlaceID,
		ServiceID: r.ServiceID,
		Day:       r.Day,
		Number:    r.Number,
		UserID:    r.UserID,
		Status:    r.Status,
		Place: models.PlaceSnapshot{
			PlaceID:         r.PlaceID,
			NameEn:          r.PlaceNameEn,
			NameAr:          r.PlaceNameAr,
			EstimateMinutes: r.PlaceEstimate,
		},
		PreviousTicketID: r.PreviousTicketID,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
		ActivatedAt:      r.ActivatedAt,
		ClosedAt:         r.ClosedAt,
	}
	if r.EmployeeID != nil {
		ticket.EmployeeID = r.EmployeeID
		name := ""
		if r.EmployeeName != nil {
			name = *r.EmployeeName
		}
		ticket.Employee = &models.EmployeeSnapshot{UserID: *r.EmployeeID, Name: name}
	}
	return ticket
}

func fromModel(ticket models.Ticket) ticketRow {
	row := ticketRow{
		TicketID:         ticket.TicketID,
		PlaceID:          ticket.PlaceID,
		ServiceID:        ticket.ServiceID,
		Day:              ticket.Day,
		Number:           ticket.Number,
		UserID:           ticket.UserID,
		Status:           ticket.Status,
		EmployeeID:       ticket.EmployeeID,
		PlaceNameEn:      ticket.Place.NameEn,
		PlaceNameAr:      ticket.Place.NameAr,
		PlaceEstimate:    ticket.Place.EstimateMinutes,
		PreviousTicketID: ticket.PreviousTicketID,
		CreatedAt:        ticket.CreatedAt.UTC(),
		UpdatedAt:        ticket.UpdatedAt.UTC(),
		ActivatedAt:      ticket.ActivatedAt,
		ClosedAt:         ticket.ClosedAt,
	}
	if ticket.Employee != nil {
		name := ticket.Employee.Name
		row.EmployeeName = &name
	}
	return row
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
