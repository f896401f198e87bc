package postgres

import (
	"context"
	"errors"

	"qms/place-queue/internal/models"
	"qms/place-queue/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory reads the places, services and users tables maintained by the
// owning services.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) GetPlace(ctx context.Context, placeID string) (models.Place, error) {
	var place models.Place
	row := d.pool.QueryRow(ctx, `
		SELECT place_id, name_en, name_ar, estimate_minutes
		FROM places
		WHERE place_id = $1
	`, placeID)
	if err := row.Scan(&place.PlaceID, &place.NameEn, &place.NameAr, &place.EstimateMinutes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Place{}, store.ErrPlaceNotFound
		}
		return models.Place{}, err
	}
	return place, nil
}

func (d *Directory) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	var service models.Service
	row := d.pool.QueryRow(ctx, `
		SELECT service_id, place_id, name_en, name_ar, estimate_minutes
		FROM services
		WHERE service_id = $1
	`, serviceID)
	if err := row.Scan(&service.ServiceID, &service.PlaceID, &service.NameEn, &service.NameAr, &service.EstimateMinutes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	return service, nil
}

func (d *Directory) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	row := d.pool.QueryRow(ctx, `
		SELECT user_id, name, role
		FROM users
		WHERE user_id = $1
	`, userID)
	if err := row.Scan(&user.UserID, &user.Name, &user.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}
