package postgres

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"testing"

	"qms/place-queue/internal/pgtest"
	"qms/place-queue/internal/store"
)

var testDSN string

func TestMain(m *testing.M) {
	flag.Parse()
	dsn, stop, err := pgtest.Start(context.Background())
	if err != nil {
		log.Printf("postgres integration tests disabled: %v", err)
	}
	testDSN = dsn
	code := m.Run()
	stop()
	os.Exit(code)
}

func TestDirectoryLookups(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.NewPool(t, ctx, testDSN)

	if _, err := pool.Exec(ctx, `
		INSERT INTO places (place_id, name_en, name_ar, estimate_minutes) VALUES ('p-1', 'Clinic', 'عيادة', 12)
	`); err != nil {
		t.Fatalf("insert place: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO services (service_id, place_id, name_en, estimate_minutes) VALUES ('s-1', 'p-1', 'Dental', 20)
	`); err != nil {
		t.Fatalf("insert service: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO users (user_id, name, role) VALUES ('e-1', 'Desk', 'employee')
	`); err != nil {
		t.Fatalf("insert user: %v", err)
	}

	dir := NewDirectory(pool)
	place, err := dir.GetPlace(ctx, "p-1")
	if err != nil {
		t.Fatalf("get place: %v", err)
	}
	if place.EstimateMinutes != 12 || place.NameAr != "عيادة" {
		t.Fatalf("unexpected place: %+v", place)
	}
	service, err := dir.GetService(ctx, "s-1")
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	if service.PlaceID != "p-1" || service.EstimateMinutes != 20 {
		t.Fatalf("unexpected service: %+v", service)
	}
	user, err := dir.GetUser(ctx, "e-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Role != "employee" {
		t.Fatalf("unexpected user: %+v", user)
	}

	if _, err := dir.GetPlace(ctx, "missing"); !errors.Is(err, store.ErrPlaceNotFound) {
		t.Fatalf("expected place not found, got %v", err)
	}
	if _, err := dir.GetUser(ctx, "missing"); !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}
