package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"qms/place-queue/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
places:
  - id: p-1
    name_en: Central Clinic
    name_ar: العيادة المركزية
    estimate_minutes: 10
services:
  - id: s-1
    place_id: p-1
    name_en: Vaccination
    estimate_minutes: 4
users:
  - id: e-1
    name: Desk One
    role: employee
`

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	dir, err := LoadStatic(path)
	require.NoError(t, err)
	ctx := context.Background()

	place, err := dir.GetPlace(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Central Clinic", place.NameEn)
	assert.Equal(t, 10, place.EstimateMinutes)

	service, err := dir.GetService(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", service.PlaceID)
	assert.Equal(t, 4, service.EstimateMinutes)

	user, err := dir.GetUser(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, "employee", user.Role)
}

func TestStaticNotFound(t *testing.T) {
	dir := NewStatic(nil, nil, nil)
	ctx := context.Background()

	_, err := dir.GetPlace(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrPlaceNotFound)
	_, err = dir.GetService(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrServiceNotFound)
	_, err = dir.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestParseStaticRejectsOrphanService(t *testing.T) {
	_, err := ParseStatic([]byte("services:\n  - id: s-1\n    name_en: Lost\n"))
	assert.Error(t, err)
}
