package sqlite

import (
	"context"
	"testing"

	"qms/place-queue/internal/store"
	"qms/place-queue/internal/store/storetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	st := NewStore(db)
	require.NoError(t, st.Init(context.Background()))
	return st
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.TicketStore {
		return setupTestStore(t)
	})
}

func TestInitIsRepeatable(t *testing.T) {
	st := setupTestStore(t)
	require.NoError(t, st.Init(context.Background()))
}
