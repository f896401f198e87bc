package memory

import (
	"testing"

	"qms/place-queue/internal/store"
	"qms/place-queue/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.TicketStore {
		return NewStore()
	})
}
