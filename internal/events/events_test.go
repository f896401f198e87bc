package events

import (
	"encoding/json"
	"testing"
	"time"

	"qms/place-queue/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEnvelope(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	ticket := models.Ticket{TicketID: "t-1", PlaceID: "p-1", Number: 4, Status: models.StatusCancelled}

	data, err := Encode("place:p-1", StatusChanged{Ticket: ticket, PreviousStatus: models.StatusWaiting}, at)
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindStatusChanged, env.Kind)
	assert.Equal(t, "t-1", env.TicketID)
	assert.Equal(t, models.StatusCancelled, env.Status)
	assert.Equal(t, "place:p-1", env.Channel)
	assert.True(t, at.Equal(env.Timestamp))

	var payload StatusChanged
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, models.StatusWaiting, payload.PreviousStatus)
	assert.Equal(t, 4, payload.Ticket.Number)
}

func TestMovedToBackReferencesNewTicket(t *testing.T) {
	event := MovedToBack{
		Old: models.Ticket{TicketID: "old", Status: models.StatusCancelled},
		New: models.Ticket{TicketID: "new", Status: models.StatusWaiting},
	}
	assert.Equal(t, KindMovedToBack, event.Kind())
	assert.Equal(t, "new", event.TicketID())
	assert.Equal(t, models.StatusWaiting, event.Status())
}

func TestScopeChannels(t *testing.T) {
	assert.Equal(t, []string{"place:p"}, ScopeChannels(models.Scope{PlaceID: "p"}))
	assert.Equal(t, []string{"place:p", "place:p:service:s"}, ScopeChannels(models.Scope{PlaceID: "p", ServiceID: "s"}))
	assert.Equal(t, "user:u", UserChannel("u"))
}

func TestValidChannel(t *testing.T) {
	cases := map[string]bool{
		"place:p-1":             true,
		"place:p-1:service:s-1": true,
		"user:u-1":              true,
		"place:":                false,
		"place:p:service:":      false,
		"user:*":                false,
		"room:1":                false,
		"":                      false,
	}
	for channel, want := range cases {
		assert.Equal(t, want, ValidChannel(channel), channel)
	}
}
