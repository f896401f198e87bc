package realtime

import (
	"net/http/httptest"
	"testing"

	"qms/place-queue/internal/hub"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientSubscribesFromQuery(t *testing.T) {
	h := hub.New(nil)
	req := httptest.NewRequest("GET", "/realtime/info?channel=place:P1:service:S1&channel=place:*", nil)
	client := newClient(h, req, 2)
	h.Register(client)
	defer h.Unregister(client)

	h.Broadcast("place:*", []byte("wildcard"))
	h.Broadcast("place:P1:service:S1", []byte("scoped"))

	require.Len(t, client.Send, 1)
	assert.Equal(t, "scoped", string(<-client.Send))
}

func TestHandleFrame(t *testing.T) {
	h := hub.New(nil)
	client := hub.NewClient("c1", 4)
	h.Register(client)
	defer h.Unregister(client)

	handleFrame(h, client, []byte(`not json`))
	assert.Len(t, client.Send, 0)

	handleFrame(h, client, []byte(`{"action":"subscribe","channel":"user:U1"}`))
	require.Len(t, client.Send, 1)
	assert.JSONEq(t, `{"action":"subscribed","channel":"user:U1"}`, string(<-client.Send))

	h.Broadcast("user:U1", []byte("hello"))
	assert.Equal(t, "hello", string(<-client.Send))

	handleFrame(h, client, []byte(`{"action":"unsubscribe","channel":"user:U1"}`))
	assert.JSONEq(t, `{"action":"unsubscribed","channel":"user:U1"}`, string(<-client.Send))
	h.Broadcast("user:U1", []byte("ignored"))
	assert.Len(t, client.Send, 0)
}
