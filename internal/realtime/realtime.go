// Package realtime serves hub subscriptions to browsers over SockJS and plain
// websockets. Clients send {"action":"subscribe","channel":"place:P1"} frames
// or pass ?channel= query parameters when connecting.
package realtime

import (
	"encoding/json"
	"net/http"

	"qms/place-queue/internal/events"
	"qms/place-queue/internal/hub"

	"github.com/google/uuid"
)

type ack struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// newClient builds a hub client already subscribed to the valid channels
// named in the request query.
func newClient(h *hub.Hub, r *http.Request, buffer int) *hub.Client {
	client := hub.NewClient(uuid.NewString(), buffer)
	if r == nil {
		return client
	}
	for _, channel := range r.URL.Query()["channel"] {
		if events.ValidChannel(channel) {
			h.Subscribe(client, channel)
		}
	}
	return client
}

// handleFrame applies a subscription frame and queues an acknowledgement.
// Unknown frames are ignored.
func handleFrame(h *hub.Hub, client *hub.Client, data []byte) {
	msg, ok := hub.ParseSubscribe(data)
	if !ok {
		return
	}
	h.Apply(client, msg)
	reply, err := json.Marshal(ack{Action: msg.Action + "d", Channel: msg.Channel})
	if err != nil {
		return
	}
	select {
	case client.Send <- reply:
	default:
	}
}
