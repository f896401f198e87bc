package hub

import (
	"context"
	"encoding/json"
	"expvar"
	"sync"

	"qms/place-queue/internal/events"

	"go.uber.org/zap"
)

var (
	messagesDelivered = expvar.NewInt("hub_messages_delivered_total")
	messagesDropped   = expvar.NewInt("hub_messages_dropped_total")
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

type Client struct {
	ID       string
	Send     chan []byte
	channels map[string]struct{}
}

func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	return &Client{ID: id, Send: make(chan []byte, buffer), channels: make(map[string]struct{})}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

type SubscribeMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.channels[channel] = struct{}{}
}

func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.channels, channel)
}

// Apply executes a parsed subscribe or unsubscribe request for client.
func (h *Hub) Apply(client *Client, msg SubscribeMessage) {
	if msg.Action == ActionUnsubscribe {
		h.Unsubscribe(client, msg.Channel)
		return
	}
	h.Subscribe(client, msg.Channel)
}

// Broadcast delivers payload to every client subscribed to channel. A client
// whose buffer is full misses the message.
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if _, ok := client.channels[channel]; !ok {
			continue
		}
		select {
		case client.Send <- payload:
			messagesDelivered.Add(1)
		default:
			messagesDropped.Add(1)
			h.logger.Debug("drop message", zap.String("client_id", client.ID), zap.String("channel", channel))
		}
	}
}

// Publish lets the hub act as an events.Publisher for single-instance deployments.
func (h *Hub) Publish(ctx context.Context, channel string, payload []byte) error {
	h.Broadcast(channel, payload)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != ActionSubscribe && msg.Action != ActionUnsubscribe {
		return SubscribeMessage{}, false
	}
	if !events.ValidChannel(msg.Channel) {
		return SubscribeMessage{}, false
	}
	return msg, true
}
