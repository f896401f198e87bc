package realtime

import (
	"net/http"

	"qms/place-queue/internal/hub"

	"github.com/igm/sockjs-go/sockjs"
	"go.uber.org/zap"
)

// SockJSHandler serves the SockJS endpoint under prefix, e.g. "/realtime".
func SockJSHandler(prefix string, h *hub.Hub, buffer int, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		client := newClient(h, session.Request(), buffer)
		h.Register(client)
		defer h.Unregister(client)
		logger.Debug("sockjs session opened", zap.String("client_id", client.ID))

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				logger.Debug("sockjs session closed", zap.String("client_id", client.ID), zap.Error(err))
				return
			}
			handleFrame(h, client, []byte(msg))
		}
	})
}
