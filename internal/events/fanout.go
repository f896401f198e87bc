package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Publisher delivers an encoded envelope on one channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Fanout sends events through every configured publisher. Delivery is best
// effort: failures are logged and never reach the caller.
type Fanout struct {
	publishers []Publisher
	logger     *zap.Logger
	now        func() time.Time
}

func NewFanout(logger *zap.Logger, publishers ...Publisher) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{
		publishers: publishers,
		logger:     logger,
		now:        time.Now,
	}
}

func (f *Fanout) Emit(ctx context.Context, event Event, channels ...string) {
	at := f.now()
	for _, channel := range channels {
		payload, err := Encode(channel, event, at)
		if err != nil {
			f.logger.Warn("encode event",
				zap.String("kind", string(event.Kind())),
				zap.String("ticket_id", event.TicketID()),
				zap.Error(err))
			continue
		}
		for _, publisher := range f.publishers {
			if err := publisher.Publish(ctx, channel, payload); err != nil {
				f.logger.Warn("publish event",
					zap.String("kind", string(event.Kind())),
					zap.String("channel", channel),
					zap.String("ticket_id", event.TicketID()),
					zap.Error(err))
			}
		}
	}
}
