package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"rsvp/internal/metrics"
	"rsvp/internal/queue"
)

// Publisher delivers one message to a broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Forwarder drains the outbox queue into a Publisher. The event type becomes
// the routing key.
type Forwarder struct {
	q        queue.Queue
	pub      Publisher
	log      zerolog.Logger
	metrics  *metrics.Metrics
	attempts int
	backoff  time.Duration
}

func NewForwarder(q queue.Queue, pub Publisher, log zerolog.Logger, m *metrics.Metrics) *Forwarder {
	return &Forwarder{q: q, pub: pub, log: log, metrics: m, attempts: 5, backoff: time.Second}
}

// Run forwards messages until ctx is done or the queue closes.
func (f *Forwarder) Run(ctx context.Context) error {
	msgs, err := f.q.Consume(ctx)
	if err != nil {
		return err
	}
	f.log.Info().Msg("forwarder started, waiting for events")
	for msg := range msgs {
		f.forward(ctx, msg)
	}
	f.log.Info().Msg("forwarder stopped")
	return nil
}

func (f *Forwarder) forward(ctx context.Context, msg queue.Message) {
	wait := f.backoff
	for attempt := 1; ; attempt++ {
		err := f.pub.Publish(ctx, msg.Type, msg.Body)
		if err == nil {
			f.metrics.Forwarded(msg.Type, "ok")
			f.log.Debug().Str("event", msg.Type).Msg("event forwarded")
			return
		}
		if attempt >= f.attempts || ctx.Err() != nil {
			f.metrics.Forwarded(msg.Type, "dropped")
			f.log.Error().Err(err).Str("event", msg.Type).Int("attempts", attempt).Msg("event dropped")
			return
		}
		f.log.Warn().Err(err).Str("event", msg.Type).Int("attempt", attempt).Dur("retry_in", wait).Msg("forward failed")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
		if wait < 30*time.Second {
			wait *= 2
		}
	}
}
