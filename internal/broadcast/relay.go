package broadcast

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"rsvp/internal/queue"
)

// DefaultChannel is the Redis pub/sub channel instances share.
const DefaultChannel = "rsvp:events"

// RedisRelay shares events between instances over Redis pub/sub. As a Sink it
// publishes local events; Run feeds remote events into a hub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

func NewRedisRelay(client *redis.Client, channel string, log zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{client: client, channel: channel, log: log}
}

func (r *RedisRelay) Name() string { return "redis" }

func (r *RedisRelay) Send(ctx context.Context, evt Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

// Run subscribes to the channel and delivers other instances' events to hub
// until ctx is done.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	r.log.Info().Str("channel", r.channel).Msg("relay subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(hub, msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(hub *Hub, payload string) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		r.log.Warn().Err(err).Msg("relay: undecodable event")
		return
	}
	if evt.Origin == hub.Origin() {
		return
	}
	hub.Deliver(evt)
}

// QueueSink writes every event to the outbox queue drained by the worker.
type QueueSink struct {
	q queue.Queue
}

func NewQueueSink(q queue.Queue) *QueueSink { return &QueueSink{q: q} }

func (s *QueueSink) Name() string { return "queue" }

func (s *QueueSink) Send(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return s.q.Publish(ctx, queue.Message{Type: string(evt.Type), Body: body})
}
