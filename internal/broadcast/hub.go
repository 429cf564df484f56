// Package broadcast pushes registration and check-in events to live
// dashboards.
//
// A Hub fans each published event out to its local subscribers and to any
// configured sinks (a Redis relay for other instances, the outbox queue for
// the worker). Publishing never blocks: a subscriber or sink that cannot keep
// up loses the event, which is logged and counted. Subscribers only see
// events published after they subscribed.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rsvp/internal/metrics"
)

// EventType names a live update.
type EventType string

const (
	RegistrationCreated EventType = "registration-created"
	GuestCheckedIn      EventType = "guest-checked-in"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Event is a single live update.
type Event struct {
	Type    EventType       `json:"type"`
	Origin  string          `json:"origin,omitempty"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Sink receives every event published on this instance.
type Sink interface {
	Name() string
	Send(ctx context.Context, evt Event) error
}

// Subscription is one dashboard's view of the event stream. C is closed by
// Close or when the hub shuts down.
type Subscription struct {
	C <-chan Event

	ch   chan Event
	hub  *Hub
	id   uint64
	once sync.Once
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s.id) })
}

type sinkWorker struct {
	sink Sink
	ch   chan Event
}

// Hub is an in-process publish/subscribe bus.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	buffer  int
	origin  string
	sinks   []sinkWorker
	wg      sync.WaitGroup
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber and per-sink buffer size.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithSinks forwards every published event to each sink.
func WithSinks(sinks ...Sink) Option {
	return func(h *Hub) {
		for _, s := range sinks {
			if s != nil {
				h.sinks = append(h.sinks, sinkWorker{sink: s})
			}
		}
	}
}

// WithOrigin sets the instance id stamped on published events.
func WithOrigin(origin string) Option { return func(h *Hub) { h.origin = origin } }

func WithLogger(l zerolog.Logger) Option { return func(h *Hub) { h.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(h *Hub) { h.metrics = m } }

// NewHub creates a hub and starts one delivery goroutine per sink.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[uint64]*Subscription),
		buffer: DefaultBuffer,
		origin: uuid.NewString(),
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	for i := range h.sinks {
		h.sinks[i].ch = make(chan Event, h.buffer)
		h.wg.Add(1)
		go h.drain(h.sinks[i])
	}
	return h
}

// Origin returns the id this hub stamps on its events.
func (h *Hub) Origin() string { return h.origin }

// Subscribe registers a new listener.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	h.metrics.SubscriberAdded()
	return sub
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers an event to local subscribers and queues it for the sinks.
// It never blocks and never fails the caller; problems are logged.
func (h *Hub) Publish(_ context.Context, typ EventType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(typ)).Msg("encode event payload")
		return
	}
	evt := Event{Type: typ, Origin: h.origin, At: h.now().UTC(), Payload: raw}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.deliverLocked(evt)
	for _, w := range h.sinks {
		select {
		case w.ch <- evt:
		default:
			h.log.Warn().Str("sink", w.sink.Name()).Str("event", string(typ)).Msg("sink buffer full, event dropped")
			h.metrics.Dropped(w.sink.Name())
		}
	}
}

// Deliver hands an event that arrived from elsewhere (another instance) to
// local subscribers only.
func (h *Hub) Deliver(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.deliverLocked(evt)
}

func (h *Hub) deliverLocked(evt Event) {
	for id, sub := range h.subs {
		select {
		case sub.ch <- evt:
		default:
			h.log.Warn().Uint64("subscriber", id).Str("event", string(evt.Type)).Msg("subscriber buffer full, event dropped")
			h.metrics.Dropped("subscriber")
		}
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
	h.metrics.SubscriberRemoved()
}

func (h *Hub) drain(w sinkWorker) {
	defer h.wg.Done()
	for evt := range w.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.sink.Send(ctx, evt); err != nil {
			h.log.Warn().Err(err).Str("sink", w.sink.Name()).Str("event", string(evt.Type)).Msg("sink delivery failed")
		}
		cancel()
	}
}

// Close ends every subscription and waits for the sinks to flush what they
// have already accepted.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
		h.metrics.SubscriberRemoved()
	}
	for _, w := range h.sinks {
		close(w.ch)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
