// Package stream implements the in-memory routing layer that sits in
// front of durable storage: subscriptions are bounded queues, and
// publishing a message both persists it and delivers it to the right
// subscribers. Weight-0 subscriptions receive every message (broadcast);
// weighted subscriptions share a single message via hash(cascade_id) mod N
// over a virtual list repeating each subscription by its weight.
package stream

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/cascadeflow/cascadeflow/cascade"
	"github.com/cascadeflow/cascadeflow/internal/store"
	"github.com/cascadeflow/cascadeflow/internal/telemetry"
)

// subscriptionQueueSize bounds every subscription's channel. A full
// queue blocks the publisher, which is the backpressure mechanism
// described for the engine: a slow subscriber throttles its upstream.
const subscriptionQueueSize = 64

// ErrSetupClosed is returned by RegisterSubscription once a stream has
// been marked as running; registering subscriptions after steps have
// started reading would silently miss messages already routed.
var ErrSetupClosed = errors.New("stream: cannot register subscription after setup is closed")

// Subscription is a single consumer's bounded view of a Stream.
type Subscription struct {
	id     string
	weight int
	queue  chan *store.Message
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// Weight returns the subscription's routing weight.
func (s *Subscription) Weight() int { return s.weight }

// Receive blocks until a message arrives on this subscription or ctx
// is cancelled.
func (s *Subscription) Receive(ctx context.Context) (*store.Message, error) {
	select {
	case msg := <-s.queue:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsEmpty reports whether the subscription's queue currently holds no
// messages. Used by Stream.IsEmpty to build the quiescence predicate.
func (s *Subscription) IsEmpty() bool {
	return len(s.queue) == 0
}

// Stream is a named channel of messages backed by durable storage and
// fanned out to zero or more subscriptions.
type Stream struct {
	name  string
	store store.Store
	mtr   *telemetry.Metrics

	mu            sync.RWMutex
	subscriptions []*Subscription
	setupClosed   bool
}

// New constructs a Stream bound to the given backing store.
func New(name string, st store.Store) *Stream {
	return &Stream{name: name, store: st}
}

// SetMetrics attaches a telemetry sink; publishes are counted once
// metrics are attached. Safe to call at most once, before the stream
// starts publishing.
func (s *Stream) SetMetrics(mtr *telemetry.Metrics) {
	s.mtr = mtr
}

// Name returns the stream's name.
func (s *Stream) Name() string { return s.name }

// RegisterSubscription allocates a new bounded subscription with the
// given routing weight. Weight 0 marks a broadcast subscriber (e.g. an
// explorer or logger tap); weight >= 1 participates in weighted
// routing. Registration is only valid before the stream starts
// delivering messages (i.e. during step setup).
func (s *Stream) RegisterSubscription(weight int) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setupClosed {
		return nil, ErrSetupClosed
	}

	sub := &Subscription{
		id:     uuid.NewString(),
		weight: weight,
		queue:  make(chan *store.Message, subscriptionQueueSize),
	}
	s.subscriptions = append(s.subscriptions, sub)
	return sub, nil
}

// CloseSetup marks the stream as no longer accepting new subscriptions,
// called once the engine begins spawning step workers.
func (s *Stream) CloseSetup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setupClosed = true
}

// Publish stores msg (unless persist is false, used by restore_state
// replay) and delivers it to subscribers: every weight-0 subscription
// receives a copy, and exactly one weighted subscription is chosen by
// hash(cascade_id) mod len(virtual list), where each weight-N
// subscription appears N times in the virtual list.
func (s *Stream) Publish(ctx context.Context, msg *store.Message, persist bool) error {
	if persist {
		if err := s.store.Store(ctx, s.name, msg); err != nil {
			return errors.Wrapf(err, "stream %q: publish", s.name)
		}
	}
	if s.mtr != nil {
		s.mtr.MessagesPublished.WithLabelValues(s.name).Inc()
	}

	s.mu.RLock()
	subs := make([]*Subscription, len(s.subscriptions))
	copy(subs, s.subscriptions)
	s.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	var virtual []*Subscription
	for _, sub := range subs {
		switch {
		case sub.weight == 0:
			if err := enqueue(ctx, sub, msg); err != nil {
				return err
			}
		case sub.weight > 0:
			for i := 0; i < sub.weight; i++ {
				virtual = append(virtual, sub)
			}
		}
	}

	if len(virtual) == 0 {
		return nil
	}

	idx := cascade.RouteHash(msg.CascadeID) % uint64(len(virtual))
	return enqueue(ctx, virtual[idx], msg)
}

func enqueue(ctx context.Context, sub *Subscription, msg *store.Message) error {
	select {
	case sub.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsEmpty reports whether every subscription's queue is empty at this
// instant. Part of the manager's quiescence predicate.
func (s *Stream) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if !sub.IsEmpty() {
			return false
		}
	}
	return true
}
