// Package broker is the process-wide progress fan-out hub. Publishers emit
// structured events; every live subscriber receives every event published
// after it joined, rendered as SSE text frames with periodic heartbeats.
// Delivery is best-effort: no durability, no replay, no resume.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Forest904/beathub/internal/constants"
	"github.com/Forest904/beathub/internal/domain"
	"github.com/Forest904/beathub/internal/logger"
	"github.com/google/uuid"
)

// Broker fans events out to subscribers. Safe for concurrent use.
type Broker struct {
	mu   sync.Mutex
	subs map[string]*Subscription
	log  *logger.Logger
}

func New(log *logger.Logger) *Broker {
	if log == nil {
		log = logger.Default()
	}
	return &Broker{
		subs: make(map[string]*Subscription),
		log:  log.WithComponent("broker"),
	}
}

// Publish serializes the event once and appends it to every current
// subscriber's private buffer. It never blocks on a slow consumer and a
// serialization failure is dropped, never surfaced to the publisher.
func (b *Broker) Publish(ev domain.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Warn("Dropping unserializable progress event", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.push(data)
	}
}

// Subscribe registers a new subscriber with a fresh id and an empty buffer.
// The caller must Close the subscription when its consumer disconnects.
func (b *Broker) Subscribe(heartbeat time.Duration) *Subscription {
	if heartbeat <= 0 {
		heartbeat = constants.DefaultHeartbeat
	}

	sub := &Subscription{
		id:        uuid.New().String(),
		broker:    b,
		heartbeat: heartbeat,
		wake:      make(chan struct{}, 1),
		lastEmit:  time.Now(),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one consumer's private view of the stream: an unbounded
// event buffer plus heartbeat bookkeeping. Frames are pulled one at a time
// with Next; the stream has no natural end and terminates only when the
// consumer stops pulling.
type Subscription struct {
	id        string
	broker    *Broker
	heartbeat time.Duration

	mu  sync.Mutex
	buf [][]byte

	wake     chan struct{}
	lastEmit time.Time
}

func (s *Subscription) push(data []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, data)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return nil, false
	}
	data := s.buf[0]
	s.buf = s.buf[1:]
	return data, true
}

// Next blocks until it can return the next frame: a buffered event as a data
// frame, or a heartbeat frame once the heartbeat interval has elapsed with no
// emission. Each internal wait is bounded by the broker poll interval so
// disconnects are observed promptly. Returns the context's error when the
// consumer is gone.
func (s *Subscription) Next(ctx context.Context) (string, error) {
	timer := time.NewTimer(constants.BrokerPollInterval)
	defer timer.Stop()

	for {
		if data, ok := s.pop(); ok {
			s.lastEmit = time.Now()
			return fmt.Sprintf("data: %s\n\n", data), nil
		}

		if time.Since(s.lastEmit) >= s.heartbeat {
			now := time.Now()
			s.lastEmit = now
			return fmt.Sprintf("event: heartbeat\ndata: {\"ts\": %d}\n\n", now.Unix()), nil
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(constants.BrokerPollInterval)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// Close deregisters the subscription from the broker. Pending buffered
// events are discarded.
func (s *Subscription) Close() {
	s.broker.unsubscribe(s.id)
}
