package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/lalith-99/huddle/internal/observ"
	"go.uber.org/zap"
)

// Loader reads the current snapshot of a topic from the stores.
type Loader func(ctx context.Context) (any, error)

// FeedOptions describe how a topic is loaded. They are taken from the first
// subscriber of a topic; later subscribers share the running feed.
type FeedOptions struct {
	Load Loader

	// Empty is delivered when the very first load fails.
	Empty any

	// Refresh, when set, reloads on a ticker as well as on kicks. Streams
	// whose entries expire by age (typing, presence) need it.
	Refresh time.Duration

	// LoadTimeout bounds one load. Defaults to 5s.
	LoadTimeout time.Duration
}

// Relay carries kicks to other server processes.
type Relay interface {
	Publish(ctx context.Context, topics ...Topic) error
}

// Broker owns the feeds of one process.
type Broker struct {
	mu     sync.Mutex
	feeds  map[Topic]*feed
	nextID uint64

	relay   Relay
	logger  *zap.Logger
	metrics *observ.Metrics
}

func NewBroker(logger *zap.Logger, metrics *observ.Metrics) *Broker {
	return &Broker{
		feeds:   make(map[Topic]*feed),
		logger:  logger,
		metrics: metrics,
	}
}

// SetRelay attaches a cross-process relay. Call before serving traffic.
func (b *Broker) SetRelay(r Relay) {
	b.relay = r
}

// Subscribe adds a subscriber to topic and schedules a load, so the first
// value on the returned stream is the current snapshot. The subscription is
// cancelled when ctx is done or Cancel is called.
func (b *Broker) Subscribe(ctx context.Context, topic Topic, opts FeedOptions) *Subscription {
	b.mu.Lock()
	f, ok := b.feeds[topic]
	if !ok {
		f = newFeed(topic, opts, b.logger, b.metrics)
		b.feeds[topic] = f
		go f.run()
	}
	b.nextID++
	id := b.nextID
	sub := &Subscription{
		ID:    id,
		Topic: topic,
		ch:    make(chan any, 1),
	}
	f.add(sub)
	b.mu.Unlock()

	sub.cancel = func() { b.unsubscribe(f, sub) }
	sub.stop = context.AfterFunc(ctx, sub.Cancel)

	b.metrics.SubscriptionAdded(topic.Kind())
	f.kickNow()
	return sub
}

func (b *Broker) unsubscribe(f *feed, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if f.remove(sub) == 0 {
		f.close()
		if b.feeds[f.topic] == f {
			delete(b.feeds, f.topic)
		}
	}
	b.metrics.SubscriptionRemoved(f.topic.Kind())
}

// Notify tells every subscriber of topics, here and on other processes,
// that the underlying state changed.
func (b *Broker) Notify(topics ...Topic) {
	b.kickLocal(topics...)

	if b.relay == nil || len(topics) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := b.relay.Publish(ctx, topics...); err != nil {
			b.metrics.BestEffortFailed("relay_publish")
			b.logger.Warn("relay publish failed", zap.Error(err))
		}
	}()
}

func (b *Broker) kickLocal(topics ...Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range topics {
		if f, ok := b.feeds[t]; ok {
			f.kickNow()
		}
	}
}

// Close cancels every feed. Subscribers see their channels closed.
func (b *Broker) Close() {
	b.mu.Lock()
	feeds := b.feeds
	b.feeds = make(map[Topic]*feed)
	b.mu.Unlock()

	for _, f := range feeds {
		f.closeAll()
	}
}

// Subscription is one subscriber's view of a topic.
type Subscription struct {
	ID    uint64
	Topic Topic

	ch     chan any
	once   sync.Once
	cancel func()
	stop   func() bool
}

// C delivers snapshots. It holds at most one pending value; a newer snapshot
// replaces an undelivered older one. It is closed on cancel.
func (s *Subscription) C() <-chan any {
	return s.ch
}

// Cancel is idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		s.cancel()
	})
}
