package pubsub

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/lalith-99/huddle/internal/observ"
	"go.uber.org/zap"
)

// feed owns one topic. It reloads the topic's snapshot from the store on
// every kick and hands the result to each subscriber.
//
// Notifications coalesce at two points. The kick channel holds at most one
// pending reload, so a burst of writes while a load is running costs one
// extra load rather than one per write. Each subscriber channel holds at
// most one snapshot, and a newer one replaces an unread older one. Snapshots
// are whole states, not deltas, so dropping an intermediate one loses
// nothing a subscriber needs and a slow reader cannot stall the feed.
type feed struct {
	topic   Topic
	opts    FeedOptions
	logger  *zap.Logger
	metrics *observ.Metrics

	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	subs    map[uint64]*Subscription
	last    any
	hasLast bool
	closed  bool
}

func newFeed(topic Topic, opts FeedOptions, logger *zap.Logger, metrics *observ.Metrics) *feed {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &feed{
		topic:   topic,
		opts:    opts,
		logger:  logger.With(zap.String("topic", string(topic))),
		metrics: metrics,
		kick:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[uint64]*Subscription),
	}
}

// kickNow schedules a load. A kick already pending absorbs this one.
func (f *feed) kickNow() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

func (f *feed) run() {
	var tick <-chan time.Time
	if f.opts.Refresh > 0 {
		t := time.NewTicker(f.opts.Refresh)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-f.kick:
			snap, _ := f.load()
			f.deliver(snap)
		case <-tick:
			// Ticks only matter when something aged out.
			if snap, changed := f.load(); changed {
				f.deliver(snap)
			}
		}
	}
}

// load returns the snapshot to deliver and whether it differs from the
// previous successful load.
func (f *feed) load() (any, bool) {
	ctx, cancel := context.WithTimeout(f.ctx, f.opts.LoadTimeout)
	defer cancel()

	snap, err := f.opts.Load(ctx)
	if err != nil {
		if f.ctx.Err() != nil {
			return nil, false
		}
		f.logger.Warn("snapshot load failed, serving last known", zap.Error(err))
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.hasLast {
			return f.last, false
		}
		return f.opts.Empty, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	changed := !f.hasLast || !reflect.DeepEqual(f.last, snap)
	f.last, f.hasLast = snap, true
	return snap, changed
}

func (f *feed) deliver(snap any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	for _, s := range f.subs {
		offer(s.ch, snap)
		f.metrics.Pushed(f.topic.Kind())
	}
}

// offer puts v in a buffered channel of size one, replacing a value the
// subscriber has not read yet. Only the feed goroutine sends, so the second
// send cannot block.
func offer(ch chan any, v any) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

func (f *feed) add(s *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[s.ID] = s
}

// remove drops s and closes its channel. It returns how many subscribers are left.
func (f *feed) remove(s *Subscription) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[s.ID]; ok {
		delete(f.subs, s.ID)
		close(s.ch)
	}
	return len(f.subs)
}

func (f *feed) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.cancel()
}

func (f *feed) closeAll() {
	f.mu.Lock()
	for id, s := range f.subs {
		delete(f.subs, id)
		close(s.ch)
	}
	f.closed = true
	f.mu.Unlock()
	f.cancel()
}
