package pubsub

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func recv(t *testing.T, sub *Subscription) any {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

// counterLoader returns the current value of n on every load.
func counterLoader(n *atomic.Int64) Loader {
	return func(ctx context.Context) (any, error) {
		return n.Load(), nil
	}
}

func TestSubscribeDeliversCurrentSnapshot(t *testing.T) {
	b := NewBroker(zap.NewNop(), nil)
	defer b.Close()

	var n atomic.Int64
	n.Store(7)
	sub := b.Subscribe(context.Background(), ChannelTopic(uuid.New()), FeedOptions{Load: counterLoader(&n)})
	defer sub.Cancel()

	assert.Equal(t, int64(7), recv(t, sub))
}

func TestNotifyEndsOnLatestState(t *testing.T) {
	b := NewBroker(zap.NewNop(), nil)
	defer b.Close()

	topic := ChannelTopic(uuid.New())
	var n atomic.Int64
	sub := b.Subscribe(context.Background(), topic, FeedOptions{Load: counterLoader(&n)})
	defer sub.Cancel()
	require.Equal(t, int64(0), recv(t, sub))

	for i := 1; i <= 50; i++ {
		n.Store(int64(i))
		b.Notify(topic)
	}

	// Intermediate snapshots may be coalesced away, but they never go
	// backwards and the last one is the final state.
	var last int64
	for last != 50 {
		v := recv(t, sub).(int64)
		require.GreaterOrEqual(t, v, last)
		last = v
	}
}

func TestNotifyOtherTopicDoesNotWake(t *testing.T) {
	b := NewBroker(zap.NewNop(), nil)
	defer b.Close()

	var loads atomic.Int64
	topic := TypingTopic(uuid.New())
	sub := b.Subscribe(context.Background(), topic, FeedOptions{Load: func(ctx context.Context) (any, error) {
		return loads.Add(1), nil
	}})
	defer sub.Cancel()
	recv(t, sub)

	b.Notify(TypingTopic(uuid.New()))
	select {
	case v := <-sub.C():
		t.Fatalf("unexpected snapshot %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoadErrorServesLastKnown(t *testing.T) {
	b := NewBroker(zap.NewNop(), nil)
	defer b.Close()

	topic := PresenceTopic(uuid.New())
	var fail atomic.Bool
	fail.Store(true)
	load := func(ctx context.Context) (any, error) {
		if fail.Load() {
			return nil, errors.New("store down")
		}
		return []string{"ana"}, nil
	}

	sub := b.Subscribe(context.Background(), topic, FeedOptions{Load: load, Empty: []string{}})
	defer sub.Cancel()
	assert.Equal(t, []string{}, recv(t, sub), "first failure serves the empty snapshot")

	fail.Store(false)
	b.Notify(topic)
	assert.Equal(t, []string{"ana"}, recv(t, sub))

	fail.Store(true)
	b.Notify(topic)
	assert.Equal(t, []string{"ana"}, recv(t, sub), "later failures serve the last good snapshot")
}

func TestCancelClosesAndDropsFeed(t *testing.T) {
	b := NewBroker(zap.NewNop(), nil)
	defer b.Close()

	topic := CallsTopic(uuid.New())
	var n atomic.Int64
	s1 := b.Subscribe(context.Background(), topic, FeedOptions{Load: counterLoader(&n)})
	s2 := b.Subscribe(context.Background(), topic, FeedOptions{Load: counterLoader(&n)})
	recv(t, s1)
	recv(t, s2)

	s1.Cancel()
	s1.Cancel()
	for range s1.C() {
		// drain a snapshot queued before the cancel
	}

	b.mu.Lock()
	assert.Len(t, b.feeds, 1)
	b.mu.Unlock()

	s2.Cancel()
	b.mu.Lock()
	assert.Empty(t, b.feeds)
	b.mu.Unlock()
}

func TestContextCancelUnsubscribes(t *testing.T) {
	b := NewBroker(zap.NewNop(), nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var n atomic.Int64
	sub := b.Subscribe(ctx, ChannelTopic(uuid.New()), FeedOptions{Load: counterLoader(&n)})
	recv(t, sub)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestRefreshDeliversOnlyChanges(t *testing.T) {
	b := NewBroker(zap.NewNop(), nil)
	defer b.Close()

	var n atomic.Int64
	sub := b.Subscribe(context.Background(), TypingTopic(uuid.New()), FeedOptions{
		Load:    counterLoader(&n),
		Refresh: 10 * time.Millisecond,
	})
	defer sub.Cancel()
	require.Equal(t, int64(0), recv(t, sub))

	select {
	case v := <-sub.C():
		t.Fatalf("unchanged snapshot redelivered: %v", v)
	case <-time.After(60 * time.Millisecond):
	}

	// No Notify: the ticker alone picks the change up.
	n.Store(1)
	assert.Equal(t, int64(1), recv(t, sub))
}

func TestOfferReplacesPending(t *testing.T) {
	ch := make(chan any, 1)
	offer(ch, 1)
	offer(ch, 2)
	assert.Equal(t, 2, <-ch)
}

func TestTopicKind(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, KindChannel, ChannelTopic(id).Kind())
	assert.Equal(t, KindCalls, CallsTopic(id).Kind())
	assert.Equal(t, "typing:"+id.String(), string(TypingTopic(id)))
}

func TestRedisBridgeRelaysKicks(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		return rdb
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := NewBroker(zap.NewNop(), nil)
	defer local.Close()
	remote := NewBroker(zap.NewNop(), nil)
	defer remote.Close()

	local.SetRelay(NewRedisBridge(newClient(), local, zap.NewNop()))
	remoteBridge := NewRedisBridge(newClient(), remote, zap.NewNop())
	ready := make(chan struct{})
	go remoteBridge.Run(ctx, ready) //nolint:errcheck
	<-ready

	topic := ChannelTopic(uuid.New())
	var n atomic.Int64
	sub := remote.Subscribe(ctx, topic, FeedOptions{Load: counterLoader(&n)})
	defer sub.Cancel()
	require.Equal(t, int64(0), recv(t, sub))

	n.Store(3)
	local.Notify(topic)
	assert.Equal(t, int64(3), recv(t, sub))
}
