package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/pubsub"
	"github.com/lalith-99/huddle/internal/repository/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recorder is a Notifier that remembers every topic it was told about.
type recorder struct {
	mu     sync.Mutex
	topics []pubsub.Topic
}

func (r *recorder) Notify(topics ...pubsub.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topics...)
}

func (r *recorder) Has(t pubsub.Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.topics {
		if x == t {
			return true
		}
	}
	return false
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = nil
}

type fixture struct {
	ctx   context.Context
	db    *memory.DB
	clock *fakeClock
	notes *recorder

	channels *ChannelService
	messages *MessageService
	presence *PresenceService
	typing   *TypingService
	calls    *CallService

	ana, ben, cara, dave models.Actor
	channelID          uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	db := memory.New()
	channelRepo := memory.NewChannelStore(db)
	memberRepo := memory.NewMembershipStore(db)

	f := &fixture{
		ctx:   context.Background(),
		db:    db,
		clock: &fakeClock{t: t0},
		notes: &recorder{},
		ana:   models.Actor{UserID: uuid.New(), Name: "Ana", Role: "student", Level: "B1"},
		ben:   models.Actor{UserID: uuid.New(), Name: "Ben", Role: "student"},
		cara:  models.Actor{UserID: uuid.New(), Name: "Cara", Role: "teacher"},
		dave:  models.Actor{UserID: uuid.New(), Name: "Dave", Role: "student"},
	}

	f.channels = NewChannelService(channelRepo, memberRepo, logger)
	f.messages = NewMessageService(memory.NewMessageStore(db), channelRepo, memberRepo, MessageConfig{
		EditWindow:        48 * time.Hour,
		DeleteWindow:      7 * time.Minute,
		MaxAttachmentSize: 25 << 20,
	}, logger)
	f.presence = NewPresenceService(memory.NewPresenceStore(db), channelRepo, memberRepo, 120*time.Second, logger)
	f.typing = NewTypingService(memory.NewTypingStore(db), channelRepo, memberRepo, 5*time.Second, logger)
	f.calls = NewCallService(memory.NewCallStore(db), channelRepo, memberRepo, logger)
	f.messages.SetTyping(f.typing)
	f.calls.SetAnnouncer(f.messages)

	for _, s := range []interface {
		SetClock(func() time.Time)
		SetNotifier(Notifier)
	}{f.channels, f.messages, f.presence, f.typing, f.calls} {
		s.SetClock(f.clock.Now)
		s.SetNotifier(f.notes)
	}

	// Dave is not in the channel.
	ch, err := f.channels.Create(f.ctx, f.ana, "Spanish B1", []uuid.UUID{f.ben.UserID, f.cara.UserID})
	require.NoError(t, err)
	f.channelID = ch.ID

	t.Cleanup(func() {
		f.calls.Wait()
		f.messages.Wait()
	})
	return f
}

func (f *fixture) send(t *testing.T, actor models.Actor, text string) *models.Message {
	t.Helper()
	msg, err := f.messages.Send(f.ctx, actor, f.channelID, SendInput{Text: text})
	require.NoError(t, err)
	return msg
}

func (f *fixture) get(t *testing.T, id int64) *models.Message {
	t.Helper()
	msg, err := memory.NewMessageStore(f.db).GetByID(f.ctx, f.channelID, id)
	require.NoError(t, err)
	require.NotNil(t, msg)
	return msg
}
