// Package service holds the domain rules: who may do what to which message,
// call or presence record, and when.
//
// Services take an explicit models.Actor on every call. They validate input,
// mutate the stores, and then tell the Notifier which topics changed. Errors
// are *apperr.Error values so the command layer can classify them.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/huddle/internal/apperr"
	"github.com/lalith-99/huddle/internal/models"
	"github.com/lalith-99/huddle/internal/observ"
	"github.com/lalith-99/huddle/internal/pubsub"
	"github.com/lalith-99/huddle/internal/repository"
	"go.uber.org/zap"
)

// Notifier is told which streams changed after a successful mutation.
// *pubsub.Broker implements it.
type Notifier interface {
	Notify(topics ...pubsub.Topic)
}

type nopNotifier struct{}

func (nopNotifier) Notify(...pubsub.Topic) {}

// bestEffortTimeout bounds secondary writes that run after the caller has
// already been answered.
const bestEffortTimeout = 5 * time.Second

// base carries what every service shares.
type base struct {
	now      func() time.Time
	notifier Notifier
	logger   *zap.Logger
	metrics  *observ.Metrics
	bg       *sync.WaitGroup
}

func newBase(logger *zap.Logger) base {
	return base{
		now:      time.Now,
		notifier: nopNotifier{},
		logger:   logger,
		bg:       &sync.WaitGroup{},
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (b *base) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	b.notifier = n
}

// SetClock replaces time.Now. Tests use it to move through time windows.
func (b *base) SetClock(now func() time.Time) {
	b.now = now
}

func (b *base) SetMetrics(m *observ.Metrics) {
	b.metrics = m
}

// Wait blocks until background best-effort writes have finished.
func (b *base) Wait() {
	b.bg.Wait()
}

func (b *base) clock() time.Time {
	return b.now().UTC()
}

// background runs fn detached from the caller's context. Failures are
// logged and counted, never returned.
func (b *base) background(op string, fn func(ctx context.Context) error) {
	b.bg.Add(1)
	go func() {
		defer b.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), bestEffortTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			b.metrics.BestEffortFailed(op)
			b.logger.Warn("best-effort write failed", zap.String("op", op), zap.Error(err))
		}
	}()
}

// access answers channel membership questions for every service.
type access struct {
	channels repository.ChannelRepository
	members  repository.MembershipRepository
}

func requireActor(actor models.Actor) error {
	if actor.UserID == uuid.Nil {
		return apperr.Authentication("no authenticated user")
	}
	return nil
}

// requireMember fails with NOT_FOUND for unknown channels and PERMISSION
// for channels the actor does not belong to.
func (a access) requireMember(ctx context.Context, actor models.Actor, channelID uuid.UUID) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	ch, err := a.channels.GetByID(ctx, channelID)
	if err != nil {
		return err
	}
	if ch == nil {
		return apperr.NotFound("channel not found")
	}
	ok, err := a.members.IsMember(ctx, channelID, actor.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Permission("not a member of this channel")
	}
	return nil
}
