package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalith-99/huddle/internal/api"
	"github.com/lalith-99/huddle/internal/config"
	"github.com/lalith-99/huddle/internal/db"
	"github.com/lalith-99/huddle/internal/janitor"
	"github.com/lalith-99/huddle/internal/middleware"
	"github.com/lalith-99/huddle/internal/observ"
	"github.com/lalith-99/huddle/internal/pubsub"
	"github.com/lalith-99/huddle/internal/realtime"
	"github.com/lalith-99/huddle/internal/repository"
	"github.com/lalith-99/huddle/internal/repository/memory"
	"github.com/lalith-99/huddle/internal/repository/postgres"
	"github.com/lalith-99/huddle/internal/repository/redisstore"
	"github.com/lalith-99/huddle/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// stores is the set of repositories the services run on.
type stores struct {
	channels repository.ChannelRepository
	members  repository.MembershipRepository
	messages repository.MessageRepository
	users    repository.UserRepository
	calls    repository.CallRepository
	presence repository.PresenceRepository
	typing   repository.TypingRepository
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Config and logger
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observ.NewMetrics(reg)

	// ---------------------------------------------------------------
	// 2. Stores
	//
	// Channels, messages, users and calls live in Postgres (or memory
	// for local runs). Presence and typing are short-lived and go to
	// Redis when it is configured.
	// ---------------------------------------------------------------
	var st stores
	mem := memory.New()

	switch cfg.Store {
	case "postgres":
		database, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		pool := database.Pool()
		st.channels = postgres.NewChannelStore(pool)
		st.members = postgres.NewMembershipStore(pool)
		st.messages = postgres.NewMessageStore(pool)
		st.users = postgres.NewUserStore(pool)
		st.calls = postgres.NewCallStore(pool)
	default:
		logger.Warn("using in-memory store, data is lost on restart")
		st.channels = memory.NewChannelStore(mem)
		st.members = memory.NewMembershipStore(mem)
		st.messages = memory.NewMessageStore(mem)
		st.users = memory.NewUserStore(mem)
		st.calls = memory.NewCallStore(mem)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = db.NewRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rdb.Close()
		st.presence = redisstore.NewPresenceStore(rdb)
		st.typing = redisstore.NewTypingStore(rdb, time.Hour)
	} else {
		st.presence = memory.NewPresenceStore(mem)
		st.typing = memory.NewTypingStore(mem)
	}

	// ---------------------------------------------------------------
	// 3. Fan-out and services
	// ---------------------------------------------------------------
	broker := pubsub.NewBroker(logger, metrics)
	defer broker.Close()

	if rdb != nil {
		bridge := pubsub.NewRedisBridge(rdb, broker, logger)
		broker.SetRelay(bridge)
		go func() {
			if err := bridge.Run(ctx, nil); err != nil {
				logger.Error("pubsub bridge stopped", zap.Error(err))
			}
		}()
	}

	channels := service.NewChannelService(st.channels, st.members, logger)
	messages := service.NewMessageService(st.messages, st.channels, st.members, service.MessageConfig{
		EditWindow:        cfg.EditWindow,
		DeleteWindow:      cfg.DeleteWindow,
		MaxAttachmentSize: cfg.MaxAttachmentSize,
		HistoryPageSize:   cfg.HistoryPageSize,
	}, logger)
	presence := service.NewPresenceService(st.presence, st.channels, st.members, cfg.LivenessWindow, logger)
	typing := service.NewTypingService(st.typing, st.channels, st.members, cfg.TypingTTL, logger)
	calls := service.NewCallService(st.calls, st.channels, st.members, logger)

	messages.SetTyping(typing)
	calls.SetAnnouncer(messages)
	for _, s := range []interface {
		SetNotifier(service.Notifier)
		SetMetrics(*observ.Metrics)
	}{channels, messages, presence, typing, calls} {
		s.SetNotifier(broker)
		s.SetMetrics(metrics)
	}

	// ---------------------------------------------------------------
	// 4. Transport
	// ---------------------------------------------------------------
	limiter := middleware.NewLimiterPool(cfg.RateLimitRPS, cfg.RateLimitBurst)

	hub := realtime.NewHub(broker, realtime.Services{
		Channels: channels,
		Messages: messages,
		Presence: presence,
		Typing:   typing,
		Calls:    calls,
	}, realtime.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        limiter,
	}, logger, metrics)

	router := api.NewRouter(api.Handlers{
		Auth:       api.NewAuthHandler(st.users, cfg.JWTSecret, cfg.TokenTTL, logger),
		User:       api.NewUserHandler(st.users, logger),
		Channel:    api.NewChannelHandler(channels, logger),
		Membership: api.NewMembershipHandler(channels, logger),
		Message:    api.NewMessageHandler(messages, logger),
		Presence:   api.NewPresenceHandler(presence, logger),
		Typing:     api.NewTypingHandler(typing, logger),
		Call:       api.NewCallHandler(calls, logger),
		Stream:     hub.Serve,
	}, api.RouterOptions{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        limiter,
		Metrics:        metrics,
		Logger:         logger,
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	// ---------------------------------------------------------------
	// 5. Background jobs
	// ---------------------------------------------------------------
	if cfg.JanitorCron != "" {
		j, err := janitor.New(cfg.JanitorCron, presence, logger, metrics)
		if err != nil {
			return err
		}
		go j.Run(ctx)
	}

	// ---------------------------------------------------------------
	// 6. Serve until signalled
	// ---------------------------------------------------------------
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting Huddle",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.Store),
			zap.Bool("redis", rdb != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	// Hijacked WebSocket connections are not covered by Shutdown.
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket shutdown", zap.Error(err))
	}
	calls.Wait()
	messages.Wait()
	typing.Wait()
	presence.Wait()
	channels.Wait()
	return nil
}
