package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/chatrelay/chatrelay/internal/auth"
	"github.com/chatrelay/chatrelay/internal/chat"
	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/db"
	"github.com/chatrelay/chatrelay/internal/dedup"
	"github.com/chatrelay/chatrelay/internal/docstore"
	"github.com/chatrelay/chatrelay/internal/docstore/badgerdb"
	pgstore "github.com/chatrelay/chatrelay/internal/docstore/postgres"
	"github.com/chatrelay/chatrelay/internal/handlers"
	"github.com/chatrelay/chatrelay/internal/inbound"
	"github.com/chatrelay/chatrelay/internal/line"
	"github.com/chatrelay/chatrelay/internal/logger"
	"github.com/chatrelay/chatrelay/internal/media"
	"github.com/chatrelay/chatrelay/internal/media/providers/localfs"
	"github.com/chatrelay/chatrelay/internal/message"
	"github.com/chatrelay/chatrelay/internal/message/event"
	"github.com/chatrelay/chatrelay/internal/messaging"
	"github.com/chatrelay/chatrelay/internal/metrics"
	"github.com/chatrelay/chatrelay/internal/order"
	"github.com/chatrelay/chatrelay/internal/ratelimit"
	"github.com/chatrelay/chatrelay/internal/server"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook relay and HTTP API",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			runServe()
		},
	}
}

func runServe() {
	fx.New(
		fx.StopTimeout(shutdownTimeout),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDocStore,
			provideRedisClient,
			provideNATSClient,
			event.NewHub,
			provideEventPublisher,
			provideLineClient,
			provideLoginClient,
			provideMediaService,
			provideMessageStore,
			provideChatMaintainer,
			provideClaimer,
			provideProcessor,
			provideDispatcher,
			provideTokenStore,
			provideAuthService,
			provideRateLimiter,
			order.NewService,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(handlers.NewOrderHandler),
			provideServerHandler(provideChatHandler),
			provideServerHandler(providePushHandler),
			provideServerHandler(handlers.NewMediaHandler),
			provideServer,
		),
		fx.Invoke(
			registerEventMetrics,
			startEventForwarding,
			startDispatcher,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDocStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (docstore.Store, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverBadger:
		store, err := badgerdb.Open(log, cfg.Storage.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return store.Close() }})
		return store, nil
	default:
		if cfg.Storage.AutoMigrate {
			if err := db.MigrateUp(log, cfg.Postgres); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pool, err := db.Open(context.Background(), log, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
		return pgstore.New(log, pool), nil
	}
}

// provideRedisClient returns nil when no Redis address is configured.
func provideRedisClient(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		log.Info("redis not configured, cross-process dedup and rate limiting disabled")
		return nil, nil
	}
	client, err := dedup.NewClient(context.Background(), cfg.Redis)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return client.Close() }})
	return client, nil
}

// provideNATSClient returns nil when no NATS URL is configured.
func provideNATSClient(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*messaging.NATSClient, error) {
	if strings.TrimSpace(cfg.NATS.URL) == "" {
		return nil, nil
	}
	client, err := messaging.NewNATSClient(log, cfg.NATS)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { client.Close(); return nil }})
	return client, nil
}

func provideEventPublisher(hub *event.Hub, nats *messaging.NATSClient) event.Publisher {
	publishers := []event.Publisher{hub}
	if nats != nil {
		publishers = append(publishers, nats)
	}
	return event.NewFanout(publishers...)
}

func provideLineClient(log *slog.Logger, cfg config.Config) *line.Client {
	return line.NewClient(log, cfg.Line, nil)
}

func provideLoginClient(cfg config.Config, client *line.Client) *line.LoginClient {
	return line.NewLoginClient(cfg.Line, client, nil)
}

func provideMediaService(log *slog.Logger, cfg config.Config) (*media.Service, error) {
	provider, err := localfs.New(cfg.Media.Root, cfg.Server.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("media provider: %w", err)
	}
	return media.NewService(log, provider, cfg.Media.MaxBytes), nil
}

func provideMessageStore(log *slog.Logger, docs docstore.Store, publisher event.Publisher) *message.Store {
	return message.NewStore(log, docs, publisher)
}

func provideChatMaintainer(log *slog.Logger, docs docstore.Store, publisher event.Publisher) *chat.Maintainer {
	return chat.NewMaintainer(log, docs, publisher)
}

func provideClaimer(log *slog.Logger, cfg config.Config, client *redis.Client) inbound.Claimer {
	if client == nil {
		return nil
	}
	return dedup.NewRedisClaimer(log, client, cfg.Redis.DedupTTL())
}

func provideProcessor(log *slog.Logger, cfg config.Config, client *line.Client, mediaService *media.Service, messages *message.Store, chats *chat.Maintainer, claimer inbound.Claimer) *inbound.Processor {
	normalizer := inbound.NewNormalizer(log, client, client, mediaService, inbound.Defaults{
		UserName:  cfg.Line.DefaultUserName,
		AvatarURL: cfg.Line.DefaultAvatarURL,
	})
	return inbound.NewProcessor(log, normalizer, messages, chats, client, inbound.ProcessorConfig{
		ReplyTemplate: cfg.Line.ReplyTemplate,
		Claimer:       claimer,
	})
}

func provideDispatcher(log *slog.Logger, cfg config.Config, processor *inbound.Processor) *inbound.Dispatcher {
	return inbound.NewDispatcher(log, processor, inbound.DispatcherConfig{
		Workers:   cfg.Inbound.Workers,
		QueueSize: cfg.Inbound.QueueSize,
	})
}

func provideTokenStore(log *slog.Logger, docs docstore.Store) *auth.TokenStore {
	return auth.NewTokenStore(log, docs)
}

func provideAuthService(log *slog.Logger, cfg config.Config, login *line.LoginClient, tokens *auth.TokenStore) (*auth.Service, error) {
	expiresIn, err := cfg.Auth.ExpiresIn()
	if err != nil {
		return nil, err
	}
	return auth.NewService(log, login, tokens, cfg.Auth.JWTSecret, expiresIn), nil
}

func provideRateLimiter(log *slog.Logger, client *redis.Client) *ratelimit.Limiter {
	if client == nil {
		return nil
	}
	return ratelimit.NewLimiter(log, client)
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, dispatcher *inbound.Dispatcher) *handlers.LineWebhookHandler {
	return handlers.NewLineWebhookHandler(log, cfg.Line.ChannelSecret, dispatcher)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config, service *auth.Service, limiter *ratelimit.Limiter) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, service, limiter, ratelimit.LoginRule(cfg.Auth.LoginRateLimit))
}

func provideChatHandler(log *slog.Logger, chats *chat.Maintainer, messages *message.Store, hub *event.Hub) *handlers.ChatHandler {
	return handlers.NewChatHandler(log, chats, messages, hub)
}

func providePushHandler(log *slog.Logger, client *line.Client) *handlers.PushHandler {
	return handlers.NewPushHandler(log, client)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	Tokens         *auth.TokenStore
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, server.Config{
		Addr:                  params.Config.Server.Addr,
		JWTSecret:             params.Config.Auth.JWTSecret,
		ContentSecurityPolicy: params.Config.Server.ContentSecurityPolicy,
		CORSOrigins:           params.Config.Server.CORSOrigins,
	}, params.Tokens, params.ServerHandlers...)
}

func registerEventMetrics(hub *event.Hub) error {
	if err := prometheus.Register(metrics.EventDrops(hub.Dropped)); err != nil {
		return fmt.Errorf("register event metrics: %w", err)
	}
	return nil
}

// startEventForwarding feeds events handled by other instances into the local
// hub so SSE clients of this instance see them.
func startEventForwarding(lc fx.Lifecycle, log *slog.Logger, hub *event.Hub, nats *messaging.NATSClient) {
	if nats == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := nats.Forward(hub); err != nil {
				return fmt.Errorf("forward nats events: %w", err)
			}
			log.Info("forwarding nats events", slog.String("origin", nats.Origin()))
			return nil
		},
	})
}

func startDispatcher(lc fx.Lifecycle, dispatcher *inbound.Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { dispatcher.Start(); return nil },
		OnStop:  func(ctx context.Context) error { return dispatcher.Shutdown(ctx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	logger.Info("starting chatrelay", slog.String("version", Version), slog.String("storage", cfg.Storage.Driver))
	if strings.TrimSpace(cfg.Line.ChannelSecret) == "" {
		logger.Warn("line channel secret is empty, every webhook delivery will be rejected")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Warn("jwt secret is empty, authenticated routes cannot be used")
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
