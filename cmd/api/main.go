package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	httptransport "github.com/spec-kit/support-service/internal/api/http"
	"github.com/spec-kit/support-service/internal/api/http/handlers"
	"github.com/spec-kit/support-service/internal/auth"
	"github.com/spec-kit/support-service/internal/cache"
	"github.com/spec-kit/support-service/internal/config"
	"github.com/spec-kit/support-service/internal/domain"
	"github.com/spec-kit/support-service/internal/events"
	"github.com/spec-kit/support-service/internal/observability"
	"github.com/spec-kit/support-service/internal/persistence"
	"github.com/spec-kit/support-service/internal/repository"
	"github.com/spec-kit/support-service/internal/repository/memory"
	"github.com/spec-kit/support-service/internal/service"
	"github.com/spec-kit/support-service/internal/worker"
)

type repositories struct {
	tickets  repository.TicketRepository
	messages repository.TicketMessageRepository
	users    repository.UserRepository
	tx       repository.Transactor
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	var repos repositories
	if pg.Enabled() {
		pool := pg.PoolHandle()
		repos = repositories{
			tickets:  repository.NewTicketRepository(pool),
			messages: repository.NewTicketMessageRepository(pool),
			users:    repository.NewUserRepository(pool),
			tx:       repository.NewTransactor(pool),
		}
	} else {
		store := memory.NewStore()
		repos = repositories{
			tickets:  store.Tickets(),
			messages: store.Messages(),
			users:    store.Users(),
			tx:       store.Transactor(),
		}
		seedDevAccounts(ctx, repos.users, tokens, logger)
	}

	statsCache := cache.StatsCache(cache.NoopStatsCache{})
	if redis.Enabled() {
		statsCache = cache.NewRedisStatsCache(redis.Client, cfg.Redis.StatsCacheTTL())
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  repos.tickets,
		MessageRepo: repos.messages,
		UserRepo:    repos.users,
		Transactor:  repos.tx,
		StatsCache:  statsCache,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})

	background := &worker.Background{
		Notifications: service.NewNotificationService(dispatcher, logger, cfg.Notification),
		Sweeper:       worker.NewSLASweeper(repos.tickets, dispatcher, statsCache, logger, cfg.Tickets.SLASweepInterval()),
	}
	background.Start(ctx)
	defer background.Stop()

	app := httptransport.NewApp(cfg.App.Name, logger)
	httptransport.RegisterMiddlewares(app, logger, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, logger),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		StaffTickets:   handlers.NewStaffTicketsHandler(ticketService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, repos.users),
		MessageLimiter: httptransport.NewPrincipalRateLimiter(cfg.Tickets.MessagesPerMinute, cfg.Tickets.MessageBurst),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

// seedDevAccounts creates one account per role in the in-memory store and
// logs a bearer token for each so the API can be exercised locally.
func seedDevAccounts(ctx context.Context, users repository.UserRepository, tokens *auth.TokenManager, logger *zap.Logger) {
	accounts := []*domain.User{
		{Name: "Dev User", Email: "user@localhost", Role: domain.RoleUser},
		{Name: "Dev Support", Email: "support@localhost", Role: domain.RoleSupport},
		{Name: "Dev Admin", Email: "admin@localhost", Role: domain.RoleAdmin},
	}
	for _, account := range accounts {
		if err := users.Create(ctx, account); err != nil {
			logger.Warn("unable to seed dev account", zap.String("email", account.Email), zap.Error(err))
			continue
		}
		token, _, err := tokens.GenerateToken(account.ID, account.Role)
		if err != nil {
			logger.Warn("unable to sign dev token", zap.Error(err))
			continue
		}
		logger.Info("dev account",
			zap.String("email", account.Email),
			zap.String("role", string(account.Role)),
			zap.String("token", token))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
