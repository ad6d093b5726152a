package container

import (
	"context"
	"fmt"

	"planning-poker/internal/config"
	"planning-poker/internal/domain"
	"planning-poker/internal/middleware"
	"planning-poker/internal/repository"
	"planning-poker/internal/service"
	"planning-poker/internal/service/auth"
	"planning-poker/pkg/database"
	"planning-poker/pkg/logger"
	"planning-poker/pkg/redis"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *logger.Logger
	RedisClient *redis.Client
	DB          *database.PostgresDB
	Backend     *repository.Backend
	Rooms       service.RoomService
	Sweeper     service.Sweeper
	Tokens      *auth.TokenService
	Limiter     *middleware.RateLimiter
}

// New creates a new dependency injection container. The store backend named
// by the config must be reachable; there is no silent fallback to memory.
func New(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*Container, error) {
	policy, err := domain.PolicyByName(cfg.VotePolicy, cfg.MaxDays, cfg.MaxWeeks)
	if err != nil {
		return nil, err
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
	}

	switch cfg.StoreBackend {
	case config.StoreRedis:
		client, err := redis.NewClient(cfg.RedisURL, cfg.Environment, logger.Named("redis").Logger)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		c.RedisClient = client
		c.Backend = repository.NewRedisBackend(client, cfg.RoomTTL, cfg.LockTTL, logger)
		logger.Info("Redis client initialized successfully")

	case config.StorePostgres:
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		c.DB = db
		c.Backend = repository.NewPostgresBackend(db, cfg.RoomTTL, logger)
		logger.Info("Postgres pool initialized successfully")

	default:
		c.Backend = repository.NewMemoryBackend()
		logger.Info("Using in-memory room store")
	}

	c.Rooms = service.NewRoomService(c.Backend, service.Options{
		VoterCap:     cfg.VoterCap,
		StaleAfter:   cfg.StaleAfter,
		StoreTimeout: cfg.StoreTimeout,
		ReadRetries:  service.DefaultOptions().ReadRetries,
		Policy:       policy,
	}, logger)
	c.Sweeper = service.NewSweeper(c.Rooms, c.Backend.Rooms, cfg.SweepInterval, logger)
	c.Tokens = auth.NewTokenService(cfg.TokenSecret, cfg.TokenTTL, logger)
	c.Limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	if !c.Tokens.Enabled() {
		logger.Info("TOKEN_SECRET not configured, participant tokens disabled")
	}

	return c, nil
}
