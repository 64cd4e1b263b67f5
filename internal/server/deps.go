package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prepbolt/apiserver/config"
	"github.com/prepbolt/apiserver/internal/cache"
	"github.com/prepbolt/apiserver/internal/db"
	"github.com/prepbolt/apiserver/internal/live"
	"github.com/prepbolt/apiserver/internal/mq"
	"github.com/prepbolt/apiserver/internal/services"
	"github.com/prepbolt/apiserver/internal/storage"
	"github.com/prepbolt/apiserver/internal/store"
	"github.com/redis/go-redis/v9"
)

// Deps holds the external connections of the process. Optional backends
// are nil when disabled in config.
type Deps struct {
	DB      *sql.DB
	Redis   *redis.Client
	MQ      *mq.MQ
	Storage *storage.Storage
}

// OpenDeps connects every configured backend. Postgres is required; the
// cache, broker and object storage are optional.
func OpenDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Deps, error) {
	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	d := &Deps{DB: dbConn}

	if d.Redis, err = cache.Open(ctx, cfg.Redis); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("open redis: %w", err)
	}
	if d.MQ, err = mq.Open(ctx, cfg.MQ); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("open mq: %w", err)
	}
	if d.Storage, err = storage.Open(ctx, cfg.Storage); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	logger.Info("backends ready",
		"redis", d.Redis != nil,
		"mq", cfg.MQ.Backend,
		"storage", cfg.Storage.Backend,
	)
	return d, nil
}

// Services groups the application services built on top of Deps.
type Services struct {
	Challenges *services.ChallengeService
	Users      *services.UserService
	Questions  *services.QuestionService
}

// Services wires the stores and every enabled side channel into the
// application services. hub may be nil.
func (d *Deps) Services(cfg config.Config, hub *live.Hub, logger *slog.Logger) Services {
	userService := services.NewUserService(store.NewUserRepository(d.DB))
	questionService := services.NewQuestionService(store.NewQuestionRepository(d.DB))

	opts := []services.ChallengeOption{
		services.WithCASRetries(cfg.Challenge.CASRetries),
		services.WithLogger(logger.With("component", "challenges")),
	}
	if d.Redis != nil {
		opts = append(opts, services.WithLeaderboardCache(cache.NewLeaderboardCache(d.Redis, cfg.Redis.TTL)))
	}
	if d.MQ != nil {
		opts = append(opts, services.WithEventPublishers(mq.NewEventPublisher(d.MQ, cfg.MQ.EventsChannel)))
	}
	if hub != nil {
		opts = append(opts, services.WithEventPublishers(hub))
	}
	if d.Storage != nil {
		opts = append(opts, services.WithLeaderboardArchive(storage.NewLeaderboardArchive(d.Storage)))
	}

	return Services{
		Challenges: services.NewChallengeService(store.NewChallengeRepository(d.DB), questionService, userService, opts...),
		Users:      userService,
		Questions:  questionService,
	}
}

// Close releases every open connection.
func (d *Deps) Close() error {
	var errs []error
	if d.MQ != nil {
		errs = append(errs, d.MQ.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.DB != nil {
		errs = append(errs, d.DB.Close())
	}
	return errors.Join(errs...)
}
