package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/vulnerametrics/internal/config"
	"github.com/hitoshi/vulnerametrics/internal/database"
	"github.com/hitoshi/vulnerametrics/internal/handler"
	"github.com/hitoshi/vulnerametrics/internal/repository"
)

// sessionStore は設定に応じて選択したセッションストアとその疎通確認。
type sessionStore struct {
	Sessions repository.SessionRepository
	Health   handler.HealthChecker
	close    func() error
}

// Close は下層の接続を閉じる。
func (s *sessionStore) Close() {
	if err := s.close(); err != nil {
		slog.Warn("failed to close session store", slog.String("error", err.Error()))
	}
}

// openSessionStore はSESSION_STOREに応じてPostgreSQLまたはRedisへ接続する。
func openSessionStore(ctx context.Context, cfg *config.Config) (*sessionStore, error) {
	if cfg.UsesRedis() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))

		return &sessionStore{
			Sessions: repository.NewRedisSessionRepo(client),
			Health:   redisPinger{client: client},
			close:    client.Close,
		}, nil
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	return &sessionStore{
		Sessions: repository.NewPostgresSessionRepo(db),
		Health:   sqlPinger{db: db},
		close:    db.Close,
	}, nil
}

// sqlPinger は*sql.DBをhandler.HealthCheckerに適合させる。
type sqlPinger struct {
	db *sql.DB
}

func (p sqlPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// redisPinger は*redis.Clientをhandler.HealthCheckerに適合させる。
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
