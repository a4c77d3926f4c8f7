package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/vulnerametrics/internal/model"
	"github.com/redis/go-redis/v9"
)

// sessionKeyPrefix はセッションを格納するキーのプレフィックス。
const sessionKeyPrefix = "vulnerametrics:session:"

// SessionKey はセッションIDからRedisキーを生成する。
func SessionKey(id string) string {
	return sessionKeyPrefix + id
}

// redisSession はRedisに保存するJSON表現。
type redisSession struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	AccessToken     string    `json:"access_token"`
	IDToken         string    `json:"id_token"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// 有効期限はキーのTTLで管理する。
type RedisSessionRepo struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client *redis.Client) *RedisSessionRepo {
	return &RedisSessionRepo{client: client, now: time.Now}
}

// Save はセッションをJSONで保存し、ExpiresAtまでのTTLを設定する。
func (r *RedisSessionRepo) Save(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.DeleteByID(ctx, session.ID)
	}

	data, err := json.Marshal(redisSession{
		ID:              session.ID,
		Username:        session.Username,
		AccessToken:     session.Tokens.AccessToken,
		IDToken:         session.Tokens.IDToken,
		RefreshToken:    session.Tokens.RefreshToken,
		AccessExpiresAt: session.Tokens.AccessExpiresAt,
		ExpiresAt:       session.ExpiresAt,
		CreatedAt:       session.CreatedAt,
		UpdatedAt:       session.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := r.client.Set(ctx, SessionKey(session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。未登録の場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	data, err := r.client.Get(ctx, SessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var rs redisSession
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	session := &model.Session{
		ID:       rs.ID,
		Username: rs.Username,
		Tokens: model.Tokens{
			AccessToken:     rs.AccessToken,
			IDToken:         rs.IDToken,
			RefreshToken:    rs.RefreshToken,
			AccessExpiresAt: rs.AccessExpiresAt,
		},
		ExpiresAt: rs.ExpiresAt,
		CreatedAt: rs.CreatedAt,
		UpdatedAt: rs.UpdatedAt,
	}
	if session.Expired(r.now()) {
		return nil, nil
	}
	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, SessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired はTTLで自動失効するため常に0を返す。
func (r *RedisSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
