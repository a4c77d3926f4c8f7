package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/vulnerametrics/internal/model"
	"github.com/hitoshi/vulnerametrics/internal/repository"
)

// refreshSkew はアクセストークンの失効を見込んで早めにリフレッシュする猶予。
const refreshSkew = 2 * time.Minute

// SessionClient は1つのブラウザセッションに紐付いたIdPアクセサ。
// トークンはSessionRepositoryに保存し、失効していればアクセス時に
// リフレッシュする。定期的なリフレッシュは行わない。
type SessionClient struct {
	provider  Provider
	repo      repository.SessionRepository
	sessionID string
	maxAge    time.Duration
	now       func() time.Time

	// refreshMu はリフレッシュの同時実行を防ぐ
	refreshMu sync.Mutex
}

// NewSessionClient はSessionClientを生成する。
// sessionIDはセッションCookieの値、maxAgeは保存するセッションの有効期間。
func NewSessionClient(provider Provider, repo repository.SessionRepository, sessionID string, maxAge time.Duration) *SessionClient {
	return &SessionClient{
		provider:  provider,
		repo:      repo,
		sessionID: sessionID,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// SignIn はサインインし、完了した場合はトークンを保存する。
func (c *SessionClient) SignIn(ctx context.Context, username, password string) (*SignInResult, error) {
	result, err := c.provider.SignIn(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if !result.Complete || result.Tokens == nil {
		return result, nil
	}

	// リフレッシュ時のSECRET_HASHはプール上のユーザー名で計算する必要がある
	if result.Username != "" {
		username = result.Username
	}

	now := c.now()
	session := &model.Session{
		ID:        c.sessionID,
		Username:  username,
		Tokens:    *result.Tokens,
		ExpiresAt: now.Add(c.maxAge),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.repo.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session tokens: %w", err)
	}
	return result, nil
}

// SignUp はユーザー登録をIdPに委譲する。
func (c *SessionClient) SignUp(ctx context.Context, username, password string, attributes map[string]string) (*SignUpResult, error) {
	return c.provider.SignUp(ctx, username, password, attributes)
}

// ConfirmSignUp は登録確認をIdPに委譲する。
func (c *SessionClient) ConfirmSignUp(ctx context.Context, username, code string) error {
	return c.provider.ConfirmSignUp(ctx, username, code)
}

// ResetPassword はパスワードリセットコードの送信をIdPに委譲する。
func (c *SessionClient) ResetPassword(ctx context.Context, username string) error {
	return c.provider.ForgotPassword(ctx, username)
}

// ConfirmResetPassword はパスワードリセットの完了をIdPに委譲する。
func (c *SessionClient) ConfirmResetPassword(ctx context.Context, username, code, newPassword string) error {
	return c.provider.ConfirmForgotPassword(ctx, username, code, newPassword)
}

// CurrentUser は現在サインインしているユーザーを返す。
// トークンがない場合や失効している場合はmodel.ErrNotAuthenticatedを返す。
func (c *SessionClient) CurrentUser(ctx context.Context) (*User, error) {
	return c.getUser(ctx)
}

// FetchUserAttributes は現在のユーザーの属性を返す。
func (c *SessionClient) FetchUserAttributes(ctx context.Context) (map[string]string, error) {
	user, err := c.getUser(ctx)
	if err != nil {
		return nil, err
	}
	return user.Attributes, nil
}

func (c *SessionClient) getUser(ctx context.Context) (*User, error) {
	session, err := c.validSession(ctx)
	if err != nil {
		return nil, err
	}

	user, err := c.provider.GetUser(ctx, session.Tokens.AccessToken)
	if errors.Is(err, model.ErrInvalidCredential) {
		// 他の端末でのグローバルサインアウト等でトークンが失効している
		c.forget(ctx)
		return nil, model.ErrNotAuthenticated
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// AccessToken はバックエンドAPI呼び出し用のアクセストークンを返す。
// 呼び出しごとに取得し、呼び出し側でキャッシュしない。
func (c *SessionClient) AccessToken(ctx context.Context) (string, error) {
	session, err := c.validSession(ctx)
	if err != nil {
		return "", err
	}
	return session.Tokens.AccessToken, nil
}

// SignOut はグローバルサインアウトを行い、成功した場合はローカルのトークンを削除する。
// トークンがない場合は何もせずnilを返す。
func (c *SessionClient) SignOut(ctx context.Context) error {
	session, err := c.repo.FindByID(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil
	}

	if err := c.provider.GlobalSignOut(ctx, session.Tokens.AccessToken); err != nil {
		if !errors.Is(err, model.ErrInvalidCredential) {
			return err
		}
		// 失効済みトークンはサインアウト済みとみなす
	}
	return c.Forget(ctx)
}

// Forget はIdPに問い合わせずローカルのトークンを削除する。
func (c *SessionClient) Forget(ctx context.Context) error {
	if err := c.repo.DeleteByID(ctx, c.sessionID); err != nil {
		return fmt.Errorf("failed to forget session: %w", err)
	}
	return nil
}

func (c *SessionClient) forget(ctx context.Context) {
	if err := c.Forget(ctx); err != nil {
		slog.Error("failed to forget revoked session",
			slog.String("error", err.Error()),
		)
	}
}

// validSession は保存済みセッションを読み込み、必要ならリフレッシュして返す。
func (c *SessionClient) validSession(ctx context.Context) (*model.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	session, err := c.repo.FindByID(ctx, c.sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, model.ErrNotAuthenticated
	}

	now := c.now()
	if !session.AccessTokenExpired(now, refreshSkew) {
		return session, nil
	}
	if session.Tokens.RefreshToken == "" {
		c.forget(ctx)
		return nil, model.ErrNotAuthenticated
	}

	tokens, err := c.provider.Refresh(ctx, session.Username, session.Tokens.RefreshToken)
	if err != nil {
		if model.IsNetworkError(err) {
			return nil, err
		}
		slog.Info("token refresh rejected",
			slog.String("event", "token_refresh_rejected"),
			slog.String("error", err.Error()),
		)
		c.forget(ctx)
		return nil, model.ErrNotAuthenticated
	}

	session.Tokens = *tokens
	session.UpdatedAt = now
	if err := c.repo.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store refreshed tokens: %w", err)
	}
	return session, nil
}
