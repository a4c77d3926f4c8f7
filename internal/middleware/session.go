// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/vulnerametrics/internal/auth"
	"github.com/hitoshi/vulnerametrics/internal/workspace"
)

// SessionCookieName はブラウザセッションIDを保持するCookieの名前。
const SessionCookieName = "sid"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	sessionIDContextKey = contextKey("session_id")
	workspaceContextKey = contextKey("workspace")
)

var errNoWorkspace = errors.New("workspace not found in context")

// WorkspaceProvider はセッションIDに対応するWorkspaceを返す。
// workspace.Registryが実装する。
type WorkspaceProvider interface {
	Get(sessionID string) *workspace.Workspace
}

// SessionConfig はセッションCookieの設定。
type SessionConfig struct {
	CookieDomain string
	CookieSecure bool
	MaxAge       time.Duration
}

// NewSessionMiddleware はHTTP Only CookieからブラウザセッションIDを読み取り、
// 対応するWorkspaceをリクエストコンテキストに注入するミドルウェアを返す。
// Cookieが無いか形式が不正な場合は新しいIDを発行する。
// 認証状態の判定は各ハンドラーとナビゲーションガードが行う。
func NewSessionMiddleware(workspaces WorkspaceProvider, config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := ""
			if cookie, err := r.Cookie(SessionCookieName); err == nil && auth.ValidSessionID(cookie.Value) {
				sessionID = cookie.Value
			}

			if sessionID == "" {
				id, err := auth.GenerateSessionID()
				if err != nil {
					slog.Error("failed to generate session id",
						slog.String("error", err.Error()),
					)
					WriteInternalServerError(w)
					return
				}
				sessionID = id
				setSessionCookie(w, sessionID, config)
			}

			ws := workspaces.Get(sessionID)
			ctx := ContextWithWorkspace(r.Context(), sessionID, ws)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func setSessionCookie(w http.ResponseWriter, sessionID string, config SessionConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   int(config.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionIDFromContext はリクエストコンテキストからブラウザセッションIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SessionIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(sessionIDContextKey).(string)
	if !ok || id == "" {
		return "", errors.New("session ID not found in context")
	}
	return id, nil
}

// WorkspaceFromContext はリクエストコンテキストからWorkspaceを取得する。
func WorkspaceFromContext(ctx context.Context) (*workspace.Workspace, error) {
	ws, ok := ctx.Value(workspaceContextKey).(*workspace.Workspace)
	if !ok || ws == nil {
		return nil, errNoWorkspace
	}
	return ws, nil
}

// ContextWithWorkspace はコンテキストにセッションIDとWorkspaceを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithWorkspace(ctx context.Context, sessionID string, ws *workspace.Workspace) context.Context {
	ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
	return context.WithValue(ctx, workspaceContextKey, ws)
}
