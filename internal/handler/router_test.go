package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/vulnerametrics/internal/middleware"
	"github.com/hitoshi/vulnerametrics/internal/workspace"
)

type stubHealthChecker struct {
	err error
}

func (s stubHealthChecker) Ping(ctx context.Context) error {
	return s.err
}

// newTestRouter はRegistryとfakeIdentityを使って完全なルーターを構成する。
func newTestRouter(t *testing.T, id *fakeIdentity, apiURL string, checker HealthChecker) (http.Handler, *workspace.Registry) {
	t.Helper()

	registry := workspace.NewRegistry(func(sessionID string) *workspace.Workspace {
		ws := newTestWorkspace(id, apiURL)
		ws.ID = sessionID
		return ws
	}, workspace.RegistryConfig{IdleTTL: time.Hour}, nil)
	t.Cleanup(registry.Stop)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Workspaces:    registry,
		SessionConfig: middleware.SessionConfig{MaxAge: time.Hour},
		RateLimiter:   rl,
		HealthChecker: checker,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	})
	return router, registry
}

func cookieFrom(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name       string
		checker    HealthChecker
		wantStatus int
		wantBody   string
	}{
		{"no checker", nil, http.StatusOK, `"status":"ok"`},
		{"healthy", stubHealthChecker{}, http.StatusOK, `"status":"ok"`},
		{"unhealthy", stubHealthChecker{err: errors.New("connection refused")}, http.StatusServiceUnavailable, `"status":"unavailable"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, registry := newTestRouter(t, &fakeIdentity{}, unreachableAPI(t), tt.checker)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s", w.Body.String())
			}
			if cookieFrom(w.Result(), middleware.SessionCookieName) != nil {
				t.Error("health check must not issue a session")
			}
			if registry.Len() != 0 {
				t.Errorf("registry len = %d, want 0", registry.Len())
			}
		})
	}
}

func TestRouter_MetricsAndSecurityHeaders(t *testing.T) {
	router, _ := newTestRouter(t, &fakeIdentity{}, unreachableAPI(t), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK || w.Body.String() != "# metrics" {
		t.Errorf("status = %d, body = %q", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be applied")
	}
}

func TestRouter_CSRFToken(t *testing.T) {
	router, _ := newTestRouter(t, &fakeIdentity{}, unreachableAPI(t), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	cookie := cookieFrom(w.Result(), "csrf_token")
	if cookie == nil || body["token"] == "" || cookie.Value != body["token"] {
		t.Errorf("token = %q, cookie = %v", body["token"], cookie)
	}
}

func TestRouter_LoginFlow(t *testing.T) {
	router, registry := newTestRouter(t, &fakeIdentity{}, unreachableAPI(t), nil)

	// 1. 未認証でホームへ: セッションが発行されログインへ誘導される
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("home status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "/login?redirect=%2F" {
		t.Errorf("Location = %q", loc)
	}
	sid := cookieFrom(w.Result(), middleware.SessionCookieName)
	if sid == nil || !sid.HttpOnly {
		t.Fatalf("session cookie = %v, want HttpOnly cookie", sid)
	}

	// 2. CSRFトークン取得
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	csrf := cookieFrom(w.Result(), "csrf_token")
	if csrf == nil {
		t.Fatal("csrf cookie missing")
	}

	// 3. CSRFヘッダーなしのログインは拒否される
	req := jsonRequest(t, http.MethodPost, "/api/auth/login", validLogin())
	req.AddCookie(sid)
	req.AddCookie(csrf)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("login without csrf header status = %d, want %d", w.Code, http.StatusForbidden)
	}

	// 4. ログイン
	req = jsonRequest(t, http.MethodPost, "/api/auth/login", validLogin())
	req.AddCookie(sid)
	req.AddCookie(csrf)
	req.Header.Set("X-CSRF-Token", csrf.Value)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}
	if cookieFrom(w.Result(), middleware.SessionCookieName) != nil {
		t.Error("existing session should be reused")
	}

	// 5. 同じセッションでホームが表示される
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(sid)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("home status after login = %d, want %d", w.Code, http.StatusOK)
	}

	ws, ok := registry.Lookup(sid.Value)
	if !ok || !ws.Auth.State().IsAuthenticated() {
		t.Error("workspace for the session should be authenticated")
	}
}

func TestRouter_InvalidSessionCookieIsReplaced(t *testing.T) {
	router, _ := newTestRouter(t, &fakeIdentity{}, unreachableAPI(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "forged"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	sid := cookieFrom(w.Result(), middleware.SessionCookieName)
	if sid == nil || sid.Value == "forged" || len(sid.Value) != 64 {
		t.Errorf("session cookie = %v, want a fresh id", sid)
	}
}

func TestRouter_AuthRateLimit(t *testing.T) {
	id := &fakeIdentity{}
	registry := workspace.NewRegistry(func(sessionID string) *workspace.Workspace {
		return newTestWorkspace(id, unreachableAPI(t))
	}, workspace.RegistryConfig{IdleTTL: time.Hour}, nil)
	t.Cleanup(registry.Stop)

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(120, 2))
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{Workspaces: registry, RateLimiter: rl})

	sid := &http.Cookie{Name: middleware.SessionCookieName, Value: strings.Repeat("cd", 32)}
	csrf := &http.Cookie{Name: "csrf_token", Value: "token"}

	var last int
	for i := 0; i < 3; i++ {
		req := jsonRequest(t, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "a@example.com"})
		req.AddCookie(sid)
		req.AddCookie(csrf)
		req.Header.Set("X-CSRF-Token", "token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		last = w.Code
	}

	if last != http.StatusTooManyRequests {
		t.Errorf("third auth request status = %d, want %d", last, http.StatusTooManyRequests)
	}
}

func TestRouter_AuthRateLimitWithoutCookies(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		wantLast   int
	}{
		// 転送ヘッダーを信頼しない場合は全て同じRemoteAddrとして数える
		{"remote addr", false, http.StatusTooManyRequests},
		// 信頼する場合はX-Forwarded-Forごとに別クライアントになる
		{"forwarded for", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := &fakeIdentity{}
			registry := workspace.NewRegistry(func(sessionID string) *workspace.Workspace {
				return newTestWorkspace(id, unreachableAPI(t))
			}, workspace.RegistryConfig{IdleTTL: time.Hour}, nil)
			t.Cleanup(registry.Stop)

			rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(120, 2))
			t.Cleanup(rl.Stop)

			router := NewRouter(&RouterDeps{Workspaces: registry, RateLimiter: rl, TrustProxyHeaders: tt.trustProxy})

			var last int
			for i := 0; i < 3; i++ {
				req := jsonRequest(t, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "a@example.com"})
				req.RemoteAddr = "10.0.0.2:5000"
				req.Header.Set("X-Forwarded-For", "198.51.100."+string(rune('1'+i)))
				req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "token"})
				req.Header.Set("X-CSRF-Token", "token")
				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)
				last = w.Code
			}

			if last != tt.wantLast {
				t.Errorf("third request status = %d, want %d", last, tt.wantLast)
			}
		})
	}
}
