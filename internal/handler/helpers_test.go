package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/vulnerametrics/internal/auth"
	"github.com/hitoshi/vulnerametrics/internal/credits"
	"github.com/hitoshi/vulnerametrics/internal/identity"
	"github.com/hitoshi/vulnerametrics/internal/middleware"
	"github.com/hitoshi/vulnerametrics/internal/model"
	"github.com/hitoshi/vulnerametrics/internal/notification"
	"github.com/hitoshi/vulnerametrics/internal/vulnapi"
	"github.com/hitoshi/vulnerametrics/internal/workspace"
)

// --- モック定義 ---

// fakeIdentity はauth.IdentityClientとvulnapi.TokenSourceのテスト実装。
// 関数フィールドが未設定の場合はサインイン状態を保持する既定動作になる。
type fakeIdentity struct {
	mu       sync.Mutex
	signedIn bool
	calls    []string

	signInFn        func(ctx context.Context, username, password string) (*identity.SignInResult, error)
	signUpFn        func(ctx context.Context, username, password string, attrs map[string]string) (*identity.SignUpResult, error)
	confirmSignUpFn func(ctx context.Context, username, code string) error
	signOutFn       func(ctx context.Context) error
	resetFn         func(ctx context.Context, username string) error
	confirmResetFn  func(ctx context.Context, username, code, newPassword string) error
}

func (f *fakeIdentity) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeIdentity) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeIdentity) setSignedIn(v bool) {
	f.mu.Lock()
	f.signedIn = v
	f.mu.Unlock()
}

func (f *fakeIdentity) isSignedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signedIn
}

func (f *fakeIdentity) SignIn(ctx context.Context, username, password string) (*identity.SignInResult, error) {
	f.record("SignIn")
	if f.signInFn != nil {
		res, err := f.signInFn(ctx, username, password)
		if err == nil && res.Complete {
			f.setSignedIn(true)
		}
		return res, err
	}
	f.setSignedIn(true)
	return &identity.SignInResult{Complete: true, NextStep: identity.StepDone}, nil
}

func (f *fakeIdentity) SignUp(ctx context.Context, username, password string, attrs map[string]string) (*identity.SignUpResult, error) {
	f.record("SignUp")
	if f.signUpFn != nil {
		return f.signUpFn(ctx, username, password, attrs)
	}
	return &identity.SignUpResult{UserID: "sub-1", NextStep: identity.StepConfirmSignUp}, nil
}

func (f *fakeIdentity) ConfirmSignUp(ctx context.Context, username, code string) error {
	f.record("ConfirmSignUp")
	if f.confirmSignUpFn != nil {
		return f.confirmSignUpFn(ctx, username, code)
	}
	return nil
}

func (f *fakeIdentity) CurrentUser(ctx context.Context) (*identity.User, error) {
	f.record("CurrentUser")
	if !f.isSignedIn() {
		return nil, model.ErrNotAuthenticated
	}
	return &identity.User{UserID: "sub-1", Username: "alice@example.com"}, nil
}

func (f *fakeIdentity) FetchUserAttributes(ctx context.Context) (map[string]string, error) {
	if !f.isSignedIn() {
		return nil, model.ErrNotAuthenticated
	}
	return map[string]string{"email": "alice@example.com", "nickname": "alice"}, nil
}

func (f *fakeIdentity) SignOut(ctx context.Context) error {
	f.record("SignOut")
	if f.signOutFn != nil {
		if err := f.signOutFn(ctx); err != nil {
			return err
		}
	}
	f.setSignedIn(false)
	return nil
}

func (f *fakeIdentity) Forget(ctx context.Context) error {
	f.record("Forget")
	f.setSignedIn(false)
	return nil
}

func (f *fakeIdentity) ResetPassword(ctx context.Context, username string) error {
	f.record("ResetPassword")
	if f.resetFn != nil {
		return f.resetFn(ctx, username)
	}
	return nil
}

func (f *fakeIdentity) ConfirmResetPassword(ctx context.Context, username, code, newPassword string) error {
	f.record("ConfirmResetPassword")
	if f.confirmResetFn != nil {
		return f.confirmResetFn(ctx, username, code, newPassword)
	}
	return nil
}

func (f *fakeIdentity) AccessToken(ctx context.Context) (string, error) {
	if !f.isSignedIn() {
		return "", model.ErrNotAuthenticated
	}
	return "access-token", nil
}

// --- テストヘルパー ---

// newTestWorkspace はfakeIdentityとAPIのURLからWorkspaceを組み立てる。
func newTestWorkspace(id *fakeIdentity, apiURL string) *workspace.Workspace {
	notifications := notification.NewStore(0, nil)
	api := vulnapi.NewClient(apiURL, nil).Bind(id)
	return &workspace.Workspace{
		ID:            "test-session",
		Auth:          auth.NewStore(id, nil),
		Credits:       credits.NewStore(api, notifications),
		Notifications: notifications,
		API:           api,
	}
}

// withWorkspace はテスト用にリクエストコンテキストへWorkspaceを注入するヘルパー。
func withWorkspace(r *http.Request, ws *workspace.Workspace) *http.Request {
	return r.WithContext(middleware.ContextWithWorkspace(r.Context(), ws.ID, ws))
}

// jsonRequest はJSONボディを持つリクエストを生成する。
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseErrorBody はレスポンスボディから統一エラーをパースするヘルパー。
func parseErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v (%s)", err, w.Body.String())
	}
	return body
}

// unreachableAPI は呼び出されるとテストを失敗させるAPIサーバーを起動する。
func unreachableAPI(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected upstream call: %s %s", r.Method, r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func validLogin() map[string]string {
	return map[string]string{"email": "alice@example.com", "password": "Secr3t!pass"}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
