// Package auth はブラウザセッションごとの認証状態ストアを提供する。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"

	"github.com/hitoshi/vulnerametrics/internal/identity"
	"github.com/hitoshi/vulnerametrics/internal/model"
)

// 状態に記録するメッセージ。
const (
	msgCheckFailed        = "Authentication error"
	msgLoginFailed        = "Login failed"
	msgLogoutFailed       = "Logout failed"
	msgRegistrationFailed = "Registration failed"
	msgConfirmFailed      = "Confirmation failed"
	msgResetFailed        = "Password reset failed"

	// ResetRequestedMessage はリセットコード送信要求の結果メッセージ。
	// アカウントの有無にかかわらず同じ文言を返す。
	ResetRequestedMessage = "If an account exists with this email, you will receive a verification code."
)

// ErrResetRequestFailed はリセットコード送信の失敗を表す。
// アカウントの有無を推測させないよう原因は含めない。
var ErrResetRequestFailed = errors.New("Failed to send verification code. Please try again.")

// Status は認証状態を表す。
type Status int

const (
	StatusUnknown Status = iota
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Identity はサインイン中のユーザーの識別情報。
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// State はストアの状態のスナップショット。
type State struct {
	Status     Status
	User       *Identity
	Attributes map[string]string
	Loading    bool
	Error      string
}

// IsAuthenticated は認証済みかを返す。
func (s State) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated
}

// IdentityClient はストアが使用するIdPアクセサ。
// identity.SessionClientが実装する。
type IdentityClient interface {
	SignIn(ctx context.Context, username, password string) (*identity.SignInResult, error)
	SignUp(ctx context.Context, username, password string, attributes map[string]string) (*identity.SignUpResult, error)
	ConfirmSignUp(ctx context.Context, username, code string) error
	CurrentUser(ctx context.Context) (*identity.User, error)
	FetchUserAttributes(ctx context.Context) (map[string]string, error)
	SignOut(ctx context.Context) error
	Forget(ctx context.Context) error
	ResetPassword(ctx context.Context, username string) error
	ConfirmResetPassword(ctx context.Context, username, code, newPassword string) error
}

// Recorder は認証操作の結果を記録する。
type Recorder interface {
	RecordAuthOperation(operation, result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthOperation(string, string) {}

// Store は1つのブラウザセッションの認証状態を保持する。
// 操作はopMuで直列化され、状態はmuで保護される。
type Store struct {
	client   IdentityClient
	recorder Recorder

	opMu sync.Mutex

	mu    sync.RWMutex
	state State
}

// NewStore はStoreを生成する。recorderはnilでもよい。
func NewStore(client IdentityClient, recorder Recorder) *Store {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Store{
		client:   client,
		recorder: recorder,
		state:    State{Status: StatusUnknown},
	}
}

// State は現在の状態のコピーを返す。
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	st.Attributes = maps.Clone(st.Attributes)
	return st
}

// CheckSession はIdPに現在のユーザーと属性を問い合わせ、状態を更新する。
// 失敗した場合は未認証とし、エラーを記録して返す。
func (s *Store) CheckSession(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.begin()
	defer s.end()

	return s.checkSession(ctx)
}

func (s *Store) checkSession(ctx context.Context) error {
	user, err := s.client.CurrentUser(ctx)
	var attrs map[string]string
	if err == nil {
		attrs, err = s.client.FetchUserAttributes(ctx)
	}
	if err != nil {
		s.mu.Lock()
		s.state.Status = StatusUnauthenticated
		s.state.User = nil
		s.state.Attributes = nil
		s.state.Error = errorMessage(err, msgCheckFailed)
		s.mu.Unlock()
		s.recorder.RecordAuthOperation("check_session", "unauthenticated")
		return err
	}

	s.mu.Lock()
	s.state.Status = StatusAuthenticated
	s.state.User = &Identity{UserID: user.UserID, Username: user.Username}
	s.state.Attributes = attrs
	s.mu.Unlock()
	s.recorder.RecordAuthOperation("check_session", "authenticated")
	return nil
}

// SignIn はサインインし、完了した場合はセッションを確認して識別情報を返す。
// 追加ステップが必要な場合は*model.ChallengeRequiredErrorを返し、認証済みにはしない。
func (s *Store) SignIn(ctx context.Context, username, password string) (*Identity, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.begin()
	defer s.end()

	return s.signIn(ctx, username, password, "sign_in")
}

func (s *Store) signIn(ctx context.Context, username, password, operation string) (*Identity, error) {
	result, err := s.client.SignIn(ctx, username, password)
	if err != nil {
		s.reset(errorMessage(err, msgLoginFailed))
		s.recorder.RecordAuthOperation(operation, "failure")
		slog.Info("sign in failed",
			slog.String("event", "sign_in_failed"),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if !result.Complete {
		s.reset("")
		s.recorder.RecordAuthOperation(operation, "challenge")
		return nil, &model.ChallengeRequiredError{NextStep: result.NextStep}
	}

	if err := s.checkSession(ctx); err != nil {
		s.recorder.RecordAuthOperation(operation, "failure")
		return nil, err
	}

	s.recorder.RecordAuthOperation(operation, "success")
	return s.State().User, nil
}

// SignUp はユーザーを登録する。登録が即時完了した場合は同じ資格情報でサインインする。
// 確認が必要な場合は認証状態を変えずに未完了の結果を返す。
func (s *Store) SignUp(ctx context.Context, username, password string, attributes map[string]string) (*identity.SignUpResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.begin()
	defer s.end()

	result, err := s.client.SignUp(ctx, username, password, attributes)
	if err != nil {
		s.setError(errorMessage(err, msgRegistrationFailed))
		s.recorder.RecordAuthOperation("sign_up", "failure")
		return nil, err
	}

	if !result.Complete {
		s.recorder.RecordAuthOperation("sign_up", "pending")
		return result, nil
	}

	s.recorder.RecordAuthOperation("sign_up", "success")
	if _, err := s.signIn(ctx, username, password, "sign_up_sign_in"); err != nil {
		return result, err
	}
	return result, nil
}

// ConfirmSignUp は登録確認コードを検証する。成功しても認証状態は変えない。
func (s *Store) ConfirmSignUp(ctx context.Context, username, code string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.begin()
	defer s.end()

	if err := s.client.ConfirmSignUp(ctx, username, code); err != nil {
		s.setError(errorMessage(err, msgConfirmFailed))
		s.recorder.RecordAuthOperation("confirm_sign_up", "failure")
		return err
	}

	s.recorder.RecordAuthOperation("confirm_sign_up", "success")
	return nil
}

// SignOut はグローバルサインアウトを行う。
// IdPに到達できなかった場合はローカルのトークンを破棄して未認証とし、nilを返す。
// IdPが拒否した場合は状態を維持してエラーを返す。
func (s *Store) SignOut(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.begin()
	defer s.end()

	err := s.client.SignOut(ctx)
	switch {
	case err == nil:
		s.reset("")
		s.recorder.RecordAuthOperation("sign_out", "success")
		return nil

	case model.IsNetworkError(err):
		if forgetErr := s.client.Forget(ctx); forgetErr != nil {
			slog.Error("failed to forget local tokens",
				slog.String("error", forgetErr.Error()),
			)
		}
		s.reset(errorMessage(err, msgLogoutFailed))
		s.recorder.RecordAuthOperation("sign_out", "local_only")
		slog.Warn("sign out completed locally",
			slog.String("event", "sign_out_local_only"),
			slog.String("error", err.Error()),
		)
		return nil

	default:
		s.setError(errorMessage(err, msgLogoutFailed))
		s.recorder.RecordAuthOperation("sign_out", "failure")
		return err
	}
}

// RequestPasswordReset はリセットコードを送信する。
// 未登録の識別子でも成功時と同じメッセージを返す。
func (s *Store) RequestPasswordReset(ctx context.Context, username string) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.begin()
	defer s.end()

	err := s.client.ResetPassword(ctx, username)
	if err == nil || errors.Is(err, model.ErrUserNotFound) {
		s.recorder.RecordAuthOperation("request_password_reset", "success")
		return ResetRequestedMessage, nil
	}

	slog.Warn("password reset request failed",
		slog.String("event", "password_reset_request_failed"),
		slog.String("error", err.Error()),
	)
	s.setError(ErrResetRequestFailed.Error())
	s.recorder.RecordAuthOperation("request_password_reset", "failure")
	return "", ErrResetRequestFailed
}

// ConfirmPasswordReset は確認コードと新しいパスワードでリセットを完了する。
// コードの誤りとパスワードポリシー違反は別のエラー種別のまま返す。
func (s *Store) ConfirmPasswordReset(ctx context.Context, username, code, newPassword string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.begin()
	defer s.end()

	if err := s.client.ConfirmResetPassword(ctx, username, code, newPassword); err != nil {
		s.setError(errorMessage(err, msgResetFailed))
		s.recorder.RecordAuthOperation("confirm_password_reset", "failure")
		return err
	}

	s.recorder.RecordAuthOperation("confirm_password_reset", "success")
	return nil
}

func (s *Store) begin() {
	s.mu.Lock()
	s.state.Loading = true
	s.state.Error = ""
	s.mu.Unlock()
}

func (s *Store) end() {
	s.mu.Lock()
	s.state.Loading = false
	s.mu.Unlock()
}

func (s *Store) setError(msg string) {
	s.mu.Lock()
	s.state.Error = msg
	s.mu.Unlock()
}

// reset は未認証状態に戻す。
func (s *Store) reset(msg string) {
	s.mu.Lock()
	s.state.Status = StatusUnauthenticated
	s.state.User = nil
	s.state.Attributes = nil
	s.state.Error = msg
	s.mu.Unlock()
}

// errorMessage は状態に記録する表示用メッセージを返す。
// 通信エラーなどIdPの応答がない場合はfallbackを使う。
func errorMessage(err error, fallback string) string {
	if err == nil || model.IsNetworkError(err) {
		return fallback
	}
	var provErr *model.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Error()
	}
	if errors.Is(err, model.ErrNotAuthenticated) {
		return err.Error()
	}
	return fallback
}
