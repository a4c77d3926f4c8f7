// Package identity はマネージドIdPとの境界を提供する。
// Providerはユーザープールへの呼び出し、SessionClientはブラウザセッションに
// 紐付いたトークンの保存と遅延リフレッシュを担う。
package identity

import (
	"context"

	"github.com/hitoshi/vulnerametrics/internal/model"
)

// 追加ステップの識別子。
const (
	StepConfirmSignUp = "CONFIRM_SIGN_UP"
	StepDone          = "DONE"
)

// SignInResult はサインイン結果を表す。
// Completeがfalseの場合はNextStepに追加ステップ名が入り、Tokensはnil。
// Usernameはユーザープール上のユーザー名で、サインインに使ったメールアドレス等の
// エイリアスとは異なることがある。空の場合は入力したユーザー名を使う。
type SignInResult struct {
	Complete bool
	NextStep string
	Tokens   *model.Tokens
	Username string
}

// SignUpResult はサインアップ結果を表す。
type SignUpResult struct {
	UserID   string
	Complete bool
	NextStep string
}

// User はIdPが返すユーザー情報。
type User struct {
	UserID     string
	Username   string
	Attributes map[string]string
}

// Provider はIdPの操作を抽象化する。
// 失敗は*model.ProviderErrorまたは*model.NetworkErrorで返す。
type Provider interface {
	SignIn(ctx context.Context, username, password string) (*SignInResult, error)
	SignUp(ctx context.Context, username, password string, attributes map[string]string) (*SignUpResult, error)
	ConfirmSignUp(ctx context.Context, username, code string) error
	GetUser(ctx context.Context, accessToken string) (*User, error)
	Refresh(ctx context.Context, username, refreshToken string) (*model.Tokens, error)
	GlobalSignOut(ctx context.Context, accessToken string) error
	ForgotPassword(ctx context.Context, username string) error
	ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error
}
