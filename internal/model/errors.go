// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, remote, system
	Action   string // ユーザー向け対処方法
	NextStep string // 追加認証が必要な場合の次ステップ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotAuthenticated  = "NOT_AUTHENTICATED"
	ErrCodeInvalidCredential = "INVALID_CREDENTIAL"
	ErrCodeNotConfirmed      = "USER_NOT_CONFIRMED"
	ErrCodeChallengeRequired = "CHALLENGE_REQUIRED"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeInvalidCode       = "INVALID_CODE"
	ErrCodeExpiredCode       = "EXPIRED_CODE"
	ErrCodeInvalidPassword   = "INVALID_PASSWORD"
	ErrCodeUsernameExists    = "USERNAME_EXISTS"
	ErrCodeThrottled         = "THROTTLED"
	ErrCodeNetworkFailure    = "NETWORK_FAILURE"
	ErrCodeNotFound          = "NOT_FOUND"
)

// 認証・API呼び出しのエラー分類。
// IdPのエラーはProviderErrorでラップされ、errors.Isで種別を判定できる。
var (
	ErrNotAuthenticated  = errors.New("User not authenticated")
	ErrInvalidCredential = errors.New("Incorrect username or password.")
	ErrNotConfirmed      = errors.New("User is not confirmed.")
	ErrInvalidCode       = errors.New("Invalid verification code provided, please try again.")
	ErrExpiredCode       = errors.New("Invalid code provided, please request a code again.")
	ErrInvalidPassword   = errors.New("Password does not conform to policy.")
	ErrUsernameExists    = errors.New("User already exists")
	ErrUserNotFound      = errors.New("User does not exist.")
	ErrThrottled         = errors.New("Attempt limit exceeded, please try after some time.")
	ErrProviderRejected  = errors.New("identity provider rejected the request")
)

// ProviderError はIdPが返したエラーを表す。
// Kindは上記の分類、MessageはIdP自身のメッセージ。
type ProviderError struct {
	Kind    error
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// ChallengeRequiredError はサインインに追加の検証ステップが必要なことを表す。
type ChallengeRequiredError struct {
	NextStep string
}

func (e *ChallengeRequiredError) Error() string {
	return fmt.Sprintf("additional sign-in step required: %s", e.NextStep)
}

// ValidationError は入力形式の検証失敗を表す。ネットワークには到達しない。
type ValidationError struct {
	Field   string
	Message string
	Code    string // 統一エラー形式のcode。HTTPステータス相当の文字列
}

func (e *ValidationError) Error() string {
	return e.Message
}

// RemoteError はバックエンドAPIの非2xxレスポンスを表す。
// 統一形式 {message, code} に対応する。
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// NetworkError はレスポンスを受信できなかった通信エラーを表す。
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// IsNetworkError はerrがNetworkErrorを含むかを判定する。
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// NewNotAuthenticatedError は未認証エラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "Authentication is required.",
		Category: "auth",
		Action:   "Please sign in.",
	}
}

// NewValidationFailedError は入力検証エラーを生成する。
func NewValidationFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: "validation",
		Action:   "Please correct the highlighted field and try again.",
	}
}

// NewChallengeRequiredError は追加認証ステップ要求エラーを生成する。
func NewChallengeRequiredError(nextStep string) *APIError {
	return &APIError{
		Code:     ErrCodeChallengeRequired,
		Message:  "An additional verification step is required to sign in.",
		Category: "auth",
		Action:   "Complete the requested verification step.",
		NextStep: nextStep,
	}
}

// NewNetworkFailureError は通信エラーを生成する。
func NewNetworkFailureError() *APIError {
	return &APIError{
		Code:     ErrCodeNetworkFailure,
		Message:  "The service could not be reached.",
		Category: "system",
		Action:   "Check your connection and try again later.",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(what string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s was not found.", what),
		Category: "validation",
		Action:   "Check the identifier and try again.",
	}
}
