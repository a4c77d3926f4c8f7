package handler

import (
	"net/http"
	"strings"

	"github.com/hitoshi/vulnerametrics/internal/auth"
	"github.com/hitoshi/vulnerametrics/internal/navigation"
	"github.com/hitoshi/vulnerametrics/internal/validation"
)

// 成功時に通知する文言。
const (
	msgRegistrationConfirmed = "Registration confirmed. Please sign in."
	msgPasswordResetDone     = "Your password has been reset. Please sign in."
	msgSignedOut             = "You have been signed out."
)

// AuthHandler は認証関連のHTTPハンドラー。
// 状態はリクエストのWorkspaceが持つauth.Storeに委譲する。
type AuthHandler struct{}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Redirect string `json:"redirect"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

type confirmRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type sessionResponse struct {
	Authenticated bool              `json:"authenticated"`
	User          *auth.Identity    `json:"user,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

type loginResponse struct {
	User     *auth.Identity `json:"user"`
	Redirect string         `json:"redirect"`
}

type registerResponse struct {
	UserID   string `json:"user_id"`
	Complete bool   `json:"complete"`
	NextStep string `json:"next_step,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Me は現在のセッションを確認してユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r)
	if !ok {
		return
	}

	if err := ws.Auth.CheckSession(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}

	st := ws.Auth.State()
	writeJSON(w, http.StatusOK, sessionResponse{
		Authenticated: st.IsAuthenticated(),
		User:          st.User,
		Attributes:    st.Attributes,
	})
}

// Login はメールアドレスとパスワードでサインインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r)
	if !ok {
		return
	}

	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	email := validation.SanitizeInput(req.Email)
	if !validateFields(w,
		field{"email", validation.ValidateEmail(email)},
		field{"password", requirePassword(req.Password)},
	) {
		return
	}

	user, err := ws.Auth.SignIn(r.Context(), email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		User:     user,
		Redirect: navigation.SafeRedirect(req.Redirect),
	})
}

// Register はユーザーを登録する。確認が必要な場合は次ステップを返す。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r)
	if !ok {
		return
	}

	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	email := validation.SanitizeInput(req.Email)
	nickname := validation.SanitizeInput(req.Nickname)
	if !validateFields(w,
		field{"email", validation.ValidateEmail(email)},
		field{"nickname", validation.ValidateNickname(nickname)},
		field{"password", validation.ValidatePassword(req.Password)},
	) {
		return
	}

	attributes := map[string]string{
		"email":    email,
		"nickname": nickname,
	}
	result, err := ws.Auth.SignUp(r.Context(), email, req.Password, attributes)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		UserID:   result.UserID,
		Complete: result.Complete,
		NextStep: result.NextStep,
	})
}

// Confirm は登録確認コードを検証する。
// POST /api/auth/confirm
func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r)
	if !ok {
		return
	}

	var req confirmRequest
	if !decodeBody(w, r, &req) {
		return
	}

	email := validation.SanitizeInput(req.Email)
	code := strings.TrimSpace(req.Code)
	if !validateFields(w,
		field{"email", validation.ValidateEmail(email)},
		field{"code", validation.ValidateVerificationCode(code)},
	) {
		return
	}

	if err := ws.Auth.ConfirmSignUp(r.Context(), email, code); err != nil {
		handleServiceError(w, err)
		return
	}

	ws.Notifications.ShowSuccess(msgRegistrationConfirmed, 0)
	writeJSON(w, http.StatusOK, messageResponse{Message: msgRegistrationConfirmed})
}

// Logout はサインアウトする。IdPに到達できない場合もローカルの状態は破棄される。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r)
	if !ok {
		return
	}

	if err := ws.Auth.SignOut(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}

	// IdPに到達できなかった場合はローカルのみサインアウトし、失敗として通知する
	if msg := ws.Auth.State().Error; msg != "" {
		ws.Notifications.ShowError(msg, 0)
		writeJSON(w, http.StatusOK, messageResponse{Message: msg})
		return
	}

	ws.Notifications.ShowSuccess(msgSignedOut, 0)
	writeJSON(w, http.StatusOK, messageResponse{Message: msgSignedOut})
}

// ForgotPassword はパスワードリセットコードの送信を要求する。
// アカウントの有無にかかわらず同じ応答を返す。
// POST /api/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r)
	if !ok {
		return
	}

	var req forgotPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	email := validation.SanitizeInput(req.Email)
	if !validateFields(w, field{"email", validation.ValidateEmail(email)}) {
		return
	}

	msg, err := ws.Auth.RequestPasswordReset(r.Context(), email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

// ResetPassword は確認コードと新しいパスワードでリセットを完了する。
// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r)
	if !ok {
		return
	}

	var req resetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}

	email := validation.SanitizeInput(req.Email)
	code := strings.TrimSpace(req.Code)
	if !validateFields(w,
		field{"email", validation.ValidateEmail(email)},
		field{"code", validation.ValidateVerificationCode(code)},
		field{"password", validation.ValidatePassword(req.NewPassword)},
	) {
		return
	}

	if err := ws.Auth.ConfirmPasswordReset(r.Context(), email, code, req.NewPassword); err != nil {
		handleServiceError(w, err)
		return
	}

	ws.Notifications.ShowSuccess(msgPasswordResetDone, 0)
	writeJSON(w, http.StatusOK, messageResponse{Message: msgPasswordResetDone})
}

// requirePassword はサインイン時のパスワード入力を検証する。
// 既存アカウントのポリシーは変わりうるため、空でないことのみ確認する。
func requirePassword(password string) validation.Result {
	if password == "" {
		return validation.Result{Valid: false, Error: "Password is required"}
	}
	return validation.Result{Valid: true}
}
