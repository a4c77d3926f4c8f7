// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/vulnerametrics/internal/auth"
	"github.com/hitoshi/vulnerametrics/internal/middleware"
	"github.com/hitoshi/vulnerametrics/internal/model"
	"github.com/hitoshi/vulnerametrics/internal/validation"
	"github.com/hitoshi/vulnerametrics/internal/workspace"
)

// リクエストボディの上限。
const maxBodyBytes = 64 << 10

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeBody はリクエストボディをvにデコードする。失敗時は400を書き込みfalseを返す。
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "Failed to parse the request body.",
			Category: "validation",
			Action:   "Send a valid JSON body.",
		})
		return false
	}
	return true
}

// field は検証対象の入力項目。
type field struct {
	name   string
	result validation.Result
}

// validateFields は最初に失敗した項目のエラーを書き込みfalseを返す。
func validateFields(w http.ResponseWriter, fields ...field) bool {
	for _, f := range fields {
		if !f.result.Valid {
			apiErr := model.NewValidationFailedError(f.result.Error)
			apiErr.Action = "Check the " + f.name + " field and try again."
			middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
			return false
		}
	}
	return true
}

// currentWorkspace はリクエストのWorkspaceを返す。見つからない場合は500を書き込む。
func currentWorkspace(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, bool) {
	ws, err := middleware.WorkspaceFromContext(r.Context())
	if err != nil {
		slog.Error("workspace missing from request context",
			slog.String("path", r.URL.Path),
		)
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	return ws, true
}

// handleServiceError はストアやAPIクライアントから返されたエラーを
// 適切なHTTPステータスコードと統一エラーフォーマットに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	statusCode, apiErr := toAPIError(err)
	if statusCode >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.Int("status", statusCode),
			slog.String("error", err.Error()),
		)
	}
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// toAPIError はエラー種別からHTTPステータスと統一エラーを決定する。
func toAPIError(err error) (int, *model.APIError) {
	var (
		validationErr *model.ValidationError
		challengeErr  *model.ChallengeRequiredError
		remoteErr     *model.RemoteError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, model.NewValidationFailedError(validationErr.Message)

	case errors.As(err, &challengeErr):
		return http.StatusConflict, model.NewChallengeRequiredError(challengeErr.NextStep)

	case errors.Is(err, model.ErrNotAuthenticated):
		return http.StatusUnauthorized, model.NewNotAuthenticatedError()

	case errors.Is(err, auth.ErrResetRequestFailed):
		return http.StatusInternalServerError, &model.APIError{
			Code:     "RESET_REQUEST_FAILED",
			Message:  auth.ErrResetRequestFailed.Error(),
			Category: "system",
			Action:   "Please try again later.",
		}

	case errors.As(err, &remoteErr):
		category := "remote"
		if remoteErr.StatusCode == http.StatusUnauthorized || remoteErr.StatusCode == http.StatusForbidden {
			category = "auth"
		}
		status := remoteErr.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		return status, &model.APIError{
			Code:     remoteErr.Code,
			Message:  remoteErr.Message,
			Category: category,
			Action:   "Please try again later.",
		}

	case model.IsNetworkError(err):
		return http.StatusBadGateway, model.NewNetworkFailureError()
	}

	// 未登録の識別子は誤った資格情報と区別しない
	if errors.Is(err, model.ErrUserNotFound) {
		return http.StatusUnauthorized, &model.APIError{
			Code:     model.ErrCodeInvalidCredential,
			Message:  model.ErrInvalidCredential.Error(),
			Category: "auth",
			Action:   "Check your email and password.",
		}
	}

	if status, code, action, ok := providerErrorStatus(err); ok {
		return status, &model.APIError{
			Code:     code,
			Message:  err.Error(),
			Category: "auth",
			Action:   action,
		}
	}

	return http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}

// providerErrorStatus はIdPエラーの種別ごとのステータスを返す。
// メッセージはIdP自身の文言をそのまま使う。
func providerErrorStatus(err error) (int, string, string, bool) {
	switch {
	case errors.Is(err, model.ErrInvalidCredential):
		return http.StatusUnauthorized, model.ErrCodeInvalidCredential, "Check your email and password.", true
	case errors.Is(err, model.ErrNotConfirmed):
		return http.StatusForbidden, model.ErrCodeNotConfirmed, "Confirm your email address first.", true
	case errors.Is(err, model.ErrInvalidCode):
		return http.StatusBadRequest, model.ErrCodeInvalidCode, "Check the verification code.", true
	case errors.Is(err, model.ErrExpiredCode):
		return http.StatusBadRequest, model.ErrCodeExpiredCode, "Request a new verification code.", true
	case errors.Is(err, model.ErrInvalidPassword):
		return http.StatusBadRequest, model.ErrCodeInvalidPassword, "Choose a password that meets the policy.", true
	case errors.Is(err, model.ErrUsernameExists):
		return http.StatusConflict, model.ErrCodeUsernameExists, "Sign in or use another email.", true
	case errors.Is(err, model.ErrThrottled):
		return http.StatusTooManyRequests, model.ErrCodeThrottled, "Please wait and try again later.", true
	case errors.Is(err, model.ErrProviderRejected):
		return http.StatusBadRequest, "PROVIDER_REJECTED", "Check your input and try again.", true
	}
	return 0, "", "", false
}
