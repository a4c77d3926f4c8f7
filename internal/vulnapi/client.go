// Package vulnapi は脆弱性情報REST APIのクライアントを提供する。
// 呼び出しごとにアクセストークンを取得してBearer認証を行い、
// 非2xxレスポンスは統一エラー形式に変換する。リトライは行わない。
package vulnapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/vulnerametrics/internal/model"
)

// DefaultErrorMessage はエラーレスポンスにメッセージが含まれない場合の文言。
const DefaultErrorMessage = "An error occurred while fetching data"

// HeaderRequestID はリクエスト追跡用のヘッダー名。
const HeaderRequestID = "X-Request-ID"

// ErrInvalidResponse は成功レスポンスの本文を解釈できない場合のエラー。
var ErrInvalidResponse = errors.New("invalid response from vulnerability api")

// TokenSource はアクセストークンの取得元。呼び出しごとに評価される。
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Recorder はAPI呼び出しの結果を記録する。statusは通信エラー時0。
type Recorder interface {
	RecordAPICall(endpoint string, status int, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordAPICall(string, int, time.Duration) {}

// Client はすべてのブラウザセッションで共有するAPIクライアント。
type Client struct {
	baseURL   string
	transport http.RoundTripper
	recorder  Recorder
}

// NewClient はClientを生成する。recorderはnilでもよい。
func NewClient(baseURL string, recorder Recorder) *Client {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: http.DefaultTransport,
		recorder:  recorder,
	}
}

// Session は1つのブラウザセッション用のAPIクライアント。
// バックエンドが発行するCookieはセッションごとのjarに保持する。
type Session struct {
	client *Client
	tokens TokenSource
	http   *resty.Client
}

// Bind はトークン取得元に紐付いたSessionを生成する。
func (c *Client) Bind(tokens TokenSource) *Session {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	hc := &http.Client{Transport: c.transport, Jar: jar}

	return &Session{
		client: c,
		tokens: tokens,
		http:   resty.NewWithClient(hc),
	}
}

// do は認証ヘッダーを付与してリクエストを実行する。
// 成功時は2xxのレスポンスを返し、それ以外は統一形式のエラーに変換する。
func (s *Session) do(ctx context.Context, method, path, endpoint string) (*resty.Response, error) {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		if model.IsNetworkError(err) {
			return nil, err
		}
		return nil, model.ErrNotAuthenticated
	}
	if token == "" {
		return nil, model.ErrNotAuthenticated
	}

	requestID := uuid.NewString()
	start := time.Now()

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderRequestID, requestID).
		Execute(method, s.client.baseURL+path)
	duration := time.Since(start)

	if err != nil {
		s.client.recorder.RecordAPICall(endpoint, 0, duration)
		slog.Error("vulnerability api unreachable",
			slog.String("event", "vulnapi_connection_error"),
			slog.String("endpoint", endpoint),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return nil, &model.NetworkError{Cause: err}
	}

	status := resp.StatusCode()
	s.client.recorder.RecordAPICall(endpoint, status, duration)

	if status < 200 || status > 299 {
		apiErr := TranslateError(status, resp.Body())
		slog.Error("vulnerability api error",
			slog.String("event", "vulnapi_error"),
			slog.String("endpoint", endpoint),
			slog.String("request_id", requestID),
			slog.Int("http_status", status),
			slog.String("error", apiErr.Message),
			slog.Int64("latency_ms", duration.Milliseconds()),
		)
		return nil, apiErr
	}

	slog.Debug("vulnerability api success",
		slog.String("endpoint", endpoint),
		slog.String("request_id", requestID),
		slog.Int64("latency_ms", duration.Milliseconds()),
	)
	return resp, nil
}

// TranslateError は非2xxレスポンスを統一エラー形式に変換する。
// 本文がJSONでmessageを含む場合はその文言を使い、解釈できない場合は既定文言のままとする。
func TranslateError(status int, body []byte) *model.RemoteError {
	apiErr := &model.RemoteError{
		StatusCode: status,
		Code:       strconv.Itoa(status),
		Message:    DefaultErrorMessage,
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		apiErr.Message = payload.Message
	}
	return apiErr
}

func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}
