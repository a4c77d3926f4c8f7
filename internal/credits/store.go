// Package credits はクレジット残高のストアを提供する。
package credits

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/vulnerametrics/internal/model"
	"github.com/hitoshi/vulnerametrics/internal/vulnapi"
)

const msgFetchFailed = "Failed to fetch credits"

// Fetcher はクレジット残高の取得元。vulnapi.Sessionが実装する。
type Fetcher interface {
	CheckCredits(ctx context.Context) (*vulnapi.Credits, error)
}

// Notifier は失敗をユーザーに通知する。notification.Storeが実装する。
type Notifier interface {
	ShowError(message string, duration time.Duration) int
}

// State はストアの状態のスナップショット。Balanceは未取得の場合nil。
type State struct {
	Balance *float64
	Loading bool
	Error   string
}

// Store はクレジット残高を保持する。
type Store struct {
	fetcher  Fetcher
	notifier Notifier

	mu    sync.RWMutex
	state State
}

// NewStore はStoreを生成する。notifierはnilでもよい。
func NewStore(fetcher Fetcher, notifier Notifier) *Store {
	return &Store{fetcher: fetcher, notifier: notifier}
}

// State は現在の状態のコピーを返す。
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state
	if st.Balance != nil {
		b := *st.Balance
		st.Balance = &b
	}
	return st
}

// Fetch は残高を取得する。失敗した場合はエラーを記録して通知し、エラーを返す。
// 直前の残高は失敗しても保持する。
func (s *Store) Fetch(ctx context.Context) (float64, error) {
	s.mu.Lock()
	s.state.Loading = true
	s.state.Error = ""
	s.mu.Unlock()

	credits, err := s.fetcher.CheckCredits(ctx)

	s.mu.Lock()
	s.state.Loading = false
	if err != nil {
		msg := fetchErrorMessage(err)
		s.state.Error = msg
		s.mu.Unlock()

		slog.Warn("failed to fetch credits",
			slog.String("event", "credits_fetch_failed"),
			slog.String("error", err.Error()),
		)
		if s.notifier != nil {
			s.notifier.ShowError(msg, 0)
		}
		return 0, err
	}
	balance := credits.Balance
	s.state.Balance = &balance
	s.mu.Unlock()

	return balance, nil
}

// fetchErrorMessage は表示用のメッセージを返す。
// バックエンドの統一エラーと未認証はその文言を使う。
func fetchErrorMessage(err error) string {
	var remote *model.RemoteError
	if errors.As(err, &remote) {
		return remote.Message
	}
	if errors.Is(err, model.ErrNotAuthenticated) {
		return err.Error()
	}
	return msgFetchFailed
}
