// Package notification は画面に表示する通知バナーのストアを提供する。
package notification

import (
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/vulnerametrics/internal/validation"
)

// DefaultDuration は通知の既定表示時間。
const DefaultDuration = 5 * time.Second

// Kind は通知の種別。
type Kind string

const (
	KindError   Kind = "error"
	KindSuccess Kind = "success"
)

// Notification は1件の通知。IDは追加順に1から増加する。
type Notification struct {
	ID         int       `json:"id"`
	Message    string    `json:"message"`
	Kind       Kind      `json:"type"`
	DurationMs int64     `json:"duration"`
	CreatedAt  time.Time `json:"created_at"`
}

// expired はnow時点で表示時間を過ぎているかを返す。
func (n Notification) expired(now time.Time) bool {
	return !now.Before(n.CreatedAt.Add(time.Duration(n.DurationMs) * time.Millisecond))
}

// Recorder は追加された通知を記録する。
type Recorder interface {
	RecordNotification(kind string)
}

type nopRecorder struct{}

func (nopRecorder) RecordNotification(string) {}

// Store は通知の一覧を追加順に保持する。
type Store struct {
	mu              sync.Mutex
	items           []Notification
	nextID          int
	defaultDuration time.Duration
	recorder        Recorder
	now             func() time.Time
}

// NewStore はStoreを生成する。defaultDurationが0以下の場合はDefaultDurationを使う。
func NewStore(defaultDuration time.Duration, recorder Recorder) *Store {
	if defaultDuration <= 0 {
		defaultDuration = DefaultDuration
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Store{
		nextID:          1,
		defaultDuration: defaultDuration,
		recorder:        recorder,
		now:             time.Now,
	}
}

// Add は通知を追加し、採番したIDを返す。durationが0以下の場合は既定値を使う。
// メッセージはマークアップを除去してから保持する。
func (s *Store) Add(message string, kind Kind, duration time.Duration) int {
	if duration <= 0 {
		duration = s.defaultDuration
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.items = append(s.items, Notification{
		ID:         id,
		Message:    validation.StripMarkup(message),
		Kind:       kind,
		DurationMs: duration.Milliseconds(),
		CreatedAt:  s.now(),
	})
	s.mu.Unlock()

	s.recorder.RecordNotification(string(kind))
	return id
}

// ShowError はエラー通知を追加する。
func (s *Store) ShowError(message string, duration time.Duration) int {
	return s.Add(message, KindError, duration)
}

// ShowSuccess は成功通知を追加する。
func (s *Store) ShowSuccess(message string, duration time.Duration) int {
	return s.Add(message, KindSuccess, duration)
}

// Remove は指定IDの通知を1件削除する。該当がなければfalseを返す。
func (s *Store) Remove(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.items, func(n Notification) bool { return n.ID == id })
	if i < 0 {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	return true
}

// List は通知を追加順に返す。
func (s *Store) List() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// PruneExpired は表示時間を過ぎた通知を削除し、削除件数を返す。
func (s *Store) PruneExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.items)
	s.items = slices.DeleteFunc(s.items, func(n Notification) bool { return n.expired(now) })
	return before - len(s.items)
}
