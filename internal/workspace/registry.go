package workspace

import (
	"log/slog"
	"sync"
	"time"
)

// RegistryConfig はレジストリの設定。
type RegistryConfig struct {
	IdleTTL       time.Duration // 最終アクセスからこの時間を過ぎたワークスペースを破棄する
	SweepInterval time.Duration // 破棄判定の実行間隔
}

// DefaultRegistryConfig はデフォルト設定を返す。
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		IdleTTL:       30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// SizeReporter は保持しているワークスペース数を報告する。
type SizeReporter interface {
	SetActiveWorkspaces(n int)
}

type entry struct {
	ws         *Workspace
	lastAccess time.Time
}

// Registry はセッションIDごとのWorkspaceを保持する。
type Registry struct {
	factory  Factory
	config   RegistryConfig
	reporter SizeReporter
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry はRegistryを生成し、バックグラウンドで破棄ループを開始する。
// reporterはnilでもよい。
func NewRegistry(factory Factory, config RegistryConfig, reporter SizeReporter) *Registry {
	r := &Registry{
		factory:  factory,
		config:   config,
		reporter: reporter,
		now:      time.Now,
		entries:  make(map[string]*entry),
		stopCh:   make(chan struct{}),
	}

	if config.SweepInterval > 0 {
		go r.sweepLoop()
	}
	return r
}

// Get はセッションIDのWorkspaceを返す。存在しなければ生成する。
func (r *Registry) Get(sessionID string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[sessionID]; ok {
		e.lastAccess = r.now()
		return e.ws
	}

	ws := r.factory(sessionID)
	r.entries[sessionID] = &entry{ws: ws, lastAccess: r.now()}
	r.report(len(r.entries))
	return ws
}

// Lookup は生成せずにWorkspaceを返す。
func (r *Registry) Lookup(sessionID string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	return e.ws, true
}

// Drop はWorkspaceを破棄する。
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, sessionID)
	r.report(len(r.entries))
}

// Len は保持しているWorkspace数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stop は破棄ループを停止する。複数回呼んでもよい。
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.sweep(r.now()); n > 0 {
				slog.Debug("idle workspaces evicted", slog.Int("count", n))
			}
		case <-r.stopCh:
			return
		}
	}
}

// sweep はアイドル状態のWorkspaceを破棄し、残ったWorkspaceの期限切れ通知を削除する。
// 破棄した件数を返す。
func (r *Registry) sweep(now time.Time) int {
	r.mu.Lock()
	var live []*Workspace
	evicted := 0
	for id, e := range r.entries {
		if now.Sub(e.lastAccess) > r.config.IdleTTL {
			delete(r.entries, id)
			evicted++
			continue
		}
		live = append(live, e.ws)
	}
	r.report(len(r.entries))
	r.mu.Unlock()

	for _, ws := range live {
		if ws.Notifications != nil {
			ws.Notifications.PruneExpired(now)
		}
	}
	return evicted
}

func (r *Registry) report(n int) {
	if r.reporter != nil {
		r.reporter.SetActiveWorkspaces(n)
	}
}
