// Package workspace はブラウザセッションごとのストア一式を管理する。
// 各ワークスペースはセッションCookieの値をキーに明示的に生成され、
// 一定時間アクセスがなければ破棄される。
package workspace

import (
	"time"

	"github.com/hitoshi/vulnerametrics/internal/auth"
	"github.com/hitoshi/vulnerametrics/internal/credits"
	"github.com/hitoshi/vulnerametrics/internal/identity"
	"github.com/hitoshi/vulnerametrics/internal/notification"
	"github.com/hitoshi/vulnerametrics/internal/repository"
	"github.com/hitoshi/vulnerametrics/internal/vulnapi"
)

// Workspace は1つのブラウザセッションが所有するストア一式。
type Workspace struct {
	ID            string
	Auth          *auth.Store
	Credits       *credits.Store
	Notifications *notification.Store
	API           *vulnapi.Session
}

// Factory はセッションIDからWorkspaceを生成する。
type Factory func(sessionID string) *Workspace

// Recorder はストアの操作結果を記録する。metrics.Collectorが実装する。
type Recorder interface {
	auth.Recorder
	notification.Recorder
}

// Deps はWorkspace生成に必要な共有依存。
type Deps struct {
	Provider             identity.Provider
	Sessions             repository.SessionRepository
	API                  *vulnapi.Client
	SessionMaxAge        time.Duration
	NotificationDuration time.Duration
	Recorder             Recorder
}

// NewFactory は共有依存からFactoryを生成する。
func NewFactory(deps Deps) Factory {
	return func(sessionID string) *Workspace {
		client := identity.NewSessionClient(deps.Provider, deps.Sessions, sessionID, deps.SessionMaxAge)

		var authRec auth.Recorder
		var notifRec notification.Recorder
		if deps.Recorder != nil {
			authRec = deps.Recorder
			notifRec = deps.Recorder
		}

		notifications := notification.NewStore(deps.NotificationDuration, notifRec)
		api := deps.API.Bind(client)

		return &Workspace{
			ID:            sessionID,
			Auth:          auth.NewStore(client, authRec),
			Credits:       credits.NewStore(api, notifications),
			Notifications: notifications,
			API:           api,
		}
	}
}
