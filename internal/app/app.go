// Package app はCLIの各サブコマンドと依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/vulnerametrics/internal/config"
	"github.com/hitoshi/vulnerametrics/internal/database"
	"github.com/hitoshi/vulnerametrics/internal/handler"
	"github.com/hitoshi/vulnerametrics/internal/identity"
	"github.com/hitoshi/vulnerametrics/internal/logger"
	"github.com/hitoshi/vulnerametrics/internal/metrics"
	"github.com/hitoshi/vulnerametrics/internal/middleware"
	"github.com/hitoshi/vulnerametrics/internal/vulnapi"
	"github.com/hitoshi/vulnerametrics/internal/worker/cleanup"
	"github.com/hitoshi/vulnerametrics/internal/workspace"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込んでログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンド省略時はserveとして起動する。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// serve は設定を読み込んでサーバーを起動する。
func serve(w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(CommandServe)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
	)
	return runServe(cfg)
}

// runServe はBFFサーバーを起動する。
// セッションストアとIdPクライアントを初期化し、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. セッションストア
	store, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// 2. IdPクライアント
	provider, err := identity.NewCognitoProvider(ctx, identity.CognitoConfig{
		Region:       cfg.CognitoRegion,
		UserPoolID:   cfg.CognitoUserPoolID,
		ClientID:     cfg.CognitoClientID,
		ClientSecret: cfg.CognitoClientSecret,
		Endpoint:     cfg.CognitoEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to create identity provider: %w", err)
	}

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 4. ブラウザセッションごとのワークスペース
	factory := workspace.NewFactory(workspace.Deps{
		Provider:             provider,
		Sessions:             store.Sessions,
		API:                  vulnapi.NewClient(cfg.APIBaseURL, collector),
		SessionMaxAge:        cfg.SessionMaxAge,
		NotificationDuration: cfg.NotificationDuration,
		Recorder:             collector,
	})
	registryCfg := workspace.DefaultRegistryConfig()
	registryCfg.IdleTTL = cfg.WorkspaceIdleTTL
	registry := workspace.NewRegistry(factory, registryCfg, collector)
	defer registry.Stop()

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	// 5. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Workspaces: registry,
		SessionConfig: middleware.SessionConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
			MaxAge:       cfg.SessionMaxAge,
		},
		CSRFConfig: middleware.CSRFConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		HealthChecker:     store.Health,
		MetricsHandler:    metrics.Handler(reg),
		GuardRecorder:     collector,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// runCleanup は期限切れセッションの削除ジョブを実行する。
// onceがfalseの場合はSIGINTまたはSIGTERMを受信するまで定期実行する。
func runCleanup(ctx context.Context, cfg *config.Config, once bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	job := cleanup.NewCleanupJob(store.Sessions, nil, slog.Default())
	job.Interval = cfg.CleanupInterval

	if once {
		_, err := job.Run(ctx)
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("cleanup worker starting",
		slog.Duration("interval", job.Interval),
		slog.String("session_store", cfg.SessionStore),
	)
	job.Start(ctx)

	slog.Info("cleanup worker stopped gracefully")
	return nil
}

// runMigrate はセッションテーブルのマイグレーションを操作する。
func runMigrate(cfg *config.Config, direction string, steps int) error {
	if cfg.UsesRedis() {
		return fmt.Errorf("migrations apply only to the %s session store", config.SessionStorePostgres)
	}

	slog.Info("running database migrations",
		slog.String("direction", direction),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch direction {
	case "up":
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case "down":
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	case "version":
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("database migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
		return nil
	default:
		return fmt.Errorf("unknown migrate direction %q", direction)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
