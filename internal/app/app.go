// Package app はCLIのコマンドツリーと、各コマンドが使う依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/hitoshi/jobboard/internal/config"
	"github.com/hitoshi/jobboard/internal/database"
	"github.com/hitoshi/jobboard/internal/handler"
	"github.com/hitoshi/jobboard/internal/logger"
	"github.com/hitoshi/jobboard/internal/metrics"
	"github.com/hitoshi/jobboard/internal/middleware"
)

// Init はアプリケーションの初期化を行う。
// .envを読み込み、JSON構造化ログをセットアップしてから環境変数のConfigを読み込む。
// ログはwに出力する（標準出力はコマンド結果に使う）。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. .envの読み込み（既存の環境変数は上書きしない）
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, nil, err
	}

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	l := logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, l, nil
}

// Run はCLIのメインエントリーポイント。argsにはos.Args[1:]を渡す。
func Run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	c := newCLI(stdout, stderr, NewRuntime)
	c.root.SetArgs(args)

	err := c.root.ExecuteContext(ctx)
	if closeErr := c.teardown(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// runServe はコンパニオンサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, rt *Runtime) error {
	cfg := rt.Config

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), rt.Logger)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            rt.Logger,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Session:           rt.Session,
		SavedJobs:         rt.LocalJobs,
		MetricsHandler:    metrics.Handler(rt.Registry),
	}
	if rt.DB != nil {
		deps.HealthChecker = rt.DB
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}

	return serve(ctx, server, ln, rt.Logger)
}

// serve はlnでserverを起動し、ctxの終了でシャットダウンする。
func serve(ctx context.Context, server *http.Server, ln net.Listener, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("companion server starting", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down companion server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("companion server stopped gracefully")
	return nil
}

// runMigrate はローカル状態ストアのデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, logger *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	logger.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	logger.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はコンパニオンサーバーの /health にHTTPリクエストを送り、結果を返す。
// サーバーを監視するスクリプトやコンテナのヘルスチェックから使う。
func runHealthcheck(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
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
