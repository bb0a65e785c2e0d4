package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/jobboard/internal/apiclient"
	"github.com/hitoshi/jobboard/internal/config"
	"github.com/hitoshi/jobboard/internal/database"
	"github.com/hitoshi/jobboard/internal/fetch"
	"github.com/hitoshi/jobboard/internal/identity"
	"github.com/hitoshi/jobboard/internal/metrics"
	"github.com/hitoshi/jobboard/internal/repository"
	"github.com/hitoshi/jobboard/internal/session"
	"github.com/hitoshi/jobboard/internal/worker/besteffort"
)

// identityTimeout はIdP呼び出しのタイムアウト。バックエンドAPIの呼び出しには適用しない。
var identityTimeout = 30 * time.Second

// Runtime はコマンドが利用する依存関係一式を保持する。
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger

	DB        *sql.DB // STORAGE_DRIVER=file の場合はnil
	Store     repository.StateRepository
	LocalJobs *repository.LocalJobs
	Profiles  *repository.ProfileCache

	Registry *prometheus.Registry
	Metrics  *metrics.Collector

	Identity *identity.FirebaseClient
	API      *apiclient.Client
	Hooks    *fetch.Hooks
	Runner   *besteffort.Runner
	Session  *session.Session
}

// NewRuntime は設定から全依存関係をワイヤリングし、保存済みの認証情報を復元してセッションを開始する。
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}

	// 1. ローカル状態ストア
	if err := rt.openStore(ctx); err != nil {
		return nil, err
	}
	rt.LocalJobs = repository.NewLocalJobs(rt.Store)
	rt.Profiles = repository.NewProfileCache(rt.Store)

	// 2. メトリクス
	rt.Registry = prometheus.NewRegistry()
	rt.Metrics = metrics.NewCollector(rt.Registry)

	// 3. IdP
	rt.Identity = identity.NewFirebaseClient(identity.FirebaseConfig{
		APIKey:             cfg.FirebaseAPIKey,
		IdentityToolkitURL: cfg.FirebaseIdentityURL,
		SecureTokenURL:     cfg.FirebaseTokenURL,
	}, &http.Client{Timeout: identityTimeout}, rt.Store, logger)

	if err := rt.Identity.Restore(ctx); err != nil {
		// 壊れた認証情報は未サインインとして扱う
		logger.Warn("failed to restore stored credential", slog.String("error", err.Error()))
	}

	// 4. APIクライアントとデータ取得フック
	// APIクライアントはタイムアウトを持たない。打ち切りは呼び出し元のctxのみで行う
	rt.API = apiclient.New(cfg.APIBaseURL, rt.Identity, logger,
		apiclient.WithHTTPClient(&http.Client{}),
		apiclient.WithTokenFailurePolicy(cfg.TokenFailurePolicy),
		apiclient.WithRateLimit(cfg.APIRateLimit, cfg.APIRateBurst),
		apiclient.WithMetrics(rt.Metrics),
	)
	rt.Hooks = fetch.NewHooks(rt.API, cfg.FetchCommitPolicy)

	// 5. セッション
	rt.Runner = besteffort.NewRunner(logger, rt.Metrics, 4)
	deps := session.Deps{
		Provider:     rt.Identity,
		Runner:       rt.Runner,
		Logger:       logger,
		ProfileCache: rt.Profiles,
	}
	if cfg.SyncUserOnSignIn {
		deps.Syncer = rt.API
	}
	rt.Session = session.New(deps)
	rt.Session.Start(ctx)

	return rt, nil
}

// openStore はSTORAGE_DRIVERに応じたStateRepositoryを開く。
func (rt *Runtime) openStore(ctx context.Context) error {
	switch rt.Config.StorageDriver {
	case config.StorageDriverPostgres:
		db, err := database.Open(ctx, rt.Config.DatabaseURL)
		if err != nil {
			return err
		}
		rt.DB = db
		rt.Store = repository.NewPostgresStateRepo(db)
	default:
		store, err := repository.NewFileStateRepo(rt.Config.StorageDir)
		if err != nil {
			return fmt.Errorf("failed to open state directory: %w", err)
		}
		rt.Store = store
	}
	return nil
}

// Close はセッションを停止し、ベストエフォートタスクの完了を待ってからDB接続を閉じる。
func (rt *Runtime) Close(ctx context.Context) error {
	var firstErr error
	if rt.Session != nil {
		if err := rt.Session.Stop(ctx); err != nil {
			firstErr = fmt.Errorf("failed to stop session: %w", err)
		}
	}
	if rt.DB != nil {
		if err := rt.DB.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close database: %w", err)
		}
	}
	return firstErr
}
