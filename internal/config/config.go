// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// TokenFailurePolicy はトークン取得失敗時のAPIクライアントの振る舞い。
type TokenFailurePolicy string

const (
	// TokenFailureProceed はAuthorizationヘッダーなしで呼び出しを続行する。
	TokenFailureProceed TokenFailurePolicy = "proceed"
	// TokenFailureReject は呼び出しをcredentialエラーで失敗させる。
	TokenFailureReject TokenFailurePolicy = "reject"
)

// CommitPolicy はデータ取得フックがどの呼び出し結果を表示状態に反映するか。
type CommitPolicy string

const (
	// CommitLatestIssued は最後に発行された呼び出しの結果のみを反映する。
	CommitLatestIssued CommitPolicy = "latest_issued"
	// CommitLastSettled は最後に完了した呼び出しの結果を反映する（古い結果による上書きが起こりうる）。
	CommitLastSettled CommitPolicy = "last_settled"
)

// StorageDriver はローカル永続状態の保存先。
type StorageDriver string

const (
	StorageDriverFile     StorageDriver = "file"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Identity
	FirebaseAPIKey      string
	FirebaseIdentityURL string // 空の場合は本番のIdentity Toolkit
	FirebaseTokenURL    string // 空の場合は本番のSecure Token API
	GoogleClientID      string
	GoogleClientSecret  string
	GoogleRedirectURL   string

	// Backend API
	APIBaseURL         string
	TokenFailurePolicy TokenFailurePolicy
	APIRateLimit       float64 // req/sec。0は無制限
	APIRateBurst       int

	// Data-fetch hooks
	FetchCommitPolicy CommitPolicy

	// Session
	SyncUserOnSignIn bool

	// Local state
	StorageDriver StorageDriver
	StorageDir    string
	DatabaseURL   string

	// Logging
	LogLevel string

	// Companion server
	ServerPort        string
	CORSAllowedOrigin string
}

// GoogleSignInEnabled はGoogleフェデレーションサインインの設定が揃っているかを返す。
func (c *Config) GoogleSignInEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// LoadDotEnv は指定された.envファイルを環境変数に読み込む。
// 存在しないファイルは無視する。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、またはポリシー値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.FirebaseAPIKey = os.Getenv("FIREBASE_API_KEY")
	if cfg.FirebaseAPIKey == "" {
		missing = append(missing, "FIREBASE_API_KEY")
	}

	cfg.StorageDriver = StorageDriver(getEnvString("STORAGE_DRIVER", string(StorageDriverFile)))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.StorageDriver == StorageDriverPostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.FirebaseIdentityURL = strings.TrimRight(os.Getenv("FIREBASE_IDENTITY_URL"), "/")
	cfg.FirebaseTokenURL = os.Getenv("FIREBASE_TOKEN_URL")
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	cfg.APIBaseURL = strings.TrimRight(getEnvString("JOBBOARD_API_URL", "http://localhost:8000/api"), "/")
	cfg.TokenFailurePolicy = TokenFailurePolicy(getEnvString("TOKEN_FAILURE_POLICY", string(TokenFailureProceed)))
	cfg.APIRateLimit = getEnvFloat("API_RATE_LIMIT", 0)
	cfg.APIRateBurst = getEnvInt("API_RATE_BURST", 1)
	cfg.FetchCommitPolicy = CommitPolicy(getEnvString("FETCH_COMMIT_POLICY", string(CommitLatestIssued)))
	cfg.SyncUserOnSignIn = getEnvBool("SYNC_USER_ON_SIGN_IN", true)
	cfg.StorageDir = getEnvString("STORAGE_DIR", defaultStorageDir())
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は列挙値の設定を検証する。
func (c *Config) validate() error {
	switch c.TokenFailurePolicy {
	case TokenFailureProceed, TokenFailureReject:
	default:
		return fmt.Errorf("invalid TOKEN_FAILURE_POLICY %q: must be %q or %q",
			c.TokenFailurePolicy, TokenFailureProceed, TokenFailureReject)
	}

	switch c.FetchCommitPolicy {
	case CommitLatestIssued, CommitLastSettled:
	default:
		return fmt.Errorf("invalid FETCH_COMMIT_POLICY %q: must be %q or %q",
			c.FetchCommitPolicy, CommitLatestIssued, CommitLastSettled)
	}

	switch c.StorageDriver {
	case StorageDriverFile, StorageDriverPostgres:
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q: must be %q or %q",
			c.StorageDriver, StorageDriverFile, StorageDriverPostgres)
	}

	return nil
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".jobboard"
	}
	return filepath.Join(home, ".jobboard")
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
