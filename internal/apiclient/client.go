// Package apiclient はジョブボードバックエンドREST APIのクライアントを提供する。
// 呼び出しごとにIdPから現在のトークンを読み、Authorizationヘッダーに付与する。
// 失敗はすべてmodel.RequestErrorに正規化され、自動リトライは行わない。
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/jobboard/internal/config"
	"github.com/hitoshi/jobboard/internal/identity"
	"github.com/hitoshi/jobboard/internal/metrics"
	"github.com/hitoshi/jobboard/internal/model"
)

// Options はrequestの呼び出しオプション。
type Options struct {
	Method  string            // 空の場合はGET
	Body    interface{}       // nilでなければJSONエンコードして送る
	Headers map[string]string // 呼び出し元指定のヘッダー。Authorization/Content-Typeは上書きされる
}

// Client はバックエンドAPIクライアント。
type Client struct {
	httpClient  *http.Client
	baseURL     string
	tokens      identity.TokenSource
	tokenPolicy config.TokenFailurePolicy
	limiter     *rate.Limiter // nilの場合は無制限
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
}

// Option はClientの任意設定。
type Option func(*Client)

// WithHTTPClient は使用するhttp.Clientを指定する。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenFailurePolicy はトークン取得失敗時の振る舞いを指定する。
func WithTokenFailurePolicy(p config.TokenFailurePolicy) Option {
	return func(c *Client) { c.tokenPolicy = p }
}

// WithRateLimit はクライアント側のリクエストレート上限を設定する。limitが0以下なら無制限。
func WithRateLimit(limit float64, burst int) Option {
	return func(c *Client) {
		if limit <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// WithMetrics はメトリクスの記録先を指定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Client) { c.metrics = m }
}

// New はClientを生成する。tokensがnilの場合は常に未認証で呼び出す。
func New(baseURL string, tokens identity.TokenSource, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{},
		baseURL:     strings.TrimRight(baseURL, "/"),
		tokens:      tokens,
		tokenPolicy: config.TokenFailureProceed,
		metrics:     metrics.Noop{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request はendpointを呼び出し、2xxの場合はレスポンスボディのJSONをそのまま返す。
// endpointはベースURLに連結されるパス（クエリ文字列を含んでよい）。
func (c *Client) Request(ctx context.Context, endpoint string, opts Options) (model.Payload, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body for %s: %w", endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	headers := make(http.Header, len(opts.Headers)+3)
	for k, v := range opts.Headers {
		headers.Set(k, v)
	}
	headers.Set("Content-Type", "application/json")

	return c.do(ctx, method, endpoint, body, headers)
}

// do は認可ヘッダーを付与して呼び出しを行い、結果を正規化する。
// Request とアップロード系で共通に使う。
func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, headers http.Header) (model.Payload, error) {
	token, err := c.bearerToken(ctx, endpoint)
	if err != nil {
		c.fail(endpoint, err)
		return nil, err
	}
	// 呼び出し元のAuthorizationは使わない。トークンが無ければ認証なしで送る
	headers.Del("Authorization")
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}
	if headers.Get("X-Request-ID") == "" {
		headers.Set("X-Request-ID", uuid.New().String())
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			reqErr := model.NewTransportError(endpoint, err)
			c.fail(endpoint, reqErr)
			return nil, reqErr
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		reqErr := model.NewTransportError(endpoint, err)
		c.fail(endpoint, reqErr)
		return nil, reqErr
	}
	req.Header = headers

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordAPILatency(time.Since(start))
	if err != nil {
		reqErr := model.NewTransportError(endpoint, err)
		c.fail(endpoint, reqErr)
		return nil, reqErr
	}
	defer resp.Body.Close()

	c.metrics.RecordAPIResponse(resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		reqErr := model.NewTransportError(endpoint, err)
		c.fail(endpoint, reqErr)
		return nil, reqErr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := model.NewProtocolError(endpoint, resp.StatusCode, statusText(resp), backendMessage(respBody))
		c.fail(endpoint, reqErr)
		return nil, reqErr
	}

	if !json.Valid(respBody) {
		reqErr := model.NewDecodeError(endpoint, decodeCause(respBody))
		c.fail(endpoint, reqErr)
		return nil, reqErr
	}

	return model.Payload(respBody), nil
}

// bearerToken は呼び出しごとに現在のトークンを取得する。
// 未サインインの場合は空文字を返す。取得失敗時の扱いはトークン失敗ポリシーに従う。
func (c *Client) bearerToken(ctx context.Context, endpoint string) (string, error) {
	if c.tokens == nil {
		return "", nil
	}

	token, err := c.tokens.IDToken(ctx)
	if err == nil {
		return token, nil
	}
	if errors.Is(err, identity.ErrNotSignedIn) {
		return "", nil
	}

	c.metrics.RecordTokenFailure()
	if c.tokenPolicy == config.TokenFailureReject {
		return "", model.NewCredentialError(endpoint, err)
	}

	c.logger.Warn("bearer token unavailable, sending request unauthenticated",
		slog.String("endpoint", endpoint),
		slog.String("error", err.Error()),
	)
	return "", nil
}

// fail は失敗をログとメトリクスに記録する。
func (c *Client) fail(endpoint string, err error) {
	var reqErr *model.RequestError
	if !errors.As(err, &reqErr) {
		return
	}
	c.metrics.RecordAPIFailure(string(reqErr.Kind))

	attrs := []any{
		slog.String("endpoint", endpoint),
		slog.String("kind", string(reqErr.Kind)),
		slog.String("error", reqErr.Message),
	}
	if reqErr.StatusCode != 0 {
		attrs = append(attrs, slog.Int("http_status", reqErr.StatusCode))
	}
	c.logger.Error("api request failed", attrs...)
}

// backendMessage はエラーレスポンスのJSONから "error" フィールドを取り出す。
// JSONでない場合や文字列でない場合は空文字を返す。
func backendMessage(body []byte) string {
	var errResp struct {
		Error interface{} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return ""
	}
	msg, _ := errResp.Error.(string)
	return msg
}

// statusText はステータス行から理由句を取り出す。"404 Not Found" → "Not Found"。
func statusText(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode)
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, prefix))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}

func decodeCause(body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("empty response body")
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return err
	}
	return errors.New("malformed JSON")
}
