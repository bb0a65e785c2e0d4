package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/repository"
)

const (
	defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	defaultSecureTokenURL     = "https://securetoken.googleapis.com/v1/token"

	// CredentialKey は永続化された認証情報のキー。
	CredentialKey = "auth_user"

	// defaultTokenLifetime はexpiresInが読めない場合のIDトークン有効期間。
	defaultTokenLifetime = time.Hour
)

// FirebaseConfig はFirebaseClientの設定。
type FirebaseConfig struct {
	APIKey string

	// テスト用にオーバーライド可能なURL
	IdentityToolkitURL string
	SecureTokenURL     string
}

// FirebaseClient はFirebase Authentication REST APIを使用するProvider実装。
// IDトークンはoauth2.Token（AccessTokenにIDトークン）としてキャッシュし、期限切れ時にリフレッシュする。
type FirebaseClient struct {
	config     FirebaseConfig
	httpClient *http.Client
	store      repository.StateRepository // nilの場合は永続化しない
	logger     *slog.Logger

	mu        sync.Mutex
	principal *model.Principal
	token     *oauth2.Token

	listenersMu sync.Mutex
	listeners   map[int]func(*model.Principal)
	nextID      int
}

// NewFirebaseClient はFirebaseClientを生成する。
func NewFirebaseClient(config FirebaseConfig, httpClient *http.Client, store repository.StateRepository, logger *slog.Logger) *FirebaseClient {
	if config.IdentityToolkitURL == "" {
		config.IdentityToolkitURL = defaultIdentityToolkitURL
	}
	if config.SecureTokenURL == "" {
		config.SecureTokenURL = defaultSecureTokenURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &FirebaseClient{
		config:     config,
		httpClient: httpClient,
		store:      store,
		logger:     logger,
		listeners:  make(map[int]func(*model.Principal)),
	}
}

// storedCredential は永続化する認証情報。
type storedCredential struct {
	Principal    model.Principal `json:"principal"`
	IDToken      string          `json:"id_token"`
	RefreshToken string          `json:"refresh_token"`
	Expiry       time.Time       `json:"expiry"`
}

// authResponse はaccounts:*エンドポイントの共通レスポンス。
type authResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

// Restore は永続化された認証情報を読み込み、サインイン状態を復元する。
// 保存が無い場合は何もしない。
func (c *FirebaseClient) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	data, err := c.store.Get(ctx, CredentialKey)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load credential: %w", err)
	}

	var cred storedCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return fmt.Errorf("failed to decode credential: %w", err)
	}
	if cred.Principal.UID == "" || cred.RefreshToken == "" {
		return fmt.Errorf("stored credential is incomplete")
	}

	p := cred.Principal
	c.mu.Lock()
	c.principal = &p
	c.token = &oauth2.Token{
		AccessToken:  cred.IDToken,
		TokenType:    "Bearer",
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.Expiry,
	}
	c.mu.Unlock()

	c.notify()
	return nil
}

// IDToken は有効なIDトークンを返す。期限切れの場合はリフレッシュトークンで再発行する。
func (c *FirebaseClient) IDToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.principal == nil || c.token == nil {
		return "", ErrNotSignedIn
	}
	if c.token.Valid() {
		return c.token.AccessToken, nil
	}

	tok, err := c.refresh(ctx, c.token.RefreshToken)
	if err != nil {
		return "", err
	}
	c.token = tok
	c.persistLocked(ctx)

	return tok.AccessToken, nil
}

// refresh はSecure Token APIでIDトークンを再発行する。
func (c *FirebaseClient) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	conf := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.config.SecureTokenURL + "?key=" + url.QueryEscape(c.config.APIKey),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil {
			if pErr := parseProviderError(rErr.Response.StatusCode, rErr.Body); pErr != nil {
				return nil, fmt.Errorf("failed to refresh id token: %w", pErr)
			}
		}
		return nil, fmt.Errorf("failed to refresh id token: %w", err)
	}

	// Secure Token APIはid_tokenとaccess_tokenの両方を返す。id_tokenを優先する
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		tok.AccessToken = idToken
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	c.logger.Debug("id token refreshed", slog.Time("expiry", tok.Expiry))
	return tok, nil
}

// CurrentPrincipal はサインイン中のPrincipalのコピーを返す。
func (c *FirebaseClient) CurrentPrincipal() *model.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clonePrincipal(c.principal)
}

// OnChange は状態変化リスナーを登録し、現在の状態で即座に1回呼び出す。
func (c *FirebaseClient) OnChange(fn func(*model.Principal)) func() {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	fn(c.CurrentPrincipal())

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (c *FirebaseClient) SignInWithPassword(ctx context.Context, email, password string) (*model.Principal, error) {
	var resp authResponse
	err := c.post(ctx, "accounts:signInWithPassword", map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.signIn(ctx, &resp), nil
}

// SignUp はアカウントを作成してサインインする。displayNameが空でなければ表示名を設定する。
func (c *FirebaseClient) SignUp(ctx context.Context, email, password, displayName string) (*model.Principal, error) {
	var resp authResponse
	err := c.post(ctx, "accounts:signUp", map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if displayName != "" {
		var updated authResponse
		err := c.post(ctx, "accounts:update", map[string]interface{}{
			"idToken":           resp.IDToken,
			"displayName":       displayName,
			"returnSecureToken": false,
		}, &updated)
		if err != nil {
			// アカウントは作成済みのため、表示名なしでサインインを続ける
			c.logger.Warn("failed to set display name",
				slog.String("email", email),
				slog.String("error", err.Error()),
			)
		} else {
			resp.DisplayName = displayName
		}
	}

	return c.signIn(ctx, &resp), nil
}

// SignInWithGoogleIDToken はGoogleのIDトークンでフェデレーションサインインする。
func (c *FirebaseClient) SignInWithGoogleIDToken(ctx context.Context, idToken string) (*model.Principal, error) {
	postBody := url.Values{
		"id_token":   {idToken},
		"providerId": {"google.com"},
	}
	var resp authResponse
	err := c.post(ctx, "accounts:signInWithIdp", map[string]interface{}{
		"postBody":          postBody.Encode(),
		"requestUri":        "http://localhost",
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.signIn(ctx, &resp), nil
}

// SendPasswordResetEmail はパスワードリセットメールを送信する。
func (c *FirebaseClient) SendPasswordResetEmail(ctx context.Context, email string) error {
	return c.post(ctx, "accounts:sendOobCode", map[string]interface{}{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

// SignOut は永続化された認証情報を削除してからローカル状態を破棄する。
// 削除に失敗した場合はエラーを返し、IdP側のサインイン状態は残る。
func (c *FirebaseClient) SignOut(ctx context.Context) error {
	if c.store != nil {
		if err := c.store.Delete(ctx, CredentialKey); err != nil {
			return fmt.Errorf("failed to delete credential: %w", err)
		}
	}

	c.mu.Lock()
	wasSignedIn := c.principal != nil
	c.principal = nil
	c.token = nil
	c.mu.Unlock()

	if wasSignedIn {
		c.notify()
	}
	return nil
}

// signIn はサインインレスポンスを状態に反映し、永続化してリスナーへ通知する。
func (c *FirebaseClient) signIn(ctx context.Context, resp *authResponse) *model.Principal {
	p := &model.Principal{
		UID:         resp.LocalID,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
	}

	c.mu.Lock()
	c.principal = p
	c.token = &oauth2.Token{
		AccessToken:  resp.IDToken,
		TokenType:    "Bearer",
		RefreshToken: resp.RefreshToken,
		Expiry:       time.Now().Add(parseExpiresIn(resp.ExpiresIn)),
	}
	c.persistLocked(ctx)
	c.mu.Unlock()

	c.logger.Info("signed in", slog.String("uid", p.UID))
	c.notify()

	return clonePrincipal(p)
}

// persistLocked は現在の認証情報を保存する。c.muを保持して呼ぶこと。
// 保存失敗はサインイン自体を失敗させず、ログに残すのみ。
func (c *FirebaseClient) persistLocked(ctx context.Context) {
	if c.store == nil || c.principal == nil || c.token == nil {
		return
	}

	data, err := json.Marshal(storedCredential{
		Principal:    *c.principal,
		IDToken:      c.token.AccessToken,
		RefreshToken: c.token.RefreshToken,
		Expiry:       c.token.Expiry,
	})
	if err != nil {
		c.logger.Error("failed to encode credential", slog.String("error", err.Error()))
		return
	}
	if err := c.store.Put(ctx, CredentialKey, data); err != nil {
		c.logger.Warn("failed to persist credential", slog.String("error", err.Error()))
	}
}

// notify は全リスナーに現在のPrincipalを通知する。ロックの外でリスナーを呼ぶ。
func (c *FirebaseClient) notify() {
	p := c.CurrentPrincipal()

	c.listenersMu.Lock()
	fns := make([]func(*model.Principal), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn(clonePrincipal(p))
	}
}

// post はIdentity Toolkit APIにJSONをPOSTし、レスポンスをoutにデコードする。
func (c *FirebaseClient) post(ctx context.Context, method string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := c.config.IdentityToolkitURL + "/" + method + "?key=" + url.QueryEscape(c.config.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if pErr := parseProviderError(resp.StatusCode, respBody); pErr != nil {
			return pErr
		}
		return &ProviderError{
			StatusCode: resp.StatusCode,
			Code:       strconv.Itoa(resp.StatusCode),
			Message:    http.StatusText(resp.StatusCode),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	return nil
}

// parseProviderError は {"error":{"code":400,"message":"EMAIL_NOT_FOUND"}} 形式のエラーを解析する。
// 解析できない場合はnilを返す。
func parseProviderError(statusCode int, body []byte) *ProviderError {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return nil
	}

	// "TOO_MANY_ATTEMPTS_TRY_LATER : Access to this account has been temporarily disabled" 形式
	code, detail, _ := strings.Cut(errResp.Error.Message, " : ")
	code = strings.TrimSpace(code)
	if detail == "" {
		detail = code
	}
	return &ProviderError{
		StatusCode: statusCode,
		Code:       code,
		Message:    detail,
	}
}

func parseExpiresIn(s string) time.Duration {
	secs, err := strconv.Atoi(s)
	if err != nil || secs < 0 {
		return defaultTokenLifetime
	}
	return time.Duration(secs) * time.Second
}

func clonePrincipal(p *model.Principal) *model.Principal {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// compile-time interface check
var _ Provider = (*FirebaseClient)(nil)
