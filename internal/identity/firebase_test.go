package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/repository"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeFirebase はIdentity ToolkitとSecure Token APIを模擬するテストサーバー。
type fakeFirebase struct {
	mu        sync.Mutex
	calls     []string
	bodies    map[string]map[string]interface{}
	expiresIn string
	failWith  map[string]string // method -> エラーメッセージ
	refreshes int
}

func newFakeFirebase() *fakeFirebase {
	return &fakeFirebase{
		bodies:    map[string]map[string]interface{}{},
		expiresIn: "3600",
		failWith:  map[string]string{},
	}
}

func (f *fakeFirebase) body(method string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[method]
}

func (f *fakeFirebase) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func (f *fakeFirebase) identityHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/")
		if r.URL.Query().Get("key") != "test-api-key" {
			t.Errorf("key = %q, want %q", r.URL.Query().Get("key"), "test-api-key")
		}

		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.calls = append(f.calls, method)
		f.bodies[method] = body
		failMsg := f.failWith[method]
		expiresIn := f.expiresIn
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if failMsg != "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{"code": 400, "message": failMsg},
			})
			return
		}

		switch method {
		case "accounts:sendOobCode":
			json.NewEncoder(w).Encode(map[string]interface{}{"email": body["email"]})
		case "accounts:update":
			json.NewEncoder(w).Encode(map[string]interface{}{"displayName": body["displayName"]})
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"localId":      "uid-123",
				"email":        "user@example.com",
				"displayName":  "",
				"idToken":      "id-token-1",
				"refreshToken": "refresh-token-1",
				"expiresIn":    expiresIn,
			})
		}
	})
}

func (f *fakeFirebase) secureTokenHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "refresh-token-1" {
			t.Errorf("refresh_token = %q, want refresh-token-1", got)
		}

		f.mu.Lock()
		f.refreshes++
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "id-token-2",
			"id_token":      "id-token-2",
			"refresh_token": "refresh-token-1",
			"expires_in":    "3600",
			"token_type":    "Bearer",
			"user_id":       "uid-123",
		})
	})
}

func setupFirebase(t *testing.T, store repository.StateRepository) (*FirebaseClient, *fakeFirebase, *bytes.Buffer) {
	t.Helper()
	fake := newFakeFirebase()
	idSrv := httptest.NewServer(fake.identityHandler(t))
	t.Cleanup(idSrv.Close)
	stSrv := httptest.NewServer(fake.secureTokenHandler(t))
	t.Cleanup(stSrv.Close)

	var buf bytes.Buffer
	client := NewFirebaseClient(FirebaseConfig{
		APIKey:             "test-api-key",
		IdentityToolkitURL: idSrv.URL,
		SecureTokenURL:     stSrv.URL,
	}, nil, store, newTestLogger(&buf))
	return client, fake, &buf
}

func TestFirebaseClient_IDToken_NotSignedIn(t *testing.T) {
	client, _, _ := setupFirebase(t, nil)

	_, err := client.IDToken(context.Background())
	if !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("got %v, want ErrNotSignedIn", err)
	}
}

func TestFirebaseClient_SignInWithPassword(t *testing.T) {
	client, fake, _ := setupFirebase(t, nil)
	ctx := context.Background()

	p, err := client.SignInWithPassword(ctx, "user@example.com", "secret")
	if err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}
	if p.UID != "uid-123" || p.Email != "user@example.com" {
		t.Errorf("principal = %+v", p)
	}

	body := fake.body("accounts:signInWithPassword")
	if body["email"] != "user@example.com" || body["password"] != "secret" || body["returnSecureToken"] != true {
		t.Errorf("unexpected request body: %v", body)
	}

	tok, err := client.IDToken(ctx)
	if err != nil {
		t.Fatalf("IDToken returned error: %v", err)
	}
	if tok != "id-token-1" {
		t.Errorf("IDToken = %q, want %q", tok, "id-token-1")
	}
	if fake.refreshCount() != 0 {
		t.Errorf("有効なトークンでリフレッシュが発生した: %d", fake.refreshCount())
	}
}

func TestFirebaseClient_IDToken_RefreshesExpiredToken(t *testing.T) {
	client, fake, _ := setupFirebase(t, nil)
	fake.mu.Lock()
	fake.expiresIn = "0"
	fake.mu.Unlock()
	ctx := context.Background()

	if _, err := client.SignInWithPassword(ctx, "user@example.com", "secret"); err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}

	tok, err := client.IDToken(ctx)
	if err != nil {
		t.Fatalf("IDToken returned error: %v", err)
	}
	if tok != "id-token-2" {
		t.Errorf("IDToken = %q, want refreshed %q", tok, "id-token-2")
	}

	// リフレッシュ後のトークンは有効期限内なので再リフレッシュしない
	if _, err := client.IDToken(ctx); err != nil {
		t.Fatalf("IDToken returned error: %v", err)
	}
	if fake.refreshCount() != 1 {
		t.Errorf("refreshes = %d, want 1", fake.refreshCount())
	}
}

func TestFirebaseClient_ProviderError(t *testing.T) {
	client, fake, _ := setupFirebase(t, nil)
	fake.mu.Lock()
	fake.failWith["accounts:signInWithPassword"] = "EMAIL_NOT_FOUND"
	fake.mu.Unlock()

	_, err := client.SignInWithPassword(context.Background(), "nobody@example.com", "x")
	var pErr *ProviderError
	if !errors.As(err, &pErr) {
		t.Fatalf("got %T (%v), want *ProviderError", err, err)
	}
	if pErr.Code != "EMAIL_NOT_FOUND" {
		t.Errorf("Code = %q, want %q", pErr.Code, "EMAIL_NOT_FOUND")
	}
	if pErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", pErr.StatusCode)
	}
	if client.CurrentPrincipal() != nil {
		t.Error("失敗したサインインでPrincipalが設定された")
	}
}

func TestParseProviderError_WithDetail(t *testing.T) {
	body := []byte(`{"error":{"code":400,"message":"TOO_MANY_ATTEMPTS_TRY_LATER : Access disabled"}}`)

	pErr := parseProviderError(400, body)
	if pErr == nil {
		t.Fatal("expected ProviderError, got nil")
	}
	if pErr.Code != "TOO_MANY_ATTEMPTS_TRY_LATER" {
		t.Errorf("Code = %q", pErr.Code)
	}
	if pErr.Message != "Access disabled" {
		t.Errorf("Message = %q", pErr.Message)
	}

	if parseProviderError(500, []byte("<html>")) != nil {
		t.Error("non-JSON body should not parse")
	}
}

func TestFirebaseClient_SignUpSetsDisplayName(t *testing.T) {
	client, fake, _ := setupFirebase(t, nil)

	p, err := client.SignUp(context.Background(), "new@example.com", "secret", "New User")
	if err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}
	if p.DisplayName != "New User" {
		t.Errorf("DisplayName = %q, want %q", p.DisplayName, "New User")
	}
	if got := fake.body("accounts:update")["idToken"]; got != "id-token-1" {
		t.Errorf("accounts:update idToken = %v, want id-token-1", got)
	}
}

func TestFirebaseClient_SignUp_DisplayNameFailureIsLogged(t *testing.T) {
	client, fake, buf := setupFirebase(t, nil)
	fake.mu.Lock()
	fake.failWith["accounts:update"] = "INVALID_ID_TOKEN"
	fake.mu.Unlock()

	p, err := client.SignUp(context.Background(), "new@example.com", "secret", "New User")
	if err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}
	if p.DisplayName != "" {
		t.Errorf("DisplayName = %q, want empty", p.DisplayName)
	}
	if !strings.Contains(buf.String(), "failed to set display name") {
		t.Errorf("expected warning log, got %s", buf.String())
	}
}

func TestFirebaseClient_SignInWithGoogleIDToken(t *testing.T) {
	client, fake, _ := setupFirebase(t, nil)

	if _, err := client.SignInWithGoogleIDToken(context.Background(), "google-id-token"); err != nil {
		t.Fatalf("SignInWithGoogleIDToken returned error: %v", err)
	}

	body := fake.body("accounts:signInWithIdp")
	postBody, _ := body["postBody"].(string)
	if !strings.Contains(postBody, "id_token=google-id-token") || !strings.Contains(postBody, "providerId=google.com") {
		t.Errorf("postBody = %q", postBody)
	}
}

func TestFirebaseClient_SendPasswordResetEmail(t *testing.T) {
	client, fake, _ := setupFirebase(t, nil)

	if err := client.SendPasswordResetEmail(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("SendPasswordResetEmail returned error: %v", err)
	}
	body := fake.body("accounts:sendOobCode")
	if body["requestType"] != "PASSWORD_RESET" || body["email"] != "user@example.com" {
		t.Errorf("unexpected request body: %v", body)
	}
	if client.CurrentPrincipal() != nil {
		t.Error("パスワードリセットでサインイン状態が変わった")
	}
}

func TestFirebaseClient_OnChange(t *testing.T) {
	client, _, _ := setupFirebase(t, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var events []*model.Principal
	unsubscribe := client.OnChange(func(p *model.Principal) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})

	// 登録時に現在の状態（未サインイン）で1回呼ばれる
	if len(events) != 1 || events[0] != nil {
		t.Fatalf("events after subscribe = %v, want [nil]", events)
	}

	if _, err := client.SignInWithPassword(ctx, "user@example.com", "secret"); err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}
	if err := client.SignOut(ctx); err != nil {
		t.Fatalf("SignOut returned error: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[1] == nil || events[1].UID != "uid-123" {
		t.Errorf("events[1] = %+v, want uid-123", events[1])
	}
	if events[2] != nil {
		t.Errorf("events[2] = %+v, want nil", events[2])
	}

	unsubscribe()
	if _, err := client.SignInWithPassword(ctx, "user@example.com", "secret"); err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("解除後にリスナーが呼ばれた: %d events", len(events))
	}
}

func TestFirebaseClient_PersistAndRestore(t *testing.T) {
	store, err := repository.NewFileStateRepo(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("NewFileStateRepo: %v", err)
	}
	ctx := context.Background()

	client, _, _ := setupFirebase(t, store)
	if _, err := client.SignInWithPassword(ctx, "user@example.com", "secret"); err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}

	// 新しいプロセスを模擬
	restored, _, _ := setupFirebase(t, store)
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore returned error: %v", err)
	}
	p := restored.CurrentPrincipal()
	if p == nil || p.UID != "uid-123" {
		t.Fatalf("restored principal = %+v, want uid-123", p)
	}
	tok, err := restored.IDToken(ctx)
	if err != nil || tok != "id-token-1" {
		t.Errorf("IDToken = (%q, %v), want id-token-1", tok, err)
	}

	if err := restored.SignOut(ctx); err != nil {
		t.Fatalf("SignOut returned error: %v", err)
	}
	if _, err := store.Get(ctx, CredentialKey); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("credential should be deleted on sign-out, got %v", err)
	}
}

func TestFirebaseClient_Restore_NoCredential(t *testing.T) {
	store, err := repository.NewFileStateRepo(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStateRepo: %v", err)
	}
	client, _, _ := setupFirebase(t, store)

	if err := client.Restore(context.Background()); err != nil {
		t.Fatalf("Restore returned error: %v", err)
	}
	if client.CurrentPrincipal() != nil {
		t.Error("expected no principal")
	}
}

// failingDeleteStore はDeleteだけが失敗するStateRepository。
type failingDeleteStore struct {
	repository.StateRepository
}

func (failingDeleteStore) Delete(context.Context, string) error {
	return errors.New("store unavailable")
}

func TestFirebaseClient_SignOutFailureKeepsProviderState(t *testing.T) {
	base, err := repository.NewFileStateRepo(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStateRepo: %v", err)
	}
	client, _, _ := setupFirebase(t, failingDeleteStore{base})
	ctx := context.Background()

	if _, err := client.SignInWithPassword(ctx, "user@example.com", "secret"); err != nil {
		t.Fatalf("SignInWithPassword returned error: %v", err)
	}
	if err := client.SignOut(ctx); err == nil {
		t.Fatal("expected SignOut error, got nil")
	}
	if client.CurrentPrincipal() == nil {
		t.Error("サインアウト失敗時はIdP側の状態が残るべき")
	}
}

func TestFirebaseClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewFirebaseClient(FirebaseConfig{
		APIKey:             "test-api-key",
		IdentityToolkitURL: srv.URL,
	}, nil, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	if _, err := client.SignInWithPassword(context.Background(), "a@example.com", "x"); err == nil {
		t.Fatal("expected transport error, got nil")
	}
}
