// Package identity はIdP（Firebase Authentication）クライアントを提供する。
// ベアラートークンの発行、サインイン/サインアウト、状態変化の通知を担う。
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/jobboard/internal/model"
)

// ErrNotSignedIn はサインイン中のユーザーがいないことを表す。
var ErrNotSignedIn = errors.New("identity: not signed in")

// ProviderError はIdPが返したエラー（例: EMAIL_NOT_FOUND）を表す。
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.Message != "" && e.Message != e.Code {
		return fmt.Sprintf("identity provider error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("identity provider error %s", e.Code)
}

// TokenSource は現在のベアラートークンを返す。APIクライアントは呼び出しごとにこれを読む。
type TokenSource interface {
	IDToken(ctx context.Context) (string, error)
}

// Provider はIdPクライアントのインターフェース。
type Provider interface {
	TokenSource

	// CurrentPrincipal はサインイン中のPrincipalのコピーを返す。未サインインならnil。
	CurrentPrincipal() *model.Principal
	// OnChange は状態変化リスナーを登録する。登録時に現在の状態で1回呼ばれ、
	// 以降サインイン/サインアウトのたびに呼ばれる。戻り値で登録を解除する。
	OnChange(fn func(*model.Principal)) (unsubscribe func())

	SignInWithPassword(ctx context.Context, email, password string) (*model.Principal, error)
	SignUp(ctx context.Context, email, password, displayName string) (*model.Principal, error)
	SignInWithGoogleIDToken(ctx context.Context, idToken string) (*model.Principal, error)
	SignOut(ctx context.Context) error
	SendPasswordResetEmail(ctx context.Context, email string) error
}
