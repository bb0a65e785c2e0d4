package identity

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/hitoshi/jobboard/internal/model"
)

// GoogleConfig はGoogleフェデレーションサインインの設定。
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
}

// GoogleLogin はGoogle OAuth 2.0の認可コードフローでGoogle IDトークンを取得し、
// IdPのフェデレーションサインインに渡す。
type GoogleLogin struct {
	oauth    *oauth2.Config
	provider Provider
}

// NewGoogleLogin はGoogleLoginを生成する。
func NewGoogleLogin(config GoogleConfig, provider Provider) *GoogleLogin {
	endpoint := endpoints.Google
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}

	return &GoogleLogin{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
		provider: provider,
	}
}

// LoginURL はGoogleの認可URLを生成する。
func (g *GoogleLogin) LoginURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange は認可コードをトークンに交換し、得られたGoogle IDトークンでサインインする。
func (g *GoogleLogin) Exchange(ctx context.Context, code string) (*model.Principal, error) {
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, fmt.Errorf("empty id_token in token response")
	}

	return g.provider.SignInWithGoogleIDToken(ctx, idToken)
}
