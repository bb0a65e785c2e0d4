// Package model はドメインモデルを定義する。
package model

// Principal は認証済みのユーザー（IdPのトークン主体）を表す。
// IdPが所有し、サインイン時にSessionへ複製され、サインアウト時に破棄される。
type Principal struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// SessionState はセッションの公開状態を表す。
// Loading は初回のIdP状態解決が終わるまでtrueで、以降は認証結果に関わらずfalse。
type SessionState struct {
	Principal *Principal `json:"principal"`
	Loading   bool       `json:"loading"`
}

// SignedIn はPrincipalが存在するかを返す。
func (s SessionState) SignedIn() bool {
	return s.Principal != nil
}
