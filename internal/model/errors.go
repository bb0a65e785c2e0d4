// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind はAPI呼び出し失敗の分類を表す。
type ErrorKind string

// 定義済みエラー種別
const (
	// ErrKindTransport はDNS失敗・接続拒否・タイムアウト等の通信エラー。
	ErrKindTransport ErrorKind = "transport"
	// ErrKindProtocol は2xx以外のHTTPステータス。
	ErrKindProtocol ErrorKind = "protocol"
	// ErrKindDecode はレスポンスボディが有効なJSONでない場合。
	ErrKindDecode ErrorKind = "decode"
	// ErrKindCredential はトークン取得失敗（reject ポリシー時のみ発生）。
	ErrKindCredential ErrorKind = "credential"
)

// RequestError はAPIクライアントの呼び出し失敗を表す統一エラー。
// Error() はMessageをそのまま返す。
type RequestError struct {
	Kind       ErrorKind
	Endpoint   string
	StatusCode int    // protocol の場合のみ設定される
	Message    string // 利用者に表示可能な空でないメッセージ
	Err        error  // 元になったエラー
}

// Error はerrorインターフェースを実装する。
func (e *RequestError) Error() string {
	return e.Message
}

// Unwrap は元のエラーを返す。
func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsKind はerrのチェーンに指定種別のRequestErrorが含まれるかを返す。
func IsKind(err error, kind ErrorKind) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind == kind
	}
	return false
}

// NewTransportError は通信エラーを生成する。
func NewTransportError(endpoint string, err error) *RequestError {
	return &RequestError{
		Kind:     ErrKindTransport,
		Endpoint: endpoint,
		Message:  fmt.Sprintf("request to %s failed: %v", endpoint, err),
		Err:      err,
	}
}

// NewProtocolError は2xx以外のレスポンスに対するエラーを生成する。
// backendMessage が空の場合は "HTTP <status>: <statusText>" を用いる。
func NewProtocolError(endpoint string, statusCode int, statusText, backendMessage string) *RequestError {
	msg := backendMessage
	if msg == "" {
		if statusText == "" {
			statusText = http.StatusText(statusCode)
		}
		msg = fmt.Sprintf("HTTP %d: %s", statusCode, statusText)
	}
	return &RequestError{
		Kind:       ErrKindProtocol,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Message:    msg,
	}
}

// NewDecodeError はJSONパース失敗のエラーを生成する。
func NewDecodeError(endpoint string, err error) *RequestError {
	return &RequestError{
		Kind:     ErrKindDecode,
		Endpoint: endpoint,
		Message:  fmt.Sprintf("invalid JSON response from %s: %v", endpoint, err),
		Err:      err,
	}
}

// NewCredentialError はトークン取得失敗のエラーを生成する。
func NewCredentialError(endpoint string, err error) *RequestError {
	return &RequestError{
		Kind:     ErrKindCredential,
		Endpoint: endpoint,
		Message:  fmt.Sprintf("could not obtain bearer token for %s: %v", endpoint, err),
		Err:      err,
	}
}
