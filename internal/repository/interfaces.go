// Package repository はローカル永続状態（保存済み求人・プロフィールキャッシュ・認証情報）の
// 保存先インターフェースと実装を定義する。
// 値はキーごとにJSONドキュメント全体として上書きされ、マージや競合解決は行わない。
package repository

import (
	"context"
	"errors"
)

// ErrNotFound は指定キーの値が存在しないことを表す。
var ErrNotFound = errors.New("repository: key not found")

// StateRepository はキー・バリュー形式のローカル状態の永続化インターフェース。
// 値はJSONドキュメントでなければならない。
type StateRepository interface {
	// Get は指定キーの値を返す。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, key string) ([]byte, error)
	// Put は指定キーの値を丸ごと置き換える。
	Put(ctx context.Context, key string, value []byte) error
	// Delete は指定キーを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
}
