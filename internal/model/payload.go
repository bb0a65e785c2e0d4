package model

import (
	"encoding/json"
	"net/url"
)

// Payload はバックエンドが所有するレコード（求人・応募・保存済み求人・プロフィール）。
// クライアント側では検証も変換も行わず、受け取ったJSONをそのまま受け渡す。
type Payload = json.RawMessage

// Params はクエリ文字列として送るパラメータ。
type Params map[string]string

// Encode はクエリ文字列を返す。キーはソートされるため、同じParamsからは常に同じ文字列が得られる。
// 空の場合は空文字列を返す。
func (p Params) Encode() string {
	if len(p) == 0 {
		return ""
	}
	v := make(url.Values, len(p))
	for k, val := range p {
		v.Set(k, val)
	}
	return v.Encode()
}
