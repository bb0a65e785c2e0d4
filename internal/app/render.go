package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/tidwall/gjson"

	"github.com/hitoshi/jobboard/internal/model"
)

// descriptionLimit はテキスト出力で表示する説明文の最大文字数。
const descriptionLimit = 120

// listKeys はレスポンスオブジェクト内で一覧を探すキー（ページネーション形式のレスポンス用）。
var listKeys = []string{"results", "jobs", "data", "items"}

// textPolicy は求人説明文などのHTMLを全て除去する。
var textPolicy = bluemonday.StrictPolicy()

// renderer はコマンド結果を標準出力へ書き出す。
type renderer struct {
	w    io.Writer
	text bool
}

// payload はレスポンスをJSON（インデント付き）またはテキストで出力する。
func (r renderer) payload(p model.Payload) error {
	if !r.text {
		var buf bytes.Buffer
		if err := json.Indent(&buf, p, "", "  "); err != nil {
			return fmt.Errorf("failed to format response: %w", err)
		}
		buf.WriteByte('\n')
		_, err := r.w.Write(buf.Bytes())
		return err
	}

	root := gjson.ParseBytes(p)
	if list, ok := findList(root); ok {
		return r.list(list.Array())
	}
	if root.IsObject() {
		return r.object(root)
	}
	_, err := fmt.Fprintln(r.w, plainText(root.String()))
	return err
}

// jobs はローカル保存の求人一覧を出力する。
func (r renderer) jobs(jobs []model.Payload) error {
	if !r.text {
		if len(jobs) == 0 {
			_, err := fmt.Fprintln(r.w, "[]")
			return err
		}
		arr, err := json.Marshal(jobs)
		if err != nil {
			return fmt.Errorf("failed to encode saved jobs: %w", err)
		}
		return r.payload(arr)
	}

	items := make([]gjson.Result, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, gjson.ParseBytes(j))
	}
	return r.list(items)
}

// list は一覧を1件1行で出力し、説明文があれば次の行に続ける。
func (r renderer) list(items []gjson.Result) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(r.w, "(no results)")
		return err
	}
	for _, item := range items {
		if _, err := fmt.Fprintln(r.w, summaryLine(item)); err != nil {
			return err
		}
		if desc := plainText(item.Get("description").String()); desc != "" {
			if _, err := fmt.Fprintf(r.w, "    %s\n", truncate(desc, descriptionLimit)); err != nil {
				return err
			}
		}
	}
	return nil
}

// object はトップレベルのフィールドを key: value 形式で出力する。
func (r renderer) object(obj gjson.Result) error {
	var err error
	obj.ForEach(func(key, value gjson.Result) bool {
		v := value.Raw
		if value.Type == gjson.String {
			v = plainText(value.String())
		}
		_, err = fmt.Fprintf(r.w, "%s: %s\n", key.String(), v)
		return err == nil
	})
	return err
}

// findList はルートが配列ならそれを、オブジェクトなら既知のキーにある配列を返す。
func findList(root gjson.Result) (gjson.Result, bool) {
	if root.IsArray() {
		return root, true
	}
	if !root.IsObject() {
		return gjson.Result{}, false
	}
	for _, key := range listKeys {
		if v := root.Get(key); v.IsArray() {
			return v, true
		}
	}
	return gjson.Result{}, false
}

// summaryLine は求人（または応募・保存レコード）の要約行を組み立てる。
func summaryLine(item gjson.Result) string {
	if !item.IsObject() {
		return plainText(item.String())
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(item.Get("id").String())
	b.WriteString("] ")

	title := item.Get("title").String()
	if title == "" {
		title = item.Get("job.title").String()
	}
	b.WriteString(plainText(title))

	company := item.Get("company").String()
	if company == "" {
		company = item.Get("company_name").String()
	}
	if company != "" {
		b.WriteString(" @ ")
		b.WriteString(plainText(company))
	}
	if loc := item.Get("location").String(); loc != "" {
		b.WriteString(" (")
		b.WriteString(plainText(loc))
		b.WriteString(")")
	}
	if status := item.Get("status").String(); status != "" {
		b.WriteString(" status=")
		b.WriteString(status)
	}
	return b.String()
}

// plainText はHTMLタグを除去し、空白を1つにまとめる。
func plainText(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(textPolicy.Sanitize(s))), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
