package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/hitoshi/jobboard/internal/model"
)

// resumeField はレジュメアップロードのmultipartフィールド名。
const resumeField = "resume"

// UploadResume はレジュメファイルをmultipartでアップロードする。POST /resume/upload/
// JSONボディは組み立てないが、認可ヘッダーとエラー正規化はRequestと同一。
func (c *Client) UploadResume(ctx context.Context, filename string, file io.Reader) (model.Payload, error) {
	return c.Upload(ctx, "/resume/upload/", resumeField, filename, file)
}

// Upload はfileをfieldNameのmultipartパートとしてPOSTする。
func (c *Client) Upload(ctx context.Context, endpoint, fieldName, filename string, file io.Reader) (model.Payload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile(fieldName, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read upload file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	headers := make(http.Header, 3)
	headers.Set("Content-Type", mw.FormDataContentType())

	return c.do(ctx, http.MethodPost, endpoint, &buf, headers)
}
