package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/hitoshi/jobboard/internal/model"
)

// 各メソッドはrequestの薄い合成で、パラメータのローカル検証は行わない。
// 不正な入力はそのままバックエンドへ送られ、拒否された場合はRequestErrorとなる。

// withQuery はパラメータが空でなければクエリ文字列を付与する。
func withQuery(path string, params model.Params) string {
	if q := params.Encode(); q != "" {
		return path + "?" + q
	}
	return path
}

func jobPath(jobID, suffix string) string {
	return "/jobs/" + url.PathEscape(jobID) + "/" + suffix
}

// --- Health / Status ---

func (c *Client) GetHealthStatus(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/health/", Options{})
}

func (c *Client) GetAPIStatus(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/status/", Options{})
}

// --- Jobs ---

// GetJobs は求人一覧を取得する。GET /jobs/[?params]
func (c *Client) GetJobs(ctx context.Context, params model.Params) (model.Payload, error) {
	return c.Request(ctx, withQuery("/jobs/", params), Options{})
}

// GetJobDetail は求人詳細を取得する。GET /jobs/{id}/
func (c *Client) GetJobDetail(ctx context.Context, jobID string) (model.Payload, error) {
	return c.Request(ctx, jobPath(jobID, ""), Options{})
}

// SearchJobs は求人を検索する。GET /jobs/search/[?params]
func (c *Client) SearchJobs(ctx context.Context, params model.Params) (model.Payload, error) {
	return c.Request(ctx, withQuery("/jobs/search/", params), Options{})
}

func (c *Client) GetJobRecommendations(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/jobs/recommendations/", Options{})
}

// ApplyForJob は求人に応募する。POST /jobs/{id}/apply/
func (c *Client) ApplyForJob(ctx context.Context, jobID string) (model.Payload, error) {
	return c.Request(ctx, jobPath(jobID, "apply/"), Options{Method: http.MethodPost})
}

// SaveJob は求人を保存する。POST /jobs/{id}/save/
func (c *Client) SaveJob(ctx context.Context, jobID string) (model.Payload, error) {
	return c.Request(ctx, jobPath(jobID, "save/"), Options{Method: http.MethodPost})
}

// UnsaveJob は求人の保存を解除する。DELETE /jobs/{id}/unsave/
func (c *Client) UnsaveJob(ctx context.Context, jobID string) (model.Payload, error) {
	return c.Request(ctx, jobPath(jobID, "unsave/"), Options{Method: http.MethodDelete})
}

func (c *Client) GetSkills(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/jobs/skills/", Options{})
}

func (c *Client) GetCategories(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/jobs/categories/", Options{})
}

// --- Resume ---

func (c *Client) AnalyzeResume(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/resume/analyze/", Options{Method: http.MethodPost})
}

func (c *Client) UpdateResume(ctx context.Context, resume interface{}) (model.Payload, error) {
	return c.Request(ctx, "/resume/update/", Options{Method: http.MethodPut, Body: resume})
}

// --- User job interactions ---

func (c *Client) GetAppliedJobs(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/user/applied-jobs/", Options{})
}

func (c *Client) GetSavedJobs(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/user/saved-jobs/", Options{})
}

// --- Preferences / Settings ---

func (c *Client) GetUserPreferences(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/user/preferences/", Options{})
}

func (c *Client) UpdateUserPreferences(ctx context.Context, prefs interface{}) (model.Payload, error) {
	return c.Request(ctx, "/user/preferences/", Options{Method: http.MethodPut, Body: prefs})
}

func (c *Client) GetUserSettings(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/user/settings/", Options{})
}

func (c *Client) UpdateUserSettings(ctx context.Context, settings interface{}) (model.Payload, error) {
	return c.Request(ctx, "/user/settings/", Options{Method: http.MethodPut, Body: settings})
}

// --- Analytics ---

func (c *Client) GetDashboardAnalytics(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/analytics/dashboard/", Options{})
}

func (c *Client) GetJobTrends(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/analytics/job-trends/", Options{})
}

// --- User profile ---

func (c *Client) GetUserProfile(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/users/profile/", Options{})
}

func (c *Client) UpdateUserProfile(ctx context.Context, profile interface{}) (model.Payload, error) {
	return c.Request(ctx, "/users/profile/", Options{Method: http.MethodPut, Body: profile})
}

// SyncUser はサインイン中のユーザーをバックエンドに同期する。POST /users/sync/
func (c *Client) SyncUser(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/users/sync/", Options{Method: http.MethodPost})
}

func (c *Client) GetUserActivities(ctx context.Context) (model.Payload, error) {
	return c.Request(ctx, "/users/activities/", Options{})
}

// --- AI jobs ---

// GetAIJobs はAI生成の求人一覧を取得する。GET /jobs/ai/[?params]
func (c *Client) GetAIJobs(ctx context.Context, params model.Params) (model.Payload, error) {
	return c.Request(ctx, withQuery("/jobs/ai/", params), Options{})
}

// RefreshAIJobs はAI求人の再生成を要求する。paramsはJSONボディとして送る。
func (c *Client) RefreshAIJobs(ctx context.Context, params model.Params) (model.Payload, error) {
	if params == nil {
		params = model.Params{}
	}
	return c.Request(ctx, "/jobs/ai/refresh/", Options{Method: http.MethodPost, Body: params})
}

func (c *Client) SaveAIJob(ctx context.Context, job interface{}) (model.Payload, error) {
	return c.Request(ctx, "/jobs/ai/save/", Options{Method: http.MethodPost, Body: job})
}
