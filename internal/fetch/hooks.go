package fetch

import (
	"context"

	"github.com/hitoshi/jobboard/internal/config"
	"github.com/hitoshi/jobboard/internal/model"
)

// API はフックが利用するAPIクライアントの操作。*apiclient.Client が満たす。
type API interface {
	GetJobs(ctx context.Context, params model.Params) (model.Payload, error)
	GetJobDetail(ctx context.Context, jobID string) (model.Payload, error)
	GetJobRecommendations(ctx context.Context) (model.Payload, error)
	GetAppliedJobs(ctx context.Context) (model.Payload, error)
	GetSavedJobs(ctx context.Context) (model.Payload, error)
	GetUserPreferences(ctx context.Context) (model.Payload, error)
	GetUserSettings(ctx context.Context) (model.Payload, error)
	GetDashboardAnalytics(ctx context.Context) (model.Payload, error)
	GetJobTrends(ctx context.Context) (model.Payload, error)
	GetUserProfile(ctx context.Context) (model.Payload, error)
}

// Hooks はよく使うAPI呼び出しのQueryを生成する。
type Hooks struct {
	api    API
	policy config.CommitPolicy
}

// NewHooks はHooksを生成する。
func NewHooks(api API, policy config.CommitPolicy) *Hooks {
	return &Hooks{api: api, policy: policy}
}

// Executor はHooksと同じコミット規則のExecutorを生成する。
func (h *Hooks) Executor() *Executor[model.Payload] {
	return NewExecutor[model.Payload](h.policy)
}

// JobsCall はparamsで求人一覧を取得する呼び出しを返す。
func (h *Hooks) JobsCall(params model.Params) Call[model.Payload] {
	return func(ctx context.Context) (model.Payload, error) {
		return h.api.GetJobs(ctx, params)
	}
}

// Jobs は求人一覧のQueryを生成する。依存値はエンコード済みのparams。
// paramsを変えるときは q.SetDeps(h.JobsCall(p), p.Encode()) を使う。
func (h *Hooks) Jobs(ctx context.Context, params model.Params) *Query[model.Payload] {
	return NewQuery(ctx, h.policy, h.JobsCall(params), params.Encode())
}

// JobDetailCall はjobIDの求人詳細を取得する呼び出しを返す。
func (h *Hooks) JobDetailCall(jobID string) Call[model.Payload] {
	return func(ctx context.Context) (model.Payload, error) {
		return h.api.GetJobDetail(ctx, jobID)
	}
}

// JobDetail は求人詳細のQueryを生成する。依存値はjobID。
func (h *Hooks) JobDetail(ctx context.Context, jobID string) *Query[model.Payload] {
	return NewQuery(ctx, h.policy, h.JobDetailCall(jobID), jobID)
}

func (h *Hooks) JobRecommendations(ctx context.Context) *Query[model.Payload] {
	return NewQuery[model.Payload](ctx, h.policy, h.api.GetJobRecommendations)
}

func (h *Hooks) AppliedJobs(ctx context.Context) *Query[model.Payload] {
	return NewQuery[model.Payload](ctx, h.policy, h.api.GetAppliedJobs)
}

func (h *Hooks) SavedJobs(ctx context.Context) *Query[model.Payload] {
	return NewQuery[model.Payload](ctx, h.policy, h.api.GetSavedJobs)
}

func (h *Hooks) UserPreferences(ctx context.Context) *Query[model.Payload] {
	return NewQuery[model.Payload](ctx, h.policy, h.api.GetUserPreferences)
}

func (h *Hooks) UserSettings(ctx context.Context) *Query[model.Payload] {
	return NewQuery[model.Payload](ctx, h.policy, h.api.GetUserSettings)
}

func (h *Hooks) DashboardAnalytics(ctx context.Context) *Query[model.Payload] {
	return NewQuery[model.Payload](ctx, h.policy, h.api.GetDashboardAnalytics)
}

func (h *Hooks) JobTrends(ctx context.Context) *Query[model.Payload] {
	return NewQuery[model.Payload](ctx, h.policy, h.api.GetJobTrends)
}

func (h *Hooks) UserProfile(ctx context.Context) *Query[model.Payload] {
	return NewQuery[model.Payload](ctx, h.policy, h.api.GetUserProfile)
}
