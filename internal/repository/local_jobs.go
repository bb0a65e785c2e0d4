package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/hitoshi/jobboard/internal/model"
)

// SavedJobsKey はローカル保存済み求人配列のキー。
const SavedJobsKey = "savedJobs"

// LocalJobs はローカルに保存した求人一覧を管理する。
// 求人レコードは不透明なJSONとして扱い、同一性の判定にのみ "id" フィールドを読む。
// 変更のたびに配列全体を書き直す。
type LocalJobs struct {
	repo StateRepository
}

// NewLocalJobs はLocalJobsを生成する。
func NewLocalJobs(repo StateRepository) *LocalJobs {
	return &LocalJobs{repo: repo}
}

// List は保存済み求人を保存順に返す。未保存の場合は空スライスを返す。
func (l *LocalJobs) List(ctx context.Context) ([]model.Payload, error) {
	data, err := l.repo.Get(ctx, SavedJobsKey)
	if errors.Is(err, ErrNotFound) {
		return []model.Payload{}, nil
	}
	if err != nil {
		return nil, err
	}

	var jobs []model.Payload
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode saved jobs: %w", err)
	}
	if jobs == nil {
		jobs = []model.Payload{}
	}
	return jobs, nil
}

// Add は求人を追加する。同じidの求人が既にあれば置き換える。
func (l *LocalJobs) Add(ctx context.Context, job model.Payload) error {
	if !json.Valid(job) {
		return fmt.Errorf("saved job is not a valid JSON document")
	}

	jobs, err := l.List(ctx)
	if err != nil {
		return err
	}

	id := gjson.GetBytes(job, "id")
	replaced := false
	if id.Exists() {
		for i, j := range jobs {
			if sameID(gjson.GetBytes(j, "id"), id) {
				jobs[i] = job
				replaced = true
				break
			}
		}
	}
	if !replaced {
		jobs = append(jobs, job)
	}

	return l.write(ctx, jobs)
}

// Remove は指定idの求人を削除する。該当が無くてもエラーにしない。
func (l *LocalJobs) Remove(ctx context.Context, id string) error {
	jobs, err := l.List(ctx)
	if err != nil {
		return err
	}

	kept := jobs[:0]
	for _, j := range jobs {
		if gjson.GetBytes(j, "id").String() == id {
			continue
		}
		kept = append(kept, j)
	}

	return l.write(ctx, kept)
}

func (l *LocalJobs) write(ctx context.Context, jobs []model.Payload) error {
	data, err := json.Marshal(jobs)
	if err != nil {
		return fmt.Errorf("failed to encode saved jobs: %w", err)
	}
	return l.repo.Put(ctx, SavedJobsKey, data)
}

// sameID は数値の42と文字列の"42"を同一とみなす。
func sameID(a, b gjson.Result) bool {
	return a.Exists() && a.String() == b.String()
}
