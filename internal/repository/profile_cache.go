package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/jobboard/internal/model"
)

// ProfileCacheKey は総合プロフィールキャッシュのキー。
const ProfileCacheKey = "comprehensiveProfile"

// ProfileCache はバックエンドから取得したプロフィールをローカルにキャッシュする。
type ProfileCache struct {
	repo StateRepository
}

// NewProfileCache はProfileCacheを生成する。
func NewProfileCache(repo StateRepository) *ProfileCache {
	return &ProfileCache{repo: repo}
}

// Load はキャッシュ済みプロフィールを返す。未保存の場合は (nil, nil) を返す。
func (c *ProfileCache) Load(ctx context.Context) (model.Payload, error) {
	data, err := c.repo.Get(ctx, ProfileCacheKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.Payload(data), nil
}

// Save はプロフィールを丸ごと上書きする。nilの場合はキャッシュを削除する。
func (c *ProfileCache) Save(ctx context.Context, profile model.Payload) error {
	if profile == nil {
		return c.repo.Delete(ctx, ProfileCacheKey)
	}
	if !json.Valid(profile) {
		return fmt.Errorf("profile is not a valid JSON document")
	}
	return c.repo.Put(ctx, ProfileCacheKey, profile)
}
