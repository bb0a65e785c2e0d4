package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStateRepo はディレクトリ配下にキーごとのJSONファイルとして状態を保存する。
type FileStateRepo struct {
	dir string
}

// NewFileStateRepo はFileStateRepoを生成する。ディレクトリが無ければ作成する。
func NewFileStateRepo(dir string) (*FileStateRepo, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStateRepo{dir: dir}, nil
}

// Get は指定キーの値を取得する。
func (r *FileStateRepo) Get(_ context.Context, key string) ([]byte, error) {
	path, err := r.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state %q: %w", key, err)
	}
	return data, nil
}

// Put は一時ファイルへ書き込んだ後にrenameで置き換える。
func (r *FileStateRepo) Put(_ context.Context, key string, value []byte) error {
	path, err := r.path(key)
	if err != nil {
		return err
	}
	if !json.Valid(value) {
		return fmt.Errorf("state %q is not a valid JSON document", key)
	}

	tmp, err := os.CreateTemp(r.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state %q: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state %q: %w", key, err)
	}
	return nil
}

// Delete は指定キーのファイルを削除する。
func (r *FileStateRepo) Delete(_ context.Context, key string) error {
	path, err := r.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete state %q: %w", key, err)
	}
	return nil
}

// path はキーに対応するファイルパスを返す。パス区切りを含むキーは拒否する。
func (r *FileStateRepo) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid state key %q", key)
	}
	return filepath.Join(r.dir, key+".json"), nil
}

// compile-time interface check
var _ StateRepository = (*FileStateRepo)(nil)
