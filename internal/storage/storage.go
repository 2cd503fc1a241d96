// Package storage 保存头像与消息附件的字节内容，只返回引用字符串，不做内容校验。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"groupchat/internal/config"

	"github.com/google/uuid"
)

var ErrInvalidRef = errors.New("storage: invalid reference")

type Object struct {
	Prefix      string // avatars, attachments ...
	Ext         string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Store interface {
	Put(ctx context.Context, obj Object) (string, error)
	Delete(ctx context.Context, ref string) error
}

// New 根据配置选择存储实现。
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "minio":
		s, err := NewMinIOStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "", "disk":
		return NewDiskStore(cfg.Dir)
	}
	return nil, fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
}

func newKey(prefix, ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(prefix, uuid.NewString()+ext)
}

// DiskStore 把对象写入本地目录，用于开发环境。
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) Dir() string { return s.dir }

func (s *DiskStore) resolve(ref string) (string, error) {
	clean := path.Clean("/" + ref)
	if ref == "" || clean == "/" || clean[1:] != ref {
		return "", ErrInvalidRef
	}
	return filepath.Join(s.dir, filepath.FromSlash(ref)), nil
}

func (s *DiskStore) Put(ctx context.Context, obj Object) (string, error) {
	ref := newKey(obj.Prefix, obj.Ext)
	full, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(full)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, obj.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return ref, nil
}

// Delete 删除对象；对象不存在视为成功。
func (s *DiskStore) Delete(ctx context.Context, ref string) error {
	full, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
