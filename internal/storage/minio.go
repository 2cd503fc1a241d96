package storage

import (
	"context"
	"fmt"

	"groupchat/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinIOStore 使用 S3 兼容的对象存储保存上传内容。
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.StorageConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.MinIOEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
		Secure: cfg.MinIOUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinIOStore{client: client, bucket: cfg.MinIOBucket}, nil
}

func (m *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("storage: create bucket %s: %w", m.bucket, err)
	}
	return nil
}

func (m *MinIOStore) Put(ctx context.Context, obj Object) (string, error) {
	ref := newKey(obj.Prefix, obj.Ext)
	_, err := m.client.PutObject(ctx, m.bucket, ref, obj.Body, obj.Size, minio.PutObjectOptions{
		ContentType: obj.ContentType,
	})
	if err != nil {
		log.Error().Err(err).Str("object", ref).Str("bucket", m.bucket).Msg("minio put")
		return "", err
	}
	return ref, nil
}

func (m *MinIOStore) Delete(ctx context.Context, ref string) error {
	err := m.client.RemoveObject(ctx, m.bucket, ref, minio.RemoveObjectOptions{})
	if err != nil {
		log.Error().Err(err).Str("object", ref).Str("bucket", m.bucket).Msg("minio delete")
	}
	return err
}
