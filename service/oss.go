package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"time"

	"microfilm-server/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// ObjectStore is the durable-storage contract: upload a blob under a
// deterministic path, get back a public URL. Uploads overwrite, so retries
// are idempotent at the storage layer.
type ObjectStore interface {
	Upload(ctx context.Context, reader io.Reader, objectName string, size int64) (string, error)
}

// MinIOStore stores generated assets in a single bucket. Construct once per
// process and share.
type MinIOStore struct {
	client *minio.Client
	bucket string
	domain string
}

func NewMinIOStore(endpoint, accessKey, secretKey, bucket, domain string, useSSL bool) (*MinIOStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio init failed: %w", err)
	}
	return &MinIOStore{client: client, bucket: bucket, domain: domain}, nil
}

func NewMinIOStoreFromConfig() (*MinIOStore, error) {
	cfg := config.AppConfig.MinIO
	return NewMinIOStore(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Bucket, cfg.Domain, cfg.UseSSL)
}

func (s *MinIOStore) Upload(ctx context.Context, reader io.Reader, objectName string, size int64) (string, error) {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return "", fmt.Errorf("check bucket failed: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return "", fmt.Errorf("create bucket failed: %w", err)
		}
		log.Info().Str("bucket", s.bucket).Msg("bucket created")
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentTypeFor(objectName),
	})
	if err != nil {
		return "", fmt.Errorf("upload to minio failed: %w", err)
	}

	if s.domain != "" {
		return fmt.Sprintf("%s/%s/%s", s.domain, s.bucket, objectName), nil
	}

	expiry := time.Hour * 72
	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign url failed: %w", err)
	}
	return presignedURL.String(), nil
}

func contentTypeFor(objectName string) string {
	switch filepath.Ext(objectName) {
	case ".mp4":
		return "video/mp4"
	case ".json":
		return "application/json"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// FilmMetadata mirrors the run record kept alongside the clips in storage.
type FilmMetadata struct {
	Script    string `json:"script,omitempty"`
	Shots     string `json:"shots,omitempty"`
	Concept   string `json:"concept,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// SaveFilmMetadata writes videos/<slug>/metadata.json next to the clips.
func SaveFilmMetadata(ctx context.Context, store ObjectStore, slug string, meta FilmMetadata) (string, error) {
	if meta.CreatedAt == "" {
		meta.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	content, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal metadata failed: %w", err)
	}
	objectName := fmt.Sprintf("videos/%s/metadata.json", slug)
	return store.Upload(ctx, bytes.NewReader(content), objectName, int64(len(content)))
}
