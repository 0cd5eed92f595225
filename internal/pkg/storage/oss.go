package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	alioss "github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/koladefaj/document-intelligence-backend/config"
)

// OSSStore stores objects in an Aliyun OSS bucket.
type OSSStore struct {
	bucket     *alioss.Bucket
	bucketName string
	endpoint   string
	cdnDomain  string
	scratchDir string
}

func NewOSSStore(cfg config.OSSConfig, scratchDir string) (*OSSStore, error) {
	client, err := alioss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &OSSStore{
		bucket:     bucket,
		bucketName: cfg.BucketName,
		endpoint:   cfg.Endpoint,
		cdnDomain:  cfg.CDNDomain,
		scratchDir: scratchDir,
	}, nil
}

func (s *OSSStore) Name() string { return "oss" }

func (s *OSSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	err := s.bucket.PutObject(key, bytes.NewReader(data), alioss.ContentType(contentType), alioss.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}
	return s.url(key), nil
}

func (s *OSSStore) Get(ctx context.Context, key string) (string, error) {
	dst, err := scratchPath(s.scratchDir, key)
	if err != nil {
		return "", err
	}
	if err := s.bucket.GetObjectToFile(key, dst, alioss.WithContext(ctx)); err != nil {
		if svcErr, ok := err.(alioss.ServiceError); ok && svcErr.StatusCode == 404 {
			return "", ErrObjectNotFound
		}
		return "", fmt.Errorf("failed to download object: %w", err)
	}
	return dst, nil
}

func (s *OSSStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.DeleteObject(key, alioss.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (s *OSSStore) url(key string) string {
	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", strings.TrimRight(s.cdnDomain, "/"), key)
	}
	return fmt.Sprintf("https://%s.%s/%s", s.bucketName, s.endpoint, key)
}
