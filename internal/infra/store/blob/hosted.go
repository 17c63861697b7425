// Package blobstore provides the two asset backends: the hosted storage
// bucket API and a self-hosted MinIO bucket.
package blobstore

import (
	"context"

	"github.com/agrovision/cropscan/internal/infra/backend"
)

type hostedStore struct {
	client *backend.Client
	bucket string
}

func NewHostedStore(client *backend.Client, bucket string) *hostedStore {
	return &hostedStore{client: client, bucket: bucket}
}

func (s *hostedStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, string, error) {
	info, err := s.client.UploadObject(ctx, s.bucket, key, data, contentType)
	if err != nil {
		return "", "", err
	}
	return info.Key, info.URL, nil
}
