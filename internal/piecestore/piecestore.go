// Package piecestore talks to the decentralized-storage network through its
// S3-compatible gateway. The gateway pins uploaded objects and reports the
// content identifier it assigned in object metadata.
package piecestore

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"
	"go.uber.org/zap"

	"github.com/fotoowl/uploadgate/internal/config"
)

// Meta travels with the object into gateway metadata and tags.
type Meta struct {
	Name   string
	UserID string
	Selfie bool
}

// Store wraps the gateway client for piece uploads.
type Store struct {
	client *minio.Client
	bucket string
	region string
	log    *zap.Logger
}

// New creates a gateway client from the Config.
func New(cfg *config.Config, log *zap.Logger) (*Store, error) {
	client, err := minio.New(cfg.StorageEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.StorageAccessKey, cfg.StorageSecretKey, ""),
		Secure: cfg.StorageUseSSL,
		Region: cfg.StorageRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("init gateway client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		client: client,
		bucket: cfg.StorageBucket,
		region: cfg.StorageRegion,
		log:    log,
	}, nil
}

// EnsureBucket makes sure the upload bucket exists before use.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Upload stores the bytes and invokes onComplete with the piece identifier
// as soon as the gateway has acknowledged them. Post-completion bookkeeping
// (object tagging) runs after the callback; its failures are logged and
// never returned, so a caller that released its response on the callback
// cannot be affected.
func (s *Store) Upload(ctx context.Context, objectKey string, data []byte, meta Meta, onComplete func(cid string)) error {
	opts := minio.PutObjectOptions{
		ContentType: http.DetectContentType(data),
		UserMetadata: map[string]string{
			"file-name": meta.Name,
			"user-id":   meta.UserID,
		},
	}
	info, err := s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	cid := s.lookupCID(ctx, objectKey)
	if cid == "" {
		cid = cidFromETag(info.ETag)
	}
	if onComplete != nil {
		onComplete(cid)
	}

	if err := s.tagObject(ctx, objectKey, meta); err != nil {
		s.log.Warn("object tagging failed after upload",
			zap.String("object", objectKey),
			zap.String("cid", cid),
			zap.Error(err))
	}
	return nil
}

// lookupCID reads the gateway-assigned content identifier from object
// metadata (the x-amz-meta-cid header on S3-compatible pinning gateways).
func (s *Store) lookupCID(ctx context.Context, objectKey string) string {
	stat, err := s.client.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		s.log.Warn("stat after upload failed", zap.String("object", objectKey), zap.Error(err))
		return ""
	}
	for key, value := range stat.UserMetadata {
		if strings.EqualFold(key, "cid") {
			return value
		}
	}
	return ""
}

func (s *Store) tagObject(ctx context.Context, objectKey string, meta Meta) error {
	objectTags, err := tags.NewTags(map[string]string{
		"user_id":   meta.UserID,
		"is_selfie": fmt.Sprintf("%t", meta.Selfie),
	}, true)
	if err != nil {
		return fmt.Errorf("build tags: %w", err)
	}
	if err := s.client.PutObjectTagging(ctx, s.bucket, objectKey, objectTags, minio.PutObjectTaggingOptions{}); err != nil {
		return fmt.Errorf("put tags: %w", err)
	}
	return nil
}

// cidFromETag derives a fallback identifier when the gateway did not report
// one. Quotes and multipart dashes are stripped so the result stays
// alphanumeric.
func cidFromETag(etag string) string {
	return strings.NewReplacer(`"`, "", "-", "").Replace(etag)
}

// GatewayURL is the public retrieval URL for a piece.
func GatewayURL(base, cid string) string {
	return strings.TrimSuffix(base, "/") + "/" + cid
}
