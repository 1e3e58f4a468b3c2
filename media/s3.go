// Package media stores user avatars in S3-compatible object storage and
// serves them through a public CDN base URL.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/cryptex-im/cryptex/internal"
)

// MaxAvatarBytes caps decoded avatar uploads at 5 MiB.
const MaxAvatarBytes = 5 * 1024 * 1024

var contentTypeByExt = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
}

type Config struct {
	Region string
	Bucket string
	// PublicBaseURL is the CDN domain avatars are served from, without a
	// trailing slash.
	PublicBaseURL string
	// BaseEndpoint overrides the S3 endpoint for MinIO-style deployments.
	// Empty means AWS.
	BaseEndpoint string
	// AccessKey/SecretKey are optional static credentials; when empty the
	// default AWS credential chain is used.
	AccessKey string
	SecretKey string
}

type AvatarStore struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
}

func NewAvatarStore(ctx context.Context, cfg Config) (*AvatarStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
	})
	return &AvatarStore{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// DecodeAvatar decodes a base64 avatar payload, tolerating an optional
// "data:image/...;base64," prefix, and enforces the size cap.
func DecodeAvatar(encoded string) ([]byte, error) {
	if idx := strings.Index(encoded, ";base64,"); idx >= 0 {
		encoded = encoded[idx+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, internal.Validationf("Invalid image data")
	}
	if len(data) == 0 {
		return nil, internal.Validationf("Invalid image data")
	}
	if len(data) > MaxAvatarBytes {
		return nil, internal.Validationf("Image is too large (max 5MB)")
	}
	return data, nil
}

// Upload replaces the user's avatar: any previous objects under the user's
// prefix are removed, the new image is stored under a fresh key, and its
// public URL is returned.
func (a *AvatarStore) Upload(ctx context.Context, userID, fileExt string, data []byte) (string, error) {
	contentType, ok := contentTypeByExt[strings.ToLower(strings.TrimPrefix(fileExt, "."))]
	if !ok {
		return "", internal.Validationf("Unsupported image type")
	}
	if len(data) == 0 || len(data) > MaxAvatarBytes {
		return "", internal.Validationf("Image is too large (max 5MB)")
	}
	if err := a.Delete(ctx, userID); err != nil {
		return "", err
	}
	key := fmt.Sprintf("avatars/%s/%s.%s", userID, uuid.NewString(), strings.ToLower(strings.TrimPrefix(fileExt, ".")))
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put avatar: %w", err)
	}
	return a.publicBaseURL + "/" + key, nil
}

// Delete removes every object under the user's avatar prefix. A user with
// no avatar is not an error.
func (a *AvatarStore) Delete(ctx context.Context, userID string) error {
	prefix := fmt.Sprintf("avatars/%s/", userID)
	var continuation *string
	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return fmt.Errorf("list avatars: %w", err)
		}
		for _, obj := range out.Contents {
			_, err = a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(a.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return fmt.Errorf("delete avatar %s: %w", aws.ToString(obj.Key), err)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return nil
		}
		continuation = out.NextContinuationToken
	}
}
