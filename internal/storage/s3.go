package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/rs/zerolog"
)

// S3Config holds connection settings for an S3-compatible bucket.
// Endpoint is optional; set it for Cloudflare R2 or MinIO.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store is a versioned object store backed by an S3-compatible bucket.
// ETags serve as version tags; conditional writes use If-Match and
// If-None-Match. Transient errors are retried by the SDK.
type S3Store struct {
	client *s3.Client
	bucket string
	log    zerolog.Logger
}

// NewS3Store creates a store for the configured bucket.
func NewS3Store(ctx context.Context, cfg S3Config, log zerolog.Logger) (*S3Store, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		log:    log.With().Str("component", "s3_store").Logger(),
	}, nil
}

// List returns the objects under a key prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			objects = append(objects, ObjectInfo{
				Key:        *obj.Key,
				Name:       path.Base(*obj.Key),
				VersionTag: trimETag(aws.ToString(obj.ETag)),
			})
		}
	}

	return objects, nil
}

// Read fetches an object. Returns ErrNotFound when absent.
func (s *S3Store) Read(ctx context.Context, key string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) || isStatus(err, http.StatusNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", key, err)
	}

	return &Object{
		Content:    content,
		VersionTag: trimETag(aws.ToString(out.ETag)),
	}, nil
}

// Put writes an object unconditionally.
func (s *S3Store) Put(ctx context.Context, key string, content []byte) (string, error) {
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	return trimETag(aws.ToString(out.ETag)), nil
}

// PutIf writes an object only if its current version matches expectedTag
// (or, when expectedTag is empty, only if the object does not exist).
func (s *S3Store) PutIf(ctx context.Context, key string, content []byte, expectedTag string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	}
	if expectedTag == "" {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = aws.String(expectedTag)
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		if isStatus(err, http.StatusPreconditionFailed) || isAPIError(err, "PreconditionFailed") ||
			isStatus(err, http.StatusConflict) || isAPIError(err, "ConditionalRequestConflict") {
			return "", ErrPreconditionFailed
		}
		return "", fmt.Errorf("failed conditional write of %s: %w", key, err)
	}
	return trimETag(aws.ToString(out.ETag)), nil
}

// Delete removes an object revision.
func (s *S3Store) Delete(ctx context.Context, key, versionTag string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if versionTag != "" {
		input.IfMatch = aws.String(versionTag)
	}

	if _, err := s.client.DeleteObject(ctx, input); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// trimETag strips the quotes S3 wraps around ETag values.
func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// isAPIError checks whether an error carries the given S3 error code.
func isAPIError(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}

// isStatus checks the HTTP status of an SDK response error.
func isStatus(err error, status int) bool {
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == status
}
