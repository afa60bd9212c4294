package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/kenneth/chunkvault/internal/config"
	"github.com/kenneth/chunkvault/internal/vaulterr"
)

// maxDeleteBatch is the DeleteObjects request limit.
const maxDeleteBatch = 1000

// objectAPI is the subset of the S3 client used by the backend.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 stores objects in a single bucket of an S3-compatible service.
type S3 struct {
	client objectAPI
	bucket string
}

var (
	_ Backend      = (*S3)(nil)
	_ BatchDeleter = (*S3)(nil)
)

// NewS3 creates a backend from the backend configuration. Static
// credentials are used when both keys are set, otherwise the default AWS
// credential chain applies.
func NewS3(ctx context.Context, cfg config.BackendConfig) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, vaulterr.Storage("load aws config", cfg.Bucket, fmt.Errorf("failed to load AWS config: %w", err))
	}

	// Configure endpoint for non-AWS providers
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3WithClient(client, cfg.Bucket), nil
}

func newS3WithClient(client objectAPI, bucket string) *S3 {
	return &S3{client: client, bucket: bucket}
}

// Put uploads data as the object key.
func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	k, err := cleanKey(key)
	if err != nil {
		return vaulterr.Storage("put", key, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(k),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return vaulterr.Storage("put", key, fmt.Errorf("failed to put object %s/%s: %w", s.bucket, k, err))
	}
	return nil
}

// Get downloads the object key.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, vaulterr.Storage("get", key, err)
	}
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, vaulterr.Storage("get", key, ErrNotFound)
		}
		return nil, vaulterr.Storage("get", key, fmt.Errorf("failed to get object %s/%s: %w", s.bucket, k, err))
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, vaulterr.Storage("get", key, fmt.Errorf("failed to read object data: %w", err))
	}
	return data, nil
}

// Delete removes the object key. S3 reports success for absent keys.
func (s *S3) Delete(ctx context.Context, key string) error {
	k, err := cleanKey(key)
	if err != nil {
		return vaulterr.Storage("delete", key, err)
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
	})
	if err != nil && !isNotFound(err) {
		return vaulterr.Storage("delete", key, fmt.Errorf("failed to delete object %s/%s: %w", s.bucket, k, err))
	}
	return nil
}

// DeleteMany removes keys with DeleteObjects in batches of up to 1000.
func (s *S3) DeleteMany(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := start + maxDeleteBatch
		if end > len(keys) {
			end = len(keys)
		}

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			k, err := cleanKey(key)
			if err != nil {
				return vaulterr.Storage("delete", key, err)
			}
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}

		result, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true), // only errors are reported
			},
		})
		if err != nil {
			return vaulterr.Storage("delete", "", fmt.Errorf("failed to delete objects in bucket %s: %w", s.bucket, err))
		}
		if len(result.Errors) > 0 {
			var errs []error
			for _, e := range result.Errors {
				if aws.ToString(e.Code) == "NoSuchKey" {
					continue
				}
				errs = append(errs, fmt.Errorf("%s: %s: %s", aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message)))
			}
			if len(errs) > 0 {
				return vaulterr.Storage("delete", "", errors.Join(errs...))
			}
		}
	}
	return nil
}

// List returns every key under prefix, following continuation tokens.
func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	keys := []string{}
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, vaulterr.Storage("list", prefix, fmt.Errorf("failed to list objects in bucket %s: %w", s.bucket, err))
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
