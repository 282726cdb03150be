package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"contentsync/internal/common"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Config holds the settings of an S3-compatible asset backend. The base
// endpoint override makes it work against minio and friends.
type S3Config struct {
	Bucket       string
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
	// PublicBaseURL is where the bucket's objects are served from.
	PublicBaseURL string
}

// S3 stores assets in an S3-compatible bucket under their relative path.
type S3 struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewS3 builds the client from static credentials.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "")))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
	}, nil
}

func (s *S3) key(relPath string) string {
	return strings.TrimPrefix(relPath, "/")
}

func (s *S3) Put(ctx context.Context, relPath string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(relPath)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", relPath, err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, relPath string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(relPath)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, fmt.Errorf("asset %s: %w", relPath, common.ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get %s: %w", relPath, err)
	}
	return out.Body, nil
}

func (s *S3) URL(relPath string) string {
	return s.publicURL + "/" + s.key(relPath)
}
