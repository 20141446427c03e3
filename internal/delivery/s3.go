package delivery

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ppiankov/claimgate/internal/model"
)

// S3API is the subset of the S3 client the sink uses
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds configuration for the S3 sink
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (MinIO, LocalStack)
	Prefix   string
}

// S3Sink uploads bundles to an S3 bucket
type S3Sink struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Sink loads AWS config from the environment and creates a sink
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 delivery requires a bucket")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3SinkWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3SinkWithClient creates a sink over an existing client
func NewS3SinkWithClient(client S3API, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) Deliver(ctx context.Context, bundle *model.ExportBundle) (string, error) {
	for _, obj := range Objects(s.prefix, bundle) {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(obj.Key),
			Body:        bytes.NewReader(obj.Data),
			ContentType: aws.String(obj.ContentType),
			Metadata: map[string]string{
				"content-hash": bundle.Metadata.ContentHash,
			},
		})
		if err != nil {
			return "", fmt.Errorf("s3 put %s: %w", obj.Key, err)
		}
	}
	return fmt.Sprintf("s3://%s/%s/", s.bucket, BundlePath(s.prefix, bundle)), nil
}
