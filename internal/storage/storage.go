package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"badgerline/internal/domain"
)

// File is submission evidence uploaded before evaluation.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Uploader stores a file and returns a URL that a submission can reference.
type Uploader interface {
	Upload(ctx context.Context, deliveryID string, f File) (string, error)
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

type S3 struct {
	client   *s3.Client
	bucket   string
	region   string
	endpoint string
	prefix   string
}

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}
	return &S3{
		client:   client,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		prefix:   strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *S3) Upload(ctx context.Context, deliveryID string, f File) (string, error) {
	key := s.Key(deliveryID, f.Name)
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(f.Data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", &domain.CollaboratorError{Collaborator: "storage", Err: fmt.Errorf("upload %s: %w", key, err)}
	}
	return s.URL(key), nil
}

// Key returns <prefix>/<delivery>/<uuid><ext>.
func (s *S3) Key(deliveryID, name string) string {
	key := path.Join(deliveryID, uuid.NewString()+path.Ext(name))
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}
	return key
}

// URL returns the object URL for key.
func (s *S3) URL(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// Unavailable fails every upload. It stands in when no storage is configured.
type Unavailable struct{}

func (Unavailable) Upload(context.Context, string, File) (string, error) {
	return "", &domain.CollaboratorError{Collaborator: "storage", Err: fmt.Errorf("no storage configured")}
}
