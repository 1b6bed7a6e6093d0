// Package publish uploads assembled outputs to S3-compatible object storage
// (AWS S3, Cloudflare R2, MinIO) when [publish] is enabled.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"clipweave/internal/config"
	"clipweave/internal/logging"
)

// Uploader stores a local file and returns where it can be fetched.
type Uploader interface {
	Upload(ctx context.Context, runID, localPath string) (string, error)
}

// putObjectAPI is the slice of the S3 client the uploader needs.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader puts objects under <prefix>/<run_id>/<file name>.
type S3Uploader struct {
	client    putObjectAPI
	bucket    string
	prefix    string
	endpoint  string
	publicURL string
	logger    *slog.Logger
}

// NewUploader returns nil when publishing is disabled.
func NewUploader(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Uploader, error) {
	if cfg == nil || !cfg.Publish.Enabled {
		return nil, nil
	}
	uploader, err := NewS3Uploader(ctx, cfg.Publish, logger)
	if err != nil {
		return nil, err
	}
	return uploader, nil
}

// NewS3Uploader builds an uploader from the [publish] section.
func NewS3Uploader(ctx context.Context, cfg config.Publish, logger *slog.Logger) (*S3Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Uploader(client, cfg, logger), nil
}

func newS3Uploader(client putObjectAPI, cfg config.Publish, logger *slog.Logger) *S3Uploader {
	return &S3Uploader{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		logger:    logging.NewComponentLogger(logger, "publish"),
	}
}

// Key returns the object key for a run's output file.
func (u *S3Uploader) Key(runID, localPath string) string {
	parts := []string{}
	if u.prefix != "" {
		parts = append(parts, u.prefix)
	}
	parts = append(parts, runID, filepath.Base(localPath))
	return path.Join(parts...)
}

// Upload streams localPath to the bucket and returns its URL.
func (u *S3Uploader) Upload(ctx context.Context, runID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open output: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat output: %w", err)
	}

	key := u.Key(runID, localPath)
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "video/mp4"
	}
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to bucket %s: %w", key, u.bucket, err)
	}

	url := u.URL(key)
	u.logger.Info("output published",
		logging.String("key", key),
		logging.String("url", url),
		logging.Int64("output_bytes", info.Size()),
	)
	return url, nil
}

// URL returns the public URL of key when public_url is set, or an s3:// URI.
func (u *S3Uploader) URL(key string) string {
	if u.publicURL != "" {
		return u.publicURL + "/" + key
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key)
}
