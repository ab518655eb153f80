// Package archive uploads succeeded jobs' output files to S3 or an
// S3-compatible store before their workspaces are reclaimed.
//
// Archiving is best-effort and strictly off the status path: an upload
// failure is reported to the caller for logging but never changes a job's
// outcome.
package archive

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

	"github.com/3leaps/cloakd/pkg/jobs"
)

// Config configures an S3 archive target.
//
// Authentication follows the AWS SDK v2 default chain unless explicit
// credentials are provided. For S3-compatible stores (MinIO, Wasabi), set
// Endpoint and typically ForcePathStyle.
type Config struct {
	// Bucket is the destination bucket (required).
	Bucket string

	// Prefix is prepended to every uploaded key. Optional.
	Prefix string

	// Region is the AWS region. Optional when resolvable from the
	// environment or profile.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores. Optional.
	Endpoint string

	// AccessKeyID and SecretAccessKey are explicit credentials. If one is
	// set, both must be. Optional.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs, required by most
	// S3-compatible stores.
	ForcePathStyle bool
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("archive config: bucket is required")
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return fmt.Errorf("archive config: access key ID and secret access key must be provided together")
	}
	return nil
}

// Uploader archives job outputs to a single bucket.
type Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates an uploader from the given configuration.
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ArchiveJob uploads each output file under <prefix>/<jobID>/<filename>.
// The first failed upload aborts and is returned; earlier uploads are not
// rolled back.
func (u *Uploader) ArchiveJob(ctx context.Context, jobID string, files []jobs.OutputFile) error {
	for _, f := range files {
		key := u.key(jobID, f.Filename)
		input := &s3.PutObjectInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(f.Data),
		}
		if f.ContentType != "" {
			input.ContentType = aws.String(f.ContentType)
		}
		if _, err := u.client.PutObject(ctx, input); err != nil {
			return fmt.Errorf("archive %s: %w", key, err)
		}
	}
	return nil
}

func (u *Uploader) key(jobID, filename string) string {
	if u.prefix == "" {
		return path.Join(jobID, filename)
	}
	return path.Join(u.prefix, jobID, filename)
}
