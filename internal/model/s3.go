package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config describes where trained model bundles are published by the
// training pipeline.
type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Region          string        `yaml:"region"`
	Bucket          string        `yaml:"bucket"`
	Prefix          string        `yaml:"prefix"`
	Endpoint        string        `yaml:"endpoint,omitempty"`
	AccessKeyID     string        `yaml:"access_key_id,omitempty"`
	SecretAccessKey string        `yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool          `yaml:"use_path_style"`
	Timeout         time.Duration `yaml:"timeout"`
}

// DefaultS3Config returns default S3 settings.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:  "us-east-1",
		Prefix:  "models/",
		Timeout: 5 * time.Minute,
	}
}

// FetchBundle downloads every object under the configured prefix into
// destDir, preserving relative key paths. Existing files are overwritten,
// so a restart always runs against the published bundle.
func FetchBundle(ctx context.Context, cfg S3Config, destDir string) error {
	if cfg.Bucket == "" {
		return fmt.Errorf("s3 bundle fetch: bucket is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("s3 bundle fetch: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("s3 bundle fetch: create dest dir: %w", err)
	}

	var fetched int
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.Bucket),
		Prefix: aws.String(cfg.Prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3 bundle fetch: list objects: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, cfg.Prefix)
			if rel == "" || strings.HasSuffix(rel, "/") {
				continue
			}

			if err := downloadObject(ctx, client, cfg.Bucket, key, filepath.Join(destDir, filepath.FromSlash(rel))); err != nil {
				return fmt.Errorf("s3 bundle fetch: %s: %w", key, err)
			}
			fetched++
		}
	}

	if fetched == 0 {
		return fmt.Errorf("s3 bundle fetch: no objects under s3://%s/%s", cfg.Bucket, cfg.Prefix)
	}

	slog.Info("model bundle fetched from s3",
		"bucket", cfg.Bucket,
		"prefix", cfg.Prefix,
		"objects", fetched,
		"dest", destDir,
	)
	return nil
}

func downloadObject(ctx context.Context, client *s3.Client, bucket, key, dest string) error {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return err
	}
	return f.Close()
}
