// Package objectstore implements the S3-compatible object-store engine
// (C9): prefix-relative PUT/HEAD against a bucket, mode-aware upload
// skipping, per spec.md §4.9.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/qbak-io/backupd/internal/localcopy"
	"github.com/qbak-io/backupd/internal/manifest"
)

// Bucket describes one object-store destination. Endpoint overrides the
// default AWS endpoint resolution, letting the same engine target any
// S3-compatible service (MinIO, R2, etc.); Region and static credentials
// are optional — when empty, ambient SDK credential resolution applies.
type Bucket struct {
	Name      string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Client wraps an s3.Client bound to one Bucket.
type Client struct {
	s3     *s3.Client
	bucket Bucket
}

// NewClient builds an SDK client for bucket, resolving the AWS config
// chain and overriding region/credentials/endpoint when the bucket
// specifies them.
func NewClient(ctx context.Context, bucket Bucket) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if bucket.Region != "" {
		opts = append(opts, awsconfig.WithRegion(bucket.Region))
	}
	if bucket.AccessKey != "" && bucket.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(bucket.AccessKey, bucket.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if bucket.Endpoint != "" {
			o.BaseEndpoint = aws.String(bucket.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{s3: client, bucket: bucket}, nil
}

// Key computes the forward-slash object key for a relative path, joining
// it onto the bucket's prefix regardless of host OS path conventions.
func Key(bucket Bucket, relPath string) string {
	if bucket.Prefix == "" {
		return relPath
	}
	return path.Join(bucket.Prefix, relPath)
}

// PutFile uploads localPath to bucket under the given relative path.
func (c *Client) PutFile(ctx context.Context, localPath, relPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("objectstore: open %s: %w", localPath, err)
	}
	defer f.Close()

	key := Key(c.bucket, relPath)
	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket.Name),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return nil
}

// HeadObject returns the object's LastModified time, or (zero, false, nil)
// if it does not exist. Any other error is returned as-is.
func (c *Client) HeadObject(ctx context.Context, relPath string) (time.Time, bool, error) {
	key := Key(c.bucket, relPath)
	out, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket.Name),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("objectstore: head %s: %w", key, err)
	}
	if out.LastModified == nil {
		return time.Time{}, true, nil
	}
	return *out.LastModified, true, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}

// UploadTree walks entries and uploads each per the mode predicate,
// recording outcomes in rec. Failures on a single object are logged and do
// not abort the remaining uploads.
func UploadTree(ctx context.Context, entries []localcopy.Entry, localRoot string, client *Client, mode manifest.Mode, rec *manifest.Recorder, logger *zap.Logger) {
	logger = logger.Named("objectstore")

	for _, entry := range entries {
		shouldPut, err := shouldUpload(ctx, client, mode, entry)
		if err != nil {
			rec.RecordFailure(entry.RelPath, err.Error())
			logger.Warn("head failed", zap.String("path", entry.RelPath), zap.Error(err))
			continue
		}
		if !shouldPut {
			rec.RecordSkip(entry.RelPath)
			continue
		}

		localPath := entry.AbsPath(localRoot)
		if err := client.PutFile(ctx, localPath, entry.RelPath); err != nil {
			rec.RecordFailure(entry.RelPath, err.Error())
			logger.Warn("put failed", zap.String("path", entry.RelPath), zap.Error(err))
			continue
		}
		rec.RecordCopy(entry.RelPath, entry.Size)
	}
}

// DownloadTree paginates every object under the bucket's prefix and
// writes it into localDir, mirroring the key's path relative to the
// prefix. Used by the restore engine to stage an s3-spec source before
// the local restore path runs.
func (c *Client) DownloadTree(ctx context.Context, localDir string) error {
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket.Name),
		Prefix: aws.String(c.bucket.Prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("objectstore: list %s: %w", c.bucket.Name, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(strings.TrimPrefix(key, c.bucket.Prefix), "/")
			if rel == "" {
				continue
			}

			localPath := filepath.Join(localDir, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
				return fmt.Errorf("objectstore: mkdir %s: %w", filepath.Dir(localPath), err)
			}
			if err := c.getObjectTo(ctx, key, localPath); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) getObjectTo(ctx context.Context, key, localPath string) error {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket.Name),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("objectstore: create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("objectstore: write %s: %w", localPath, err)
	}
	return nil
}

func shouldUpload(ctx context.Context, client *Client, mode manifest.Mode, entry localcopy.Entry) (bool, error) {
	if mode == manifest.ModeFull {
		return true, nil
	}

	lastModified, found, err := client.HeadObject(ctx, entry.RelPath)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return lastModified.Before(entry.ModTime), nil
}
