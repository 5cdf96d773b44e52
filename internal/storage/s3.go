package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v5"

	"duck-etl/internal/domain"
)

// Compile-time interface check.
var _ domain.Publisher = (*S3Publisher)(nil)

// s3API is the subset of the S3 client the publisher uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Config configures an S3Publisher.
type S3Config struct {
	KeyID    string
	Secret   string
	Endpoint string // host[:port] of an S3-compatible service; empty for AWS
	Region   string
	URLStyle string // "path" or "vhost"
}

// S3Publisher uploads staged tables to S3-compatible storage. Overwrite
// uploads the new files first and then deletes the objects that were under
// each overwritten partition prefix before the upload.
type S3Publisher struct {
	client     s3API
	maxRetries uint
	logger     *slog.Logger
}

// NewS3Publisher creates an S3Publisher with a static-credentials client.
func NewS3Publisher(cfg S3Config, logger *slog.Logger) *S3Publisher {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.URLStyle != "vhost",
	}
	if cfg.KeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.KeyID, cfg.Secret, "")
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}
	return newS3Publisher(s3.New(opts), logger)
}

func newS3Publisher(client s3API, logger *slog.Logger) *S3Publisher {
	return &S3Publisher{client: client, maxRetries: 4, logger: logger}
}

// Publish implements domain.Publisher.
func (p *S3Publisher) Publish(ctx context.Context, stagedDir, tablePath string, partitions []string, mode domain.WriteMode) error {
	bucket, tableKey, err := ParseS3Path(tablePath)
	if err != nil {
		return err
	}
	for _, part := range partitions {
		prefix := tableKey + "/"
		if part != "" {
			prefix += part + "/"
		}

		var stale []string
		if mode != domain.ModeAppend {
			stale, err = p.list(ctx, bucket, prefix)
			if err != nil {
				return fmt.Errorf("list %s: %w", prefix, err)
			}
		}

		uploaded, err := p.uploadDir(ctx, filepath.Join(stagedDir, filepath.FromSlash(part)), bucket, prefix)
		if err != nil {
			return fmt.Errorf("upload partition %q: %w", part, err)
		}

		if len(stale) > 0 {
			if err := p.delete(ctx, bucket, without(stale, uploaded, tableKey+"/"+domain.SuccessMarker)); err != nil {
				return fmt.Errorf("delete stale objects under %s: %w", prefix, err)
			}
		}
		p.logger.Debug("partition published", "bucket", bucket, "prefix", prefix, "files", len(uploaded), "replaced", len(stale))
	}
	return p.put(ctx, bucket, tableKey+"/"+domain.SuccessMarker, "")
}

// list returns the keys of every object under prefix.
func (p *S3Publisher) list(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	pager := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// uploadDir uploads the regular files directly under dir to prefix.
func (p *S3Publisher) uploadDir(ctx context.Context, dir, bucket, prefix string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	uploaded := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key := prefix + e.Name()
		if err := p.put(ctx, bucket, key, filepath.Join(dir, e.Name())); err != nil {
			return nil, err
		}
		uploaded[key] = true
	}
	return uploaded, nil
}

// put uploads file to key, or an empty object when file is "". Transient
// failures are retried with exponential backoff.
func (p *S3Publisher) put(ctx context.Context, bucket, key, file string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		in := &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}
		if file != "" {
			f, err := os.Open(file)
			if err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			defer f.Close()
			in.Body = f
			in.ContentType = aws.String("application/vnd.apache.parquet")
		} else {
			in.Body = strings.NewReader("")
		}
		_, err := p.client.PutObject(ctx, in)
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(p.maxRetries),
		backoff.WithMaxElapsedTime(2*time.Minute),
		backoff.WithNotify(func(err error, d time.Duration) {
			p.logger.Warn("retrying upload", "key", key, "in", d, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// delete removes keys in batches of at most 1000, the DeleteObjects limit.
func (p *S3Publisher) delete(ctx context.Context, bucket string, keys []string) error {
	const batch = 1000
	for start := 0; start < len(keys); start += batch {
		end := min(start+batch, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := p.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return err
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}
	return nil
}

func without(keys []string, drop map[string]bool, marker string) []string {
	out := keys[:0:0]
	for _, k := range keys {
		if !drop[k] && k != marker {
			out = append(out, k)
		}
	}
	return out
}

// ParseS3Path extracts bucket and key from an "s3://bucket/path/to/table" URI.
// The key is kept verbatim, so escaped partition values stay escaped.
func ParseS3Path(s3Path string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(s3Path, "s3://")
	if !ok {
		return "", "", fmt.Errorf("expected s3:// scheme in %q", s3Path)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	key = strings.Trim(path.Clean("/"+key), "/")
	if bucket == "" {
		return "", "", fmt.Errorf("empty bucket in S3 path %q", s3Path)
	}
	if key == "" {
		return "", "", fmt.Errorf("empty key in S3 path %q", s3Path)
	}
	return bucket, key, nil
}
