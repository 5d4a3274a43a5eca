package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore is the subset of object storage that discovery needs.
type ObjectStore interface {
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// S3Config configures the S3 object store.
type S3Config struct {
	Region    string
	AccessKey string // empty: default credential chain
	SecretKey string
	Endpoint  string // optional, for S3-compatible stores
}

// S3Store implements ObjectStore for AWS S3.
type S3Store struct {
	client *s3.Client
}

// NewS3Store creates a store from explicit keys or the default credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client}, nil
}

// List returns every key under prefix.
func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Get opens an object for reading.
func (s *S3Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// IsS3URI reports whether ref is an s3:// reference.
func IsS3URI(ref string) bool {
	return strings.HasPrefix(ref, "s3://")
}

// ParseS3URI splits s3://bucket/key into its parts.
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !IsS3URI(uri) {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 uri %q has no bucket", uri)
	}
	return bucket, key, nil
}

// discoverS3 lists supported, non-hidden objects under an s3:// prefix. A URI
// naming a single supported object is returned as-is.
func (e *Engine) discoverS3(ctx context.Context, uri string) ([]string, error) {
	if e.objects == nil {
		return nil, fmt.Errorf("input %s: s3 inputs are not configured", uri)
	}
	bucket, prefix, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") && supportedExt(prefix) {
		return []string{uri}, nil
	}

	keys, err := e.objects.List(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if strings.HasSuffix(k, "/") || strings.HasPrefix(path.Base(k), ".") || !supportedExt(k) {
			continue
		}
		out = append(out, "s3://"+bucket+"/"+k)
	}
	return out, nil
}

// fetchS3 downloads an object to a temp file that keeps the key's extension.
func (e *Engine) fetchS3(ctx context.Context, uri string) (string, func(), error) {
	if e.objects == nil {
		return "", nil, fmt.Errorf("%s: s3 inputs are not configured", uri)
	}
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return "", nil, err
	}

	body, err := e.objects.Get(ctx, bucket, key)
	if err != nil {
		return "", nil, err
	}
	defer body.Close()

	f, err := os.CreateTemp("", "docket-*"+path.Ext(key))
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("download %s: %w", uri, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}
