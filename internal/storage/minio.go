package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOClient implements the Client interface using minio-go
type MinIOClient struct {
	client *minio.Client
}

// NewMinIOClient creates a client for an S3-compatible endpoint. A scheme
// on the endpoint decides TLS and overrides cfg.Secure.
func NewMinIOClient(cfg Config) (*MinIOClient, error) {
	host, secure, err := parseEndpoint(cfg.Endpoint, cfg.Secure)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOClient{client: client}, nil
}

func parseEndpoint(endpoint string, secure bool) (string, bool, error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("endpoint cannot be empty")
	}

	scheme, rest, found := strings.Cut(endpoint, "://")
	if !found {
		if strings.Contains(endpoint, "/") {
			return "", false, fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, secure, nil
	}

	switch scheme {
	case "http":
		secure = false
	case "https":
		secure = true
	default:
		return "", false, fmt.Errorf("unsupported scheme %q", scheme)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	if u.Path != "" && u.Path != "/" {
		return "", false, fmt.Errorf("endpoint URL cannot have a path (got %s)", u.Path)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("endpoint %q has no host", rest)
	}
	return u.Host, secure, nil
}

// BucketExists checks that the bucket is reachable with the credentials
func (c *MinIOClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return c.client.BucketExists(ctx, bucket)
}

// ListObjects streams the objects below prefix, treated as a directory.
// Folder marker keys are skipped. The error channel carries at most one
// error and is closed after the object channel.
func (c *MinIOClient) ListObjects(ctx context.Context, bucket, prefix string) (<-chan ObjectInfo, <-chan error) {
	objCh := make(chan ObjectInfo)
	errCh := make(chan error, 1)

	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	go func() {
		defer close(errCh)
		defer close(objCh)

		opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}
		for obj := range c.client.ListObjects(ctx, bucket, opts) {
			if obj.Err != nil {
				errCh <- fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, obj.Err)
				return
			}
			if strings.HasSuffix(obj.Key, "/") {
				continue
			}

			info := ObjectInfo{Key: obj.Key, Size: obj.Size, ETag: obj.ETag, LastModified: obj.LastModified}
			select {
			case objCh <- info:
			case <-ctx.Done():
				return
			}
		}
	}()

	return objCh, errCh
}
