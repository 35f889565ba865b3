package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Client is the slice of S3-compatible storage the export command needs
type Client interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	ListObjects(ctx context.Context, bucket, prefix string) (<-chan ObjectInfo, <-chan error)
}

// ObjectInfo contains object metadata
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Config contains client configuration
type Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	Secure       bool
}

// Location is a parsed s3://bucket/prefix path
type Location struct {
	Bucket string
	Prefix string
}

func (l Location) String() string {
	if l.Prefix == "" {
		return "s3://" + l.Bucket
	}
	return "s3://" + l.Bucket + "/" + l.Prefix
}

// ParseS3Path splits an s3:// URL into bucket and key prefix
func ParseS3Path(path string) (Location, error) {
	rest, ok := strings.CutPrefix(path, "s3://")
	if !ok {
		return Location{}, fmt.Errorf("s3 path must start with s3:// (got %q)", path)
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("s3 path %q has no bucket", path)
	}
	return Location{Bucket: bucket, Prefix: strings.TrimSuffix(prefix, "/")}, nil
}

// CountObjects counts objects and bytes under prefix
func CountObjects(ctx context.Context, client Client, bucket, prefix string) (int64, int64, error) {
	objCh, errCh := client.ListObjects(ctx, bucket, prefix)

	var totalObjects int64
	var totalSize int64

	for {
		select {
		case obj, ok := <-objCh:
			if !ok {
				// The error channel is closed after the object channel.
				if errCh == nil {
					return totalObjects, totalSize, nil
				}
				if err, ok := <-errCh; ok && err != nil {
					return totalObjects, totalSize, fmt.Errorf("error counting objects: %w", err)
				}
				return totalObjects, totalSize, nil
			}

			totalObjects++
			totalSize += obj.Size

		case err, ok := <-errCh:
			if ok && err != nil {
				return totalObjects, totalSize, fmt.Errorf("error counting objects: %w", err)
			}
			if !ok {
				errCh = nil
			}

		case <-ctx.Done():
			return totalObjects, totalSize, ctx.Err()
		}
	}
}
