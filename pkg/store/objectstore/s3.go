package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3ObjectStore is the cloud ObjectStore realization: baselines live at
// "<bucket>/baselines/<repoId>.json" with S3 object versioning enabled on
// the bucket, so ListObjectVersions gives real history for free.
type S3ObjectStore struct {
	client *s3.Client
	bucket string
}

// S3Config configures the cloud object store adapter.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for S3-compatible test doubles
}

// NewS3ObjectStore builds an S3-backed ObjectStore.
func NewS3ObjectStore(ctx context.Context, cfg S3Config) (*S3ObjectStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(key string) string {
	return "baselines/" + key + ".json"
}

func (s *S3ObjectStore) GetBaseline(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objectstore: s3 get: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3ObjectStore) PutBaseline(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("objectstore: s3 put: %w", err)
	}
	return nil
}

func (s *S3ObjectStore) ListBaselineVersions(ctx context.Context, key string) ([]ObjectVersion, error) {
	out, err := s.client.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(objectKey(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: list versions: %w", err)
	}

	versions := make([]ObjectVersion, 0, len(out.Versions))
	for _, v := range out.Versions {
		versions = append(versions, ObjectVersion{
			VersionID:    aws.ToString(v.VersionId),
			LastModified: aws.ToTime(v.LastModified),
		})
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].LastModified.After(versions[j].LastModified)
	})
	return versions, nil
}
