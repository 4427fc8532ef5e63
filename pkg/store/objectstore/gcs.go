package objectstore

import (
	"context"
	"fmt"
	"io"
	"sort"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSObjectStore is the GCS realization of ObjectStore, for deployments that
// keep their artifact bucket on Google Cloud instead of S3. Baselines live at
// "baselines/<repoId>.json" in a bucket with object versioning enabled.
type GCSObjectStore struct {
	client *storage.Client
	bucket string
}

// GCSConfig configures the GCS object store adapter.
type GCSConfig struct {
	Bucket string
}

// NewGCSObjectStore builds a GCS-backed ObjectStore using application
// default credentials.
func NewGCSObjectStore(ctx context.Context, cfg GCSConfig) (*GCSObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: gcs client: %w", err)
	}
	return &GCSObjectStore{client: client, bucket: cfg.Bucket}, nil
}

func (g *GCSObjectStore) bucketHandle() *storage.BucketHandle {
	return g.client.Bucket(g.bucket)
}

func (g *GCSObjectStore) GetBaseline(ctx context.Context, key string) ([]byte, error) {
	r, err := g.bucketHandle().Object(objectKey(key)).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objectstore: gcs get: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *GCSObjectStore) PutBaseline(ctx context.Context, key string, data []byte) error {
	w := g.bucketHandle().Object(objectKey(key)).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("objectstore: gcs put: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("objectstore: gcs put: %w", err)
	}
	return nil
}

func (g *GCSObjectStore) ListBaselineVersions(ctx context.Context, key string) ([]ObjectVersion, error) {
	it := g.bucketHandle().Objects(ctx, &storage.Query{
		Prefix:    objectKey(key),
		Versions:  true,
	})

	var versions []ObjectVersion
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("objectstore: gcs list versions: %w", err)
		}
		versions = append(versions, ObjectVersion{
			VersionID:    fmt.Sprintf("%d", attrs.Generation),
			LastModified: attrs.Updated,
		})
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].LastModified.After(versions[j].LastModified)
	})
	return versions, nil
}
