// Package remote rehydrates node content from R2/S3-compatible object
// storage. Snapshot persistence drops content for nodes that carry a
// url, so a restored tree may hold structure-only file nodes whose
// bytes live under their storageKey.
package remote

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/coursekit/coursekit/internal/logging"
	"github.com/coursekit/coursekit/pkg/store"
)

// MaxObjectSize caps how much content Hydrate will pull back into the
// in-memory tree.
const MaxObjectSize = 8 << 20

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// Resolver fetches material content by storage key.
type Resolver struct {
	client *s3.Client
	bucket string
}

// New creates a Resolver for an S3-compatible endpoint.
func New(ctx context.Context, cfg Config) (*Resolver, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.Endpoint,
				HostnameImmutable: true,
			}, nil
		},
	)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &Resolver{client: client, bucket: cfg.Bucket}, nil
}

// Fetch retrieves an object's bytes by storage key.
func (r *Resolver) Fetch(ctx context.Context, storageKey string) ([]byte, error) {
	result, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(storageKey),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", storageKey, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", storageKey, err)
	}
	if len(data) > MaxObjectSize {
		return nil, fmt.Errorf("object %s exceeds %d bytes", storageKey, MaxObjectSize)
	}
	return data, nil
}

// Hydrate restores the content of the node at path from its storage
// key and re-finalizes it with the status it already held.
func (r *Resolver) Hydrate(ctx context.Context, st *store.Store, path string) error {
	node, ok := st.Node(path)
	if !ok {
		return fmt.Errorf("hydrate %s: node does not exist", path)
	}
	if node.StorageKey == "" {
		return fmt.Errorf("hydrate %s: node has no storage key", path)
	}
	if node.Content != "" {
		return nil // already hydrated
	}

	data, err := r.Fetch(ctx, node.StorageKey)
	if err != nil {
		return err
	}

	st.SetContent(path, string(data))
	st.FinalizeFile(path, store.Finalize{
		URL:        node.URL,
		StorageKey: node.StorageKey,
		Status:     node.Status,
	})
	logging.Debug("hydrated node from remote store",
		logging.String("path", path),
		logging.Int("bytes", len(data)))
	return nil
}
