// Package storage provides the S3-compatible object store used for layer
// source files, tiled derivatives, and social previews.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// presignTTL bounds how long minted URLs stay valid. Long enough for a QGIS
// worker run, short enough that a leaked URL goes stale quickly.
const presignTTL = 15 * time.Minute

// Store wraps the S3 client and the bucket all objects live in.
type Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

// Options configures the Store. Endpoint may be empty for real AWS; set it
// for MinIO or another S3-compatible store.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
}

// New builds a Store from explicit credentials.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// MinIO and friends do not support virtual-hosted buckets.
			o.UsePathStyle = true
		}
	})

	return &Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    opts.Bucket,
	}, nil
}

// UploadKey returns the canonical key for a layer's source object.
func UploadKey(userID, projectID, layerID, ext string) string {
	return fmt.Sprintf("uploads/%s/%s/%s%s", userID, projectID, layerID, ext)
}

// PMTilesKey returns the key for a layer's PMTiles derivative.
func PMTilesKey(userID, projectID, layerID string) string {
	return fmt.Sprintf("pmtiles/%s/%s/%s.pmtiles", userID, projectID, layerID)
}

// COGKey returns the key for a raster layer's cloud-optimized GeoTIFF.
func COGKey(layerID string) string {
	return fmt.Sprintf("cog/layer/%s.cog.tif", layerID)
}

// SocialPreviewKey returns the key for a map's social preview image.
func SocialPreviewKey(mapID string) string {
	return fmt.Sprintf("social_previews/map_%s.webp", mapID)
}

// PresignGet mints a short-lived read URL for an object.
func (s *Store) PresignGet(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign GET for %s: %w", key, err)
	}
	return req.URL, nil
}

// PresignPut mints a short-lived write URL for an object.
func (s *Store) PresignPut(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign PUT for %s: %w", key, err)
	}
	return req.URL, nil
}

// Get opens an object for reading. The caller closes the returned reader.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// GetRange opens a byte range of an object. rangeSpec is an HTTP Range
// header value such as "bytes=0-1023". Returns the body, the Content-Range
// of the response, and the length of the returned slice.
func (s *Store) GetRange(ctx context.Context, key, rangeSpec string) (io.ReadCloser, string, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(rangeSpec),
	})
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to get object range %s: %w", key, err)
	}
	return out.Body, aws.ToString(out.ContentRange), aws.ToInt64(out.ContentLength), nil
}

// Put writes an object.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// Head reports whether an object exists and its size.
func (s *Store) Head(ctx context.Context, key string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to head object %s: %w", key, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}
