// Package storage resolves attachment paths to time-limited signed URLs.
// Attachments are stored as object paths; the canonical bucket name has
// varied historically, so resolution tries a candidate list in order and
// caches the first bucket that works. Signing failure falls back to the
// public URL so a render path never blocks on storage auth.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dojoverse/dojosync/internal/errors"
	"github.com/dojoverse/dojosync/internal/logging"
)

// Config holds object storage connection settings.
type Config struct {
	Region   string
	Endpoint string // for S3-compatible services; empty for AWS
	// AccessKeyID and SecretAccessKey authenticate signing. Prefer
	// environment credentials; never commit these.
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool

	// Buckets are the candidate bucket names, canonical name first.
	Buckets []string
	// PublicBaseURL is the unauthenticated fallback, e.g. a CDN root.
	PublicBaseURL string
}

// objectAPI is the subset of the S3 client the resolver uses.
type objectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// presignAPI is the subset of the S3 presign client the resolver uses.
type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Resolver resolves attachment paths against a candidate bucket list.
type Resolver struct {
	client        objectAPI
	presigner     presignAPI
	candidates    []string
	publicBaseURL string

	mu       sync.Mutex
	resolved string // first bucket that served an object, "" until known
}

// NewResolver builds a Resolver from config, constructing the S3 client.
func NewResolver(ctx context.Context, cfg Config) (*Resolver, error) {
	if len(cfg.Buckets) == 0 {
		return nil, errors.New(errors.ErrInvalid, "at least one candidate bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageBucket, "failed to load storage config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Resolver{
		client:        client,
		presigner:     s3.NewPresignClient(client),
		candidates:    cfg.Buckets,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// newResolverWithAPI wires explicit API implementations. Used by tests.
func newResolverWithAPI(client objectAPI, presigner presignAPI, candidates []string, publicBaseURL string) *Resolver {
	return &Resolver{
		client:        client,
		presigner:     presigner,
		candidates:    candidates,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// SignedURL resolves an object path to a time-limited signed URL. Candidate
// buckets are probed in order; the first hit is cached so subsequent calls
// skip the probe. When no candidate serves the object, the public URL is
// returned rather than an error, keeping read paths resilient.
func (r *Resolver) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	bucket, err := r.resolveBucket(ctx, path)
	if err != nil {
		logging.Warn("Falling back to public URL",
			map[string]interface{}{"path": path, "error": err.Error()})
		return r.PublicURL(path), nil
	}

	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		logging.Warn("Signing failed, falling back to public URL",
			map[string]interface{}{"path": path, "bucket": bucket, "error": err.Error()})
		return r.PublicURL(path), nil
	}

	return req.URL, nil
}

// PublicURL returns the unauthenticated fallback URL for a path.
func (r *Resolver) PublicURL(path string) string {
	return fmt.Sprintf("%s/%s", r.publicBaseURL, strings.TrimLeft(path, "/"))
}

// Upload writes an object to the canonical (first-candidate) bucket.
func (r *Resolver) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.candidates[0]),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return errors.Wrap(errors.ErrBackend, "failed to upload object", err)
	}
	return nil
}

// Remove deletes an object from whichever bucket resolves for it.
func (r *Resolver) Remove(ctx context.Context, path string) error {
	bucket, err := r.resolveBucket(ctx, path)
	if err != nil {
		return err
	}
	if _, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	}); err != nil {
		return errors.Wrap(errors.ErrBackend, "failed to delete object", err)
	}
	return nil
}

// resolveBucket finds the bucket serving path, trying the cached winner
// first and then every candidate in order.
func (r *Resolver) resolveBucket(ctx context.Context, path string) (string, error) {
	r.mu.Lock()
	cached := r.resolved
	r.mu.Unlock()

	if cached != "" {
		if r.headOK(ctx, cached, path) {
			return cached, nil
		}
		// The cached bucket stopped serving this path; re-probe.
	}

	for _, bucket := range r.candidates {
		if bucket == cached {
			continue
		}
		if r.headOK(ctx, bucket, path) {
			r.mu.Lock()
			r.resolved = bucket
			r.mu.Unlock()

			logging.Debug("Resolved storage bucket",
				map[string]interface{}{"bucket": bucket})
			return bucket, nil
		}
	}

	return "", errors.Newf(errors.ErrStorageBucket,
		"no candidate bucket serves %s", path)
}

func (r *Resolver) headOK(ctx context.Context, bucket, path string) bool {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	return err == nil
}
