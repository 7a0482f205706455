// Package store fetches routing configuration documents: knowledge graph
// tables and programs from local files, S3 or GCS, and published programs
// from a SQL database.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var (
	ErrUnsupportedScheme = errors.New("store: unsupported source scheme")
	ErrNotFound          = errors.New("store: document not found")
)

// S3API is the subset of the S3 client the fetcher uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// GCSOpener opens an object for reading.
type GCSOpener func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// S3Config configures the lazily created S3 client.
type S3Config struct {
	Region   string
	Endpoint string // MinIO, LocalStack
}

// Fetcher reads documents by URI. Supported schemes are file (also bare
// paths), s3 and gs. Cloud clients are created on first use. A Fetcher is
// safe for concurrent use.
type Fetcher struct {
	s3cfg S3Config

	mu  sync.Mutex
	s3  S3API
	gcs GCSOpener

	logger *slog.Logger
}

type FetcherOption func(*Fetcher)

func WithS3Config(cfg S3Config) FetcherOption { return func(f *Fetcher) { f.s3cfg = cfg } }

func WithS3Client(c S3API) FetcherOption { return func(f *Fetcher) { f.s3 = c } }

func WithGCSOpener(open GCSOpener) FetcherOption { return func(f *Fetcher) { f.gcs = open } }

// WithGCSClient reads gs:// URIs through c.
func WithGCSClient(c *storage.Client) FetcherOption {
	return func(f *Fetcher) { f.gcs = gcsOpener(c) }
}

func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{logger: slog.Default().With("component", "store")}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the document at uri.
func (f *Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("store: source %q: %w", uri, err)
	}
	switch u.Scheme {
	case "", "file":
		return f.fetchFile(u)
	case "s3":
		return f.fetchS3(ctx, u)
	case "gs":
		return f.fetchGCS(ctx, u)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

func (f *Fetcher) fetchFile(u *url.URL) ([]byte, error) {
	path := u.Path
	if u.Opaque != "" {
		path = u.Opaque
	} else if u.Host != "" {
		// file://relative/path parses the first segment as a host.
		path = u.Host + u.Path
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, err
}

func bucketAndKey(u *url.URL) (string, string, error) {
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("store: %s URI needs a bucket and an object: %s", u.Scheme, u.Redacted())
	}
	return u.Host, key, nil
}

func (f *Fetcher) s3Client(ctx context.Context) (S3API, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.s3 != nil {
		return f.s3, nil
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if f.s3cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(f.s3cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("store: load AWS config: %w", err)
	}
	f.s3 = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if f.s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(f.s3cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return f.s3, nil
}

func (f *Fetcher) fetchS3(ctx context.Context, u *url.URL) ([]byte, error) {
	bucket, key, err := bucketAndKey(u)
	if err != nil {
		return nil, err
	}
	client, err := f.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, u.Redacted())
		}
		return nil, fmt.Errorf("store: s3 get %s: %w", u.Redacted(), err)
	}
	defer func() { _ = out.Body.Close() }()
	f.logger.DebugContext(ctx, "fetched", "uri", u.Redacted())
	return io.ReadAll(out.Body)
}

func gcsOpener(c *storage.Client) GCSOpener {
	return func(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
		return c.Bucket(bucket).Object(object).NewReader(ctx)
	}
}

func (f *Fetcher) gcsOpener(ctx context.Context) (GCSOpener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gcs != nil {
		return f.gcs, nil
	}
	// Application default credentials.
	c, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: create GCS client: %w", err)
	}
	f.gcs = gcsOpener(c)
	return f.gcs, nil
}

func (f *Fetcher) fetchGCS(ctx context.Context, u *url.URL) ([]byte, error) {
	bucket, object, err := bucketAndKey(u)
	if err != nil {
		return nil, err
	}
	open, err := f.gcsOpener(ctx)
	if err != nil {
		return nil, err
	}
	r, err := open(ctx, bucket, object)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, u.Redacted())
		}
		return nil, fmt.Errorf("store: gcs get %s: %w", u.Redacted(), err)
	}
	defer func() { _ = r.Close() }()
	f.logger.DebugContext(ctx, "fetched", "uri", u.Redacted())
	return io.ReadAll(r)
}
