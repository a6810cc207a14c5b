package zarr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"go.ngs.io/nexgddp-api/internal/dataset"
)

// BucketOpener opens a blob bucket from a gocloud URL.
type BucketOpener func(ctx context.Context, bucketURL string) (*blob.Bucket, error)

// Config controls how store locations are mapped to buckets.
type Config struct {
	// Region is applied to s3:// buckets.
	Region string
	// Anonymous requests unsigned access to s3:// and gs:// buckets.
	Anonymous bool
	// OpenBucket overrides blob.OpenBucket.
	OpenBucket BucketOpener
}

// Opener opens Zarr stores addressed by location strings such as
// "s3://bucket/path/store.zarr". Buckets are opened once and shared.
type Opener struct {
	cfg      Config
	observer Observer
	logger   *slog.Logger

	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

// NewOpener creates a store opener.
func NewOpener(cfg Config, observer Observer, logger *slog.Logger) *Opener {
	if cfg.OpenBucket == nil {
		cfg.OpenBucket = blob.OpenBucket
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{
		cfg:      cfg,
		observer: observer,
		logger:   logger,
		buckets:  make(map[string]*blob.Bucket),
	}
}

// OpenGroup opens the Zarr group at location.
func (o *Opener) OpenGroup(ctx context.Context, location string) (*Group, error) {
	bucketURL, prefix, err := SplitLocation(location, o.cfg.Region, o.cfg.Anonymous)
	if err != nil {
		return nil, err
	}
	bucket, err := o.bucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return OpenGroup(ctx, bucket, prefix, o.observer)
}

// OpenMember opens the store at location as a lazy dataset. Only metadata and
// dimension coordinates are read.
func (o *Opener) OpenMember(ctx context.Context, location string) (*dataset.Dataset, error) {
	g, err := o.OpenGroup(ctx, location)
	if err == nil {
		var ds *dataset.Dataset
		if ds, err = g.Dataset(ctx); err == nil {
			o.observer.StoreOpened(nil)
			o.logger.Debug("store opened", "location", location, "variables", ds.VariableNames())
			return ds, nil
		}
	}
	o.observer.StoreOpened(err)
	return nil, err
}

func (o *Opener) bucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if b, ok := o.buckets[bucketURL]; ok {
		return b, nil
	}
	b, err := o.cfg.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	o.buckets[bucketURL] = b
	o.logger.Info("bucket opened", "bucket", bucketURL)
	return b, nil
}

// Close releases every bucket opened so far.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var errs []error
	for u, b := range o.buckets {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bucket %s: %w", u, err))
		}
		delete(o.buckets, u)
	}
	return errors.Join(errs...)
}

// SplitLocation maps a store location onto a gocloud bucket URL and the key
// prefix of the store within that bucket.
func SplitLocation(location, region string, anonymous bool) (bucketURL, prefix string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parse location %q: %w", location, err)
	}
	prefix = strings.Trim(u.Path, "/")
	switch u.Scheme {
	case "s3":
		q := url.Values{}
		if region != "" {
			q.Set("region", region)
		}
		if anonymous {
			q.Set("anonymous", "true")
		}
		bucketURL = "s3://" + u.Host
		if len(q) > 0 {
			bucketURL += "?" + q.Encode()
		}
	case "gs":
		bucketURL = "gs://" + u.Host
		if anonymous {
			bucketURL += "?anonymous=true"
		}
	case "mem":
		bucketURL = "mem://" + u.Host
	case "file":
		bucketURL = "file:///"
	default:
		return "", "", fmt.Errorf("location %q: unsupported scheme %q", location, u.Scheme)
	}
	if u.Scheme != "file" && u.Host == "" {
		return "", "", fmt.Errorf("location %q: missing bucket name", location)
	}
	if prefix == "" {
		return "", "", fmt.Errorf("location %q: missing store path", location)
	}
	return bucketURL, prefix, nil
}
