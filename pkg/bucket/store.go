package bucket

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a bucket has no entry for the requested URL.
var ErrNotFound = errors.New("bucket entry not found")

// Store abstracts persistent storage for bucket entries. Implementations
// must be safe for concurrent use.
type Store interface {
	// Put stores an entry in the named bucket, replacing any entry with
	// the same URL.
	Put(ctx context.Context, bucketID string, e *Entry) error

	// Get returns the entry stored under url, or ErrNotFound.
	Get(ctx context.Context, bucketID, url string) (*Entry, error)

	// Delete removes a single entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, bucketID, url string) error

	// List returns every entry URL in the bucket, sorted.
	List(ctx context.Context, bucketID string) ([]string, error)

	// Buckets returns the identities of all buckets holding entries, sorted.
	Buckets(ctx context.Context) ([]string, error)

	// DeleteBucket removes a bucket and all its entries.
	DeleteBucket(ctx context.Context, bucketID string) error

	// Len returns the number of entries in the bucket.
	Len(ctx context.Context, bucketID string) (int, error)
}
