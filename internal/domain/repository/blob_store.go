package repository

import (
	"context"
	"io"
	"sort"
)

type BlobStore interface {
	// Upload an object to the bucket and return its public URL.
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) (string, error)
	// Delete the given objects, attempting every key even when some of them fail.
	DeleteMany(ctx context.Context, bucket string, keys []string) DeleteReport
	// List the keys of all objects stored under the prefix.
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
}

// The outcome of a best-effort batch deletion.
type DeleteReport struct {
	Failed map[string]error // Keys that could not be deleted with their cause.
}

// Report whether every key was deleted.
func (r DeleteReport) OK() bool { return len(r.Failed) == 0 }

// Get the keys that could not be deleted in a stable order.
func (r DeleteReport) FailedKeys() []string {
	keys := make([]string, 0, len(r.Failed))
	for key := range r.Failed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Record a failed deletion.
func (r *DeleteReport) Fail(key string, err error) {
	if r.Failed == nil {
		r.Failed = make(map[string]error)
	}
	r.Failed[key] = err
}
