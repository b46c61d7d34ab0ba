// Package storage defines the versioned object store the tracker ingests
// from and persists to, with an S3-compatible client for production and
// an in-memory store for tests.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when the object does not exist.
// Absence is an ordinary outcome, not exceptional control flow.
var ErrNotFound = errors.New("storage: object not found")

// ErrPreconditionFailed is returned by PutIf when the object's current
// version no longer matches the expected tag (a concurrent writer won).
var ErrPreconditionFailed = errors.New("storage: version precondition failed")

// ObjectInfo describes one listed object. VersionTag identifies the
// content revision and is the tracker's deduplication key.
type ObjectInfo struct {
	Key        string
	Name       string
	VersionTag string
}

// Object is the content of a read object together with its version tag.
type Object struct {
	Content    []byte
	VersionTag string
}

// Store is the versioned object store contract. All operations are safe
// to call repeatedly; retry and rate-limit handling live behind the
// implementation.
type Store interface {
	// List returns the objects under a key prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Read fetches an object. Returns ErrNotFound when absent.
	Read(ctx context.Context, key string) (*Object, error)

	// Put writes an object unconditionally and returns its new version tag.
	Put(ctx context.Context, key string, content []byte) (string, error)

	// PutIf writes an object with optimistic concurrency. A non-empty
	// expectedTag requires the current version to match; an empty tag
	// requires the object not to exist yet. Returns
	// ErrPreconditionFailed when a concurrent writer got there first.
	PutIf(ctx context.Context, key string, content []byte, expectedTag string) (string, error)

	// Delete removes an object revision.
	Delete(ctx context.Context, key, versionTag string) error
}
