// Package storage provides the object storage backends schema exports are
// written to.
package storage

import (
	"context"

	tferrors "github.com/arkilian/tablefit/internal/errors"
)

// ErrObjectNotFound matches (via errors.Is) any storage error reporting a
// missing object.
var ErrObjectNotFound = tferrors.New(tferrors.ErrCategoryStorage, tferrors.CodeObjectNotFound, "object not found")

// ObjectStorage stores small named objects such as DDL scripts and export
// manifests. Object paths use forward slashes on every backend.
type ObjectStorage interface {
	// Put writes data to objectPath, replacing any existing object.
	// Returns the ETag of the stored object.
	Put(ctx context.Context, objectPath string, data []byte) (string, error)

	// Get reads the object at objectPath.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// List returns all object paths under the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

func notFound(objectPath string) error {
	return tferrors.New(tferrors.ErrCategoryStorage, tferrors.CodeObjectNotFound, "object not found: "+objectPath)
}
