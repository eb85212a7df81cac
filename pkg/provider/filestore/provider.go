// Package filestore defines the provider interface for file stores that
// hold voice recordings waiting to be processed.
package filestore

import (
	"context"
	"io"
	"time"
)

// File describes a single recording in the store. Ref is the provider
// specific identifier used for Fetch (a Drive file ID, a filesystem path).
type File struct {
	Ref        string
	Name       string
	Size       int64
	ModifiedAt time.Time
}

// Source lists and downloads recordings from a file store.
//
// ListNew returns files changed after the given marker, oldest first. The
// marker is an RFC 3339 timestamp previously taken from File.ModifiedAt;
// an empty marker means everything in the store. Implementations must
// return pipeline.TransientError for network and rate-limit failures and
// pipeline.FatalError for authorization failures so callers can decide
// whether to retry. Fetch returns pipeline.ErrNotFound when the file has
// disappeared between listing and download.
type Source interface {
	ListNew(ctx context.Context, marker string) ([]File, error)
	Fetch(ctx context.Context, ref string) (io.ReadCloser, error)
}
