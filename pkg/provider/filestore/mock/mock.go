// Package mock provides a filestore.Source for tests.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/voxcal/internal/pipeline"
	"github.com/MrWong99/voxcal/pkg/provider/filestore"
)

// Source is a configurable in-memory file store.
type Source struct {
	mu sync.Mutex

	// Files is returned by ListNew unless ListFunc is set.
	Files []filestore.File
	// Content maps a file ref to its bytes for Fetch.
	Content map[string][]byte

	ListErr  error
	FetchErr error

	// ListFunc and FetchFunc override the default behavior when set.
	ListFunc  func(ctx context.Context, marker string) ([]filestore.File, error)
	FetchFunc func(ctx context.Context, ref string) (io.ReadCloser, error)

	listCalls  []string
	fetchCalls []string
}

var _ filestore.Source = (*Source)(nil)

func (s *Source) ListNew(ctx context.Context, marker string) ([]filestore.File, error) {
	s.mu.Lock()
	s.listCalls = append(s.listCalls, marker)
	fn := s.ListFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, marker)
	}
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.Files, nil
}

func (s *Source) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.fetchCalls = append(s.fetchCalls, ref)
	fn := s.FetchFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, ref)
	}
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	content, ok := s.Content[ref]
	if !ok {
		return nil, fmt.Errorf("mock: fetch %s: %w", ref, pipeline.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// ListCalls returns the markers passed to ListNew so far.
func (s *Source) ListCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.listCalls...)
}

// FetchCalls returns the refs passed to Fetch so far.
func (s *Source) FetchCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetchCalls...)
}
