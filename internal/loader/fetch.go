package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemScheme prefixes ephemeral in-process object references.
const MemScheme = "mem:"

// ErrObjectNotFound is returned for a mem: reference that is not held.
var ErrObjectNotFound = errors.New("object not found")

// Fetcher returns the encoded bytes behind a content reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// ObjectStore holds ephemeral audio payloads addressed by mem: references,
// such as synthesis results that were never persisted.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewObjectStore creates an empty store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string][]byte)}
}

// Put stores data and returns its mem: reference.
func (s *ObjectStore) Put(data []byte) string {
	ref := MemScheme + uuid.NewString()
	s.mu.Lock()
	s.objects[ref] = data
	s.mu.Unlock()
	return ref
}

// Get returns the payload for ref.
func (s *ObjectStore) Get(ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrObjectNotFound)
	}
	return data, nil
}

// Delete releases ref.
func (s *ObjectStore) Delete(ref string) {
	s.mu.Lock()
	delete(s.objects, ref)
	s.mu.Unlock()
}

// Retain releases every object whose reference is not in keep and reports
// how many were released.
func (s *ObjectStore) Retain(keep map[string]struct{}) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for ref := range s.objects {
		if _, ok := keep[ref]; !ok {
			delete(s.objects, ref)
			n++
		}
	}
	return n
}

// Len returns the number of held objects.
func (s *ObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// SourceFetcher resolves http(s) URLs, file URLs, plain paths and mem:
// references uniformly.
type SourceFetcher struct {
	http    *http.Client
	objects *ObjectStore
}

// NewSourceFetcher creates a fetcher. objects may be nil when no ephemeral
// references are in use.
func NewSourceFetcher(objects *ObjectStore, timeout time.Duration) *SourceFetcher {
	return &SourceFetcher{
		http:    &http.Client{Timeout: timeout},
		objects: objects,
	}
}

// Fetch implements Fetcher.
func (f *SourceFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, MemScheme):
		if f.objects == nil {
			return nil, fmt.Errorf("%s: %w", ref, ErrObjectNotFound)
		}
		return f.objects.Get(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return f.fetchHTTP(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("parse file url: %w", err)
		}
		return os.ReadFile(u.Path)
	default:
		return os.ReadFile(ref)
	}
}

func (f *SourceFetcher) fetchHTTP(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", ref, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return data, nil
}
