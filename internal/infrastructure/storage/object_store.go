package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// ObjectStore is the slice of object storage the ledger needs
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// URLSigner hands out time-limited download links for stored objects
type URLSigner interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
}

// MemoryObjectStore keeps objects in process memory. It backs development
// setups without S3 and package tests.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	// BaseURL prefixes generated download URLs
	BaseURL string
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryObjectStore creates an empty store
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		objects: make(map[string]memoryObject),
		BaseURL: "memory://objects",
	}
}

var (
	_ ObjectStore = (*MemoryObjectStore)(nil)
	_ URLSigner   = (*MemoryObjectStore)(nil)
)

// Put implements ObjectStore
func (s *MemoryObjectStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return ErrKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{data: slices.Clone(data), contentType: contentType}
	return nil
}

// Get implements ObjectStore
func (s *MemoryObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return slices.Clone(obj.data), nil
}

// List implements ObjectStore
func (s *MemoryObjectStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Exists implements ObjectStore
func (s *MemoryObjectStore) Exists(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrKeyRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

// Delete implements ObjectStore
func (s *MemoryObjectStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// SignedURL returns an unsigned URL carrying the expiry. Missing keys are
// reported so callers never hand out a dead link.
func (s *MemoryObjectStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	ok, err := s.Exists(ctx, key)
	if err != nil {
		return "", time.Time{}, err
	}
	if !ok {
		return "", time.Time{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	expiresAt := time.Now().Add(ttl)
	return s.BaseURL + "/" + key + "?expires=" + expiresAt.Format(time.RFC3339), expiresAt, nil
}

// ContentType returns the content type an object was stored with
func (s *MemoryObjectStore) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[key].contentType
}
