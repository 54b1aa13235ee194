// Package artifacts stores files derived from published menus: the static
// storefront page and exported PDFs.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"
)

var ErrNotFound = errors.New("artifact not found")

// Store is an object store keyed by slash-separated paths.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	// URL returns a link that is valid for at least ttl.
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// PublishedPageKey is where the static storefront of a menu lives.
func PublishedPageKey(slug string) string {
	return path.Join("menus", slug, "index.html")
}

// ExportKey names an export by menu and publish time so that repeated
// exports of the same version overwrite each other.
func ExportKey(menuID string, publishedAt time.Time, filename string) string {
	return path.Join("exports", menuID, publishedAt.UTC().Format("20060102T150405Z"), filename)
}

type object struct {
	contentType string
	data        []byte
}

// Memory keeps objects in process. It serves as the store when no object
// storage is configured.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]object
	baseURL string
}

func NewMemory(baseURL string) *Memory {
	return &Memory{objects: make(map[string]object), baseURL: baseURL}
}

func (m *Memory) Put(_ context.Context, key, contentType string, data []byte) error {
	if key == "" {
		return fmt.Errorf("put artifact: empty key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = object{contentType: contentType, data: append([]byte(nil), data...)}
	return nil
}

func (m *Memory) URL(_ context.Context, key string, _ time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[key]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return m.baseURL + "/" + key, nil
}

// Get returns a stored object.
func (m *Memory) Get(key string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), obj.data...), obj.contentType, nil
}
