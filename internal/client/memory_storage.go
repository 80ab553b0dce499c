package client

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStorage is an in-process StorageClient used when R2 is not configured
// and in tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]StoredObject
	baseURL string
}

// StoredObject is one object held by MemoryStorage
type StoredObject struct {
	Data        []byte
	ContentType string
}

// NewMemoryStorage creates an empty store; URLs are rendered under baseURL
func NewMemoryStorage(baseURL string) *MemoryStorage {
	if baseURL == "" {
		baseURL = "memory://briefings"
	}
	return &MemoryStorage{objects: make(map[string]StoredObject), baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (m *MemoryStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload body: %w", err)
	}
	m.mu.Lock()
	m.objects[key] = StoredObject{Data: data, ContentType: contentType}
	m.mu.Unlock()
	return key, nil
}

func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("object %s not found", key)
	}
	expires := time.Now().Add(expiry).Unix()
	return fmt.Sprintf("%s?expires=%d", m.GetPublicURL(key), expires), nil
}

func (m *MemoryStorage) GetPublicURL(key string) string {
	return m.baseURL + "/" + (&url.URL{Path: key}).EscapedPath()
}

// Get returns a stored object.
func (m *MemoryStorage) Get(key string) (StoredObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}
