// Package persistence 提供设置与会话线程元数据的尽力而为持久化。
package persistence

import (
	"context"
	"errors"
	"sync"
)

// Keys under which session metadata is stored.
const (
	KeySettings = "chat-settings"
	KeyThreads  = "chat-threads"
)

var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is an opaque key-value store.
type BlobStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// MemoryBlobStore keeps blobs in process memory.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore 创建内存存储。
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// Put stores a copy of value.
func (s *MemoryBlobStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.blobs[key] = append([]byte(nil), value...)
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the stored value or ErrBlobNotFound.
func (s *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return append([]byte(nil), value...), nil
}
