package store

import (
	"context"
	"reflect"
	"sync"
)

// MemoryStore 进程内 Store 实现，用于测试与无 Mongo 的本地运行。
// 过滤语义：顶层字段等值匹配，空过滤匹配全部。
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
}

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]Document)}
}

func matches(doc Document, filter Filter) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func cloneDoc(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func (s *MemoryStore) Insert(_ context.Context, collection string, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = append(s.collections[collection], cloneDoc(doc))
	return nil
}

func (s *MemoryStore) Find(_ context.Context, collection string, filter Filter) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			out = append(out, cloneDoc(doc))
		}
	}
	return out, nil
}

func (s *MemoryStore) FindOne(_ context.Context, collection string, filter Filter) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			return cloneDoc(doc), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Update(_ context.Context, collection string, filter Filter, update Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, doc := range s.collections[collection] {
		if matches(doc, filter) {
			for k, v := range update {
				s.collections[collection][i][k] = v
			}
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) DeleteMany(_ context.Context, collection string, filter Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []Document
	var deleted int64
	for _, doc := range s.collections[collection] {
		if matches(doc, filter) {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	s.collections[collection] = kept
	return deleted, nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }
