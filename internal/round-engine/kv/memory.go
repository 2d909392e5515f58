package kv

import (
	"context"
	"sync"
)

// MemoryStore guarda tudo em um map; usado em testes e no ambiente local
type MemoryStore struct {
	prefix string
	data   *memData
}

type memData struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemory() *MemoryStore {
	return &MemoryStore{data: &memData{m: make(map[string]string)}}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()
	v, ok := s.data.m[join(s.prefix, key)]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.data.mu.Lock()
	s.data.m[join(s.prefix, key)] = value
	s.data.mu.Unlock()
	return nil
}

// Namespace compartilha os dados com o store de origem
func (s *MemoryStore) Namespace(prefix string) Store {
	return &MemoryStore{prefix: join(s.prefix, prefix), data: s.data}
}
