// Package kv é o armazenamento chave-valor com namespace usado para estado
// auxiliar (cartão de resultado, dispensas). Backends: memória, Redis, SQLite.
package kv

import "context"

// Store é um KV mínimo com namespace
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Namespace(prefix string) Store
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
