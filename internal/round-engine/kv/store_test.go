package kv_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/count-market-engine/internal/round-engine/kv"
)

func exercise(t *testing.T, s kv.Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Set(ctx, "a", "2"))
	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	ns := s.Namespace("outcomes")
	_, ok, err = ns.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "namespaces are isolated")

	require.NoError(t, ns.Namespace("dismissed").Set(ctx, "b1", "1"))
	v, ok, err = s.Namespace("outcomes").Namespace("dismissed").Get(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestMemoryStore(t *testing.T) {
	exercise(t, kv.NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	s, err := kv.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()
	exercise(t, s)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.db")
	ctx := context.Background()

	s, err := kv.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Namespace("x").Set(ctx, "k", "v"))
	require.NoError(t, s.Close())

	s, err = kv.OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.Namespace("x").Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}
