package sqlite

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"sidekickcore/memory"
)

// deterministicEmbedder is a fixed-dimension, fully deterministic
// memory.EmbeddingProvider used in tests so vector recall is exercised
// without depending on a real embeddings API. It buckets the text's
// byte-sum across a handful of dimensions, which is enough to make two
// dissimilar strings produce distinguishably different vectors.
type deterministicEmbedder struct {
	dims int
}

func (d deterministicEmbedder) Dimensions() int { return d.dims }

func (d deterministicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, d.dims)
	for i, r := range text {
		vec[i%d.dims] += float32(math.Mod(float64(r), 97))
	}
	return vec, nil
}

// noEmbedder reports Dimensions()==0, the §4.10 "no embedding available"
// signal that drives backends to FTS-only recall.
type noEmbedder struct{}

func (noEmbedder) Dimensions() int { return 0 }
func (noEmbedder) Embed(_ context.Context, _ string) ([]float32, error) { return nil, nil }

// newTestStore opens an in-memory database, applies migrations, and returns
// a Store wired to embedder, matching the teacher's NewTestSqliteStorage
// harness shape (srv/sqlite/test_helpers.go).
func newTestStore(t *testing.T, embedder memory.EmbeddingProvider, cacheCapacity int) *Store {
	t.Helper()
	client, err := NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client.DB(), embedder, cacheCapacity)
}
