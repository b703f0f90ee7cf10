package sqlite

import (
	"context"
	"fmt"

	"github.com/kelindar/binary"
	usearch "github.com/unum-cloud/usearch/golang"

	"sidekickcore/memory"
)

// staticVectorIndex holds a temporary, non-updatable usearch index built
// fresh for a single recall_scoped call, plus the unit_ids whose positions
// match the index's keys. Grounded directly on the teacher's
// persisted_ai/vector_activities.go staticVectoreStore: rebuild from
// scratch per query rather than maintaining a live index, since retrieval
// units mutate on every AppendEvent and the corpus per entity is small
// (§1 Non-goals: single-workspace scale).
type staticVectorIndex struct {
	index   *usearch.Index
	unitIDs []string
}

func (s *staticVectorIndex) destroy() {
	if s.index != nil {
		s.index.Destroy()
		s.index = nil
	}
}

// vectorSearchScoped implements the ANN nearest-neighbor candidate
// generator (§4.9), building a per-call usearch index over the entity's
// stored embeddings the same way the teacher builds one over a workspace's
// embedding keys before querying it.
func (s *Store) vectorSearchScoped(ctx context.Context, entityID string, queryEmbedding []float32, limit int) ([]memory.ScoredID, error) {
	store, err := s.buildStaticVectorIndex(ctx, entityID, len(queryEmbedding))
	if err != nil {
		return nil, err
	}
	defer store.destroy()

	if len(store.unitIDs) == 0 {
		return nil, nil
	}

	keys, distances, err := store.index.Search(queryEmbedding, uint(limit))
	if err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to search vector index: %w", err)
	}

	out := make([]memory.ScoredID, 0, len(keys))
	for i, key := range keys {
		if int(key) >= len(store.unitIDs) {
			return nil, fmt.Errorf("memory/sqlite: vector index returned out-of-bounds key %d for %d units", key, len(store.unitIDs))
		}
		// usearch reports distance (lower is closer); negate so ScoredID
		// keeps the higher-is-better convention shared with FTS scores.
		out = append(out, memory.ScoredID{ID: store.unitIDs[key], Score: -float64(distances[i])})
	}
	return out, nil
}

func (s *Store) buildStaticVectorIndex(ctx context.Context, entityID string, numDimensions int) (*staticVectorIndex, error) {
	if numDimensions <= 0 {
		return nil, fmt.Errorf("memory/sqlite: numDimensions must be positive, got %d", numDimensions)
	}

	conf := usearch.DefaultConfig(uint(numDimensions))
	index, err := usearch.NewIndex(conf)
	if err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to create vector index: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_id, embedding FROM retrieval_units
		WHERE entity_id = ? AND embedding IS NOT NULL
	`, entityID)
	if err != nil {
		index.Destroy()
		return nil, fmt.Errorf("memory/sqlite: failed to scan embeddings for vector search: %w", err)
	}
	defer rows.Close()

	var unitIDs []string
	var vectors [][]float32
	for rows.Next() {
		var unitID string
		var blob []byte
		if err := rows.Scan(&unitID, &blob); err != nil {
			index.Destroy()
			return nil, fmt.Errorf("memory/sqlite: failed to read embedding row: %w", err)
		}
		var vec []float32
		if err := binary.Unmarshal(blob, &vec); err != nil || len(vec) != numDimensions {
			continue
		}
		unitIDs = append(unitIDs, unitID)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		index.Destroy()
		return nil, err
	}

	if len(unitIDs) == 0 {
		return &staticVectorIndex{index: index, unitIDs: nil}, nil
	}

	if err := index.Reserve(uint(len(unitIDs))); err != nil {
		index.Destroy()
		return nil, fmt.Errorf("memory/sqlite: failed to reserve vector index capacity: %w", err)
	}

	for i, vec := range vectors {
		if err := index.Add(usearch.Key(i), vec); err != nil {
			index.Destroy()
			return nil, fmt.Errorf("memory/sqlite: failed to add embedding for unit %s to index: %w", unitIDs[i], err)
		}
	}

	return &staticVectorIndex{index: index, unitIDs: unitIDs}, nil
}
