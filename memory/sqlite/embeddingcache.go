package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kelindar/binary"
	zlog "github.com/rs/zerolog/log"

	"sidekickcore/memory"
)

// getOrComputeEmbedding implements §4.10: a content-hash keyed cache in
// front of the embedding provider, refreshing accessed_at on hit and
// LRU-evicting down to capacity after an insert. A nil embedder or one
// reporting Dimensions()==0 is a permitted "no embedding" outcome (§4.8).
func (s *Store) getOrComputeEmbedding(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil || s.embedder.Dimensions() == 0 {
		return nil, nil
	}

	hash := memory.ContentHash(text)

	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT embedding FROM embedding_cache WHERE content_hash = ?`, hash).Scan(&blob)
	switch {
	case err == nil:
		now := time.Now().UTC().Format(time.RFC3339)
		if _, uerr := s.db.ExecContext(ctx, `UPDATE embedding_cache SET accessed_at = ? WHERE content_hash = ?`, now, hash); uerr != nil {
			zlog.Warn().Err(uerr).Msg("failed to refresh embedding cache accessed_at")
		}
		var vec []float32
		if uerr := binary.Unmarshal(blob, &vec); uerr != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to decode cached embedding: %w", uerr)
		}
		return vec, nil
	case err == sql.ErrNoRows:
		// fall through to compute
	default:
		return nil, fmt.Errorf("memory/sqlite: failed to read embedding cache: %w", err)
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		zlog.Warn().Err(err).Msg("embedding provider failed, continuing with no embedding")
		return nil, nil
	}

	blob, err = binary.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to encode embedding: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (content_hash, embedding, created_at, accessed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET embedding = excluded.embedding, accessed_at = excluded.accessed_at
	`, hash, blob, now, now); err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to insert embedding cache row: %w", err)
	}

	if err := s.evictEmbeddingCache(ctx); err != nil {
		zlog.Warn().Err(err).Msg("embedding cache eviction failed")
	}

	return vec, nil
}

// evictEmbeddingCache deletes rows beyond s.cacheCapacity, oldest-accessed
// first, delegating the "which rows to drop" decision to the pure
// memory.EvictionCandidates so the policy is tested independent of SQL.
func (s *Store) evictEmbeddingCache(ctx context.Context) error {
	if s.cacheCapacity <= 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT content_hash FROM embedding_cache ORDER BY accessed_at DESC`)
	if err != nil {
		return fmt.Errorf("memory/sqlite: failed to list embedding cache rows: %w", err)
	}
	defer rows.Close()

	var byRecency []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return fmt.Errorf("memory/sqlite: failed to scan embedding cache row: %w", err)
		}
		byRecency = append(byRecency, hash)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	toEvict := memory.EvictionCandidates(byRecency, s.cacheCapacity)
	for _, hash := range toEvict {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM embedding_cache WHERE content_hash = ?`, hash); err != nil {
			return fmt.Errorf("memory/sqlite: failed to evict embedding cache row %q: %w", hash, err)
		}
	}
	return nil
}
