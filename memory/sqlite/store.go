package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kelindar/binary"
	zlog "github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"

	"sidekickcore/memory"
)

// Store implements the memory contract (§6.3) against a *sql.DB opened by
// Client. It owns the embedding cache, append_event's atomic write, and
// recall_scoped's candidate generation + rescoring pipeline.
type Store struct {
	db            *sql.DB
	embedder      memory.EmbeddingProvider
	cacheCapacity int
}

// NewStore builds a Store over db. embedder may be nil for FTS-only
// deployments; cacheCapacity is the embedding cache's LRU ceiling (§4.10).
func NewStore(db *sql.DB, embedder memory.EmbeddingProvider, cacheCapacity int) *Store {
	return &Store{db: db, embedder: embedder, cacheCapacity: cacheCapacity}
}

// Capabilities declares this backend's support for each forget depth
// (§6.3). SQLite supports all three natively.
func (s *Store) Capabilities() memory.CapabilityMatrix {
	return memory.CapabilityMatrix{
		ForgetSoft:      memory.CapabilitySupported,
		ForgetHard:      memory.CapabilitySupported,
		ForgetTombstone: memory.CapabilitySupported,
	}
}

func (s *Store) HealthCheck(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

func (s *Store) CountEvents(ctx context.Context, entityID string) (int, error) {
	var count int
	var err error
	if entityID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_events`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_events WHERE entity_id = ?`, entityID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("memory/sqlite: failed to count events: %w", err)
	}
	return count, nil
}

func (s *Store) ResolveSlot(ctx context.Context, entityID, slotKey string) (*memory.BeliefSlot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_id, slot_key, value, status, winner_event_id, source, confidence, importance, privacy_level, updated_at
		FROM belief_slots WHERE entity_id = ? AND slot_key = ?
	`, entityID, slotKey)

	var slot memory.BeliefSlot
	var status, source, privacy, updatedAt string
	if err := row.Scan(&slot.EntityID, &slot.SlotKey, &slot.Value, &status, &slot.WinnerEventID, &source, &slot.Confidence, &slot.Importance, &privacy, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("memory/sqlite: failed to resolve belief slot: %w", err)
	}
	slot.Status = memory.BeliefSlotStatus(status)
	slot.Source = memory.Source(source)
	slot.PrivacyLevel = memory.PrivacyLevel(privacy)
	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to parse belief slot updated_at: %w", err)
	}
	slot.UpdatedAt = ts
	return &slot, nil
}

// AppendEvent is the single write path (§4.8). All writes for one event
// commit atomically: the event row, the contradiction-penalty bump, the
// belief-slot/retrieval-unit upsert on replacement, and the promotion
// check.
func (s *Store) AppendEvent(ctx context.Context, input memory.MemoryEventInput) (*memory.MemoryEvent, error) {
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	occurredAtStr := occurredAt.UTC().Format(time.RFC3339)

	embedding, err := s.getOrComputeEmbedding(ctx, input.Value)
	if err != nil {
		zlog.Warn().Err(err).Msg("embedding lookup failed, continuing without embedding")
		embedding = nil
	}

	signalTier := memory.DeriveSignalTier(input.EventType, input.SignalTier)
	contentType := memory.DeriveContentType(input.EventType)
	promotionStatus := memory.DerivePromotionStatus(signalTier)
	retentionTier, retentionExpiresAt := retentionFor(signalTier, occurredAt)

	var penalty float64
	if input.EventType == memory.EventContradictionMarked {
		penalty = memory.ContradictionPenalty(input.Confidence, input.Importance)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to begin append_event transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	incumbent, err := loadIncumbent(ctx, tx, input.EntityID, input.SlotKey)
	if err != nil {
		return nil, err
	}

	replace := memory.ShouldReplaceForAppend(input, incumbent, occurredAtStr)

	var supersedes string
	if incumbent != nil && (replace || input.EventType == memory.EventContradictionMarked) {
		supersedes = incumbent.WinnerEventID
	}

	// k-sortable so event_id order matches occurred_at order for the
	// replacement tie-break (§4.8), the same id scheme the teacher uses
	// for flow/task ids.
	eventID := "evt_" + ksuid.New().String()
	ingestedAt := time.Now().UTC()

	var provenanceSourceClass, provenanceReference, provenanceEvidenceURI sql.NullString
	if input.Provenance != nil {
		provenanceSourceClass = sql.NullString{String: input.Provenance.SourceClass, Valid: true}
		provenanceReference = sql.NullString{String: input.Provenance.Reference, Valid: true}
		if input.Provenance.EvidenceURI != nil {
			provenanceEvidenceURI = sql.NullString{String: *input.Provenance.EvidenceURI, Valid: true}
		}
	}

	var retentionExpiresStr sql.NullString
	if retentionExpiresAt != nil {
		retentionExpiresStr = sql.NullString{String: retentionExpiresAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_events (
			event_id, entity_id, slot_key, event_type, value, source, confidence, importance,
			provenance_source_class, provenance_reference, provenance_evidence_uri,
			privacy_level, signal_tier, retention_tier, retention_expires_at,
			occurred_at, ingested_at, supersedes_event_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventID, input.EntityID, input.SlotKey, string(input.EventType), input.Value, string(input.Source),
		input.Confidence, input.Importance, provenanceSourceClass, provenanceReference, provenanceEvidenceURI,
		string(input.PrivacyLevel), string(signalTier), string(retentionTier), retentionExpiresStr,
		occurredAtStr, ingestedAt.Format(time.RFC3339), nullIfEmpty(supersedes))
	if err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to insert memory event: %w", err)
	}

	if supersedes != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO associations (source_id, target_id, kind, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(source_id, target_id, kind) DO NOTHING
		`, eventID, supersedes, string(memory.AssociationSupersedes), occurredAtStr); err != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to record supersession association: %w", err)
		}
	}

	unitID := memory.UnitIDFor(input.EntityID, input.SlotKey)

	if penalty > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE retrieval_units SET contradiction_penalty = MIN(1.0, contradiction_penalty + ?)
			WHERE unit_id = ?
		`, penalty, unitID); err != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to update contradiction penalty: %w", err)
		}
	}

	if replace {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO belief_slots (entity_id, slot_key, value, status, winner_event_id, source, confidence, importance, privacy_level, updated_at)
			VALUES (?, ?, ?, 'active', ?, ?, ?, ?, ?, ?)
			ON CONFLICT(entity_id, slot_key) DO UPDATE SET
				value = excluded.value, status = excluded.status, winner_event_id = excluded.winner_event_id,
				source = excluded.source, confidence = excluded.confidence, importance = excluded.importance,
				privacy_level = excluded.privacy_level, updated_at = excluded.updated_at
		`, input.EntityID, input.SlotKey, input.Value, eventID, string(input.Source), input.Confidence, input.Importance, string(input.PrivacyLevel), occurredAtStr); err != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to upsert belief slot: %w", err)
		}

		var embeddingDim sql.NullInt64
		var embeddingBlob []byte
		if len(embedding) > 0 {
			embeddingDim = sql.NullInt64{Int64: int64(len(embedding)), Valid: true}
			embeddingBlob, err = binary.Marshal(embedding)
			if err != nil {
				return nil, fmt.Errorf("memory/sqlite: failed to encode retrieval unit embedding: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO retrieval_units (
				unit_id, entity_id, slot_key, content, content_type, signal_tier, promotion_status,
				embedding, embedding_dim, recency_score, importance, reliability, contradiction_penalty,
				visibility, provenance_source_class, provenance_reference, provenance_evidence_uri,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1.0, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(unit_id) DO UPDATE SET
				content = excluded.content, content_type = excluded.content_type, signal_tier = excluded.signal_tier,
				promotion_status = excluded.promotion_status, embedding = excluded.embedding, embedding_dim = excluded.embedding_dim,
				importance = excluded.importance, reliability = excluded.reliability, contradiction_penalty = excluded.contradiction_penalty,
				visibility = excluded.visibility, provenance_source_class = excluded.provenance_source_class,
				provenance_reference = excluded.provenance_reference, provenance_evidence_uri = excluded.provenance_evidence_uri,
				updated_at = excluded.updated_at
		`, unitID, input.EntityID, input.SlotKey, input.Value, string(contentType), string(signalTier), string(promotionStatus),
			embeddingBlob, embeddingDim, input.Importance, input.Confidence, penalty,
			string(input.PrivacyLevel), provenanceSourceClass, provenanceReference, provenanceEvidenceURI,
			occurredAtStr, occurredAtStr); err != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to upsert retrieval unit: %w", err)
		}

		if err := tryPromote(ctx, tx, input.EntityID, input.SlotKey, unitID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to commit append_event transaction: %w", err)
	}

	return &memory.MemoryEvent{
		EventID:           eventID,
		EntityID:          input.EntityID,
		SlotKey:           input.SlotKey,
		EventType:         input.EventType,
		Value:             input.Value,
		Source:            input.Source,
		Confidence:        input.Confidence,
		Importance:        input.Importance,
		Provenance:        input.Provenance,
		PrivacyLevel:      input.PrivacyLevel,
		SignalTier:        signalTier,
		RetentionTier:     retentionTier,
		RetentionExpires:  retentionExpiresAt,
		OccurredAt:        occurredAt,
		IngestedAt:        ingestedAt,
		SupersedesEventID: supersedes,
	}, nil
}

func loadIncumbent(ctx context.Context, tx *sql.Tx, entityID, slotKey string) (*memory.BeliefSlot, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT winner_event_id, source, confidence, updated_at FROM belief_slots WHERE entity_id = ? AND slot_key = ?
	`, entityID, slotKey)
	var slot memory.BeliefSlot
	var source, updatedAt string
	if err := row.Scan(&slot.WinnerEventID, &source, &slot.Confidence, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("memory/sqlite: failed to load incumbent belief slot: %w", err)
	}
	slot.Source = memory.Source(source)
	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to parse incumbent updated_at: %w", err)
	}
	slot.UpdatedAt = ts
	return &slot, nil
}

func tryPromote(ctx context.Context, tx *sql.Tx, entityID, slotKey, unitID string) error {
	var distinctSources int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT source) FROM memory_events WHERE entity_id = ? AND slot_key = ?
	`, entityID, slotKey).Scan(&distinctSources); err != nil {
		return fmt.Errorf("memory/sqlite: failed to count distinct sources for promotion check: %w", err)
	}
	if distinctSources < 2 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE retrieval_units SET promotion_status = 'candidate' WHERE unit_id = ? AND promotion_status = 'raw'
	`, unitID); err != nil {
		return fmt.Errorf("memory/sqlite: failed to promote retrieval unit: %w", err)
	}
	return nil
}

// ForgetSlot implements §4.11: soft marks the belief slot and excludes the
// retrieval unit from replay; hard deletes both rows; tombstone overwrites
// content and bumps signal tier to Governance. The event log itself is
// never touched; the ledger row is the permanent audit record.
func (s *Store) ForgetSlot(ctx context.Context, entityID, slotKey string, mode memory.ForgetMode, reason string) (*memory.ForgetOutcome, error) {
	phase, err := memory.ForgetModeToPhase(mode)
	if err != nil {
		return nil, err
	}

	unitID := memory.UnitIDFor(entityID, slotKey)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to begin forget_slot transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	switch mode {
	case memory.ForgetSoft:
		if _, err := tx.ExecContext(ctx, `UPDATE belief_slots SET status = 'soft_deleted' WHERE entity_id = ? AND slot_key = ?`, entityID, slotKey); err != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to soft-delete belief slot: %w", err)
		}
	case memory.ForgetHard:
		if _, err := tx.ExecContext(ctx, `DELETE FROM belief_slots WHERE entity_id = ? AND slot_key = ?`, entityID, slotKey); err != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to hard-delete belief slot: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM retrieval_units WHERE unit_id = ?`, unitID); err != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to hard-delete retrieval unit: %w", err)
		}
	case memory.ForgetTombstone:
		if _, err := tx.ExecContext(ctx, `UPDATE belief_slots SET status = 'tombstoned' WHERE entity_id = ? AND slot_key = ?`, entityID, slotKey); err != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to tombstone belief slot: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE retrieval_units SET content = ?, signal_tier = 'Governance' WHERE unit_id = ?
		`, memory.TombstoneMarker(), unitID); err != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to overwrite tombstoned retrieval unit: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO deletion_ledger (entity_id, target_slot_key, phase, reason, at) VALUES (?, ?, ?, ?, ?)
	`, entityID, slotKey, string(phase), reason, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to append deletion ledger row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to commit forget_slot transaction: %w", err)
	}

	return &memory.ForgetOutcome{Applied: true, Phase: phase}, nil
}

// RecallScoped implements §4.9: policy gate, candidate generation (FTS +
// vector), fusion, and multi-phase rescoring.
func (s *Store) RecallScoped(ctx context.Context, query memory.RecallQuery) ([]memory.MemoryRecallItem, error) {
	if query.PolicyContext != nil {
		if err := query.PolicyContext.Authorize(query.EntityID); err != nil {
			return nil, fmt.Errorf("memory/sqlite: recall denied: %w", err)
		}
	}
	if strings.TrimSpace(query.Query) == "" || query.Limit == 0 {
		return nil, nil
	}

	searchLimit := query.Limit * 3

	queryEmbedding, err := s.getOrComputeEmbedding(ctx, query.Query)
	if err != nil {
		zlog.Warn().Err(err).Msg("query embedding failed, recall falls back to FTS-only")
		queryEmbedding = nil
	}

	var ftsResults, vectorResults []memory.ScoredID
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ftsResults, err = s.ftsSearchScoped(gctx, query.EntityID, query.Query, searchLimit)
		return err
	})
	if len(queryEmbedding) > 0 {
		g.Go(func() error {
			var err error
			vectorResults, err = s.vectorSearchScoped(gctx, query.EntityID, queryEmbedding, searchLimit)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := memory.FuseCandidates(vectorResults, ftsResults, searchLimit)
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.UnitID
	}

	metaByID, err := s.fetchCandidateMeta(ctx, ids)
	if err != nil {
		return nil, err
	}

	return memory.RescoreAll(time.Now().UTC(), fused, metaByID, query.Limit), nil
}

func (s *Store) fetchCandidateMeta(ctx context.Context, unitIDs []string) (map[string]memory.CandidateMeta, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(unitIDs)), ",")
	args := make([]any, len(unitIDs))
	for i, id := range unitIDs {
		args[i] = id
	}

	sqlText := fmt.Sprintf(`
		SELECT ru.unit_id, ru.entity_id, ru.slot_key, ru.content,
		       ru.reliability, ru.importance, ru.visibility, ru.updated_at,
		       ru.recency_score, ru.contradiction_penalty, ru.signal_tier,
		       ru.provenance_source_class, ru.provenance_reference,
		       bs.status,
		       EXISTS(
		           SELECT 1 FROM deletion_ledger dl
		           WHERE dl.entity_id = ru.entity_id AND dl.target_slot_key = ru.slot_key
		             AND dl.phase IN ('soft', 'hard', 'tombstone')
		       ) AS denylisted
		FROM retrieval_units ru
		LEFT JOIN belief_slots bs ON bs.entity_id = ru.entity_id AND bs.slot_key = ru.slot_key
		WHERE ru.unit_id IN (%s)
	`, placeholders)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("memory/sqlite: failed to fetch candidate metadata: %w", err)
	}
	defer rows.Close()

	out := make(map[string]memory.CandidateMeta, len(unitIDs))
	for rows.Next() {
		var unitID, updatedAt, signalTier string
		var provenanceSourceClass, provenanceReference, slotStatus sql.NullString
		var reliability, importance, recencyScore, contradictionPenalty float64
		var visibility string
		var denylisted bool
		var entityID, slotKey, content string

		if err := rows.Scan(&unitID, &entityID, &slotKey, &content, &reliability, &importance, &visibility,
			&updatedAt, &recencyScore, &contradictionPenalty, &signalTier, &provenanceSourceClass,
			&provenanceReference, &slotStatus, &denylisted); err != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to scan candidate metadata row: %w", err)
		}

		ts, err := time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to parse candidate updated_at: %w", err)
		}

		status := memory.BeliefSlotStatus(slotStatus.String)
		out[unitID] = memory.CandidateMeta{
			EntityID:              entityID,
			SlotKey:               slotKey,
			Content:                content,
			Reliability:           reliability,
			Importance:            importance,
			Visibility:            memory.PrivacyLevel(visibility),
			UpdatedAt:             ts,
			RecencyScore:          recencyScore,
			ContradictionPenalty:  contradictionPenalty,
			SignalTier:            memory.SignalTier(signalTier),
			ProvenanceSourceClass: provenanceSourceClass.String,
			ProvenanceReference:   provenanceReference.String,
			SlotStatus:            status,
			DenylistedByLedger:    denylisted,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Lineage walks the supersession chain recorded in the associations table
// (§3) backwards from eventID, returning the ids it directly or
// transitively superseded, most recent first. Distinct from the inline
// MemoryEvent.SupersedesEventID pointer: this follows the append-only edge
// list, so it survives even if a future migration drops that column.
func (s *Store) Lineage(ctx context.Context, eventID string) ([]memory.Association, error) {
	var out []memory.Association
	current := eventID
	for {
		row := s.db.QueryRowContext(ctx, `
			SELECT source_id, target_id, kind, created_at FROM associations
			WHERE source_id = ? AND kind = ?
		`, current, string(memory.AssociationSupersedes))

		var assoc memory.Association
		var kind, createdAt string
		if err := row.Scan(&assoc.SourceID, &assoc.TargetID, &kind, &createdAt); err != nil {
			if err == sql.ErrNoRows {
				return out, nil
			}
			return nil, fmt.Errorf("memory/sqlite: failed to walk association lineage: %w", err)
		}
		assoc.Kind = memory.AssociationKind(kind)
		ts, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("memory/sqlite: failed to parse association created_at: %w", err)
		}
		assoc.CreatedAt = ts

		out = append(out, assoc)
		current = assoc.TargetID
	}
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// retentionFor is the implementation-defined mapping from signal tier to
// retention tier/expiry named in §3 ("a function of the storage layer and
// occurred_at"); the distilled spec carries no explicit per-event layer
// field, so tier is derived from signal maturity: raw/inferred signals
// live in the working tier (short-lived, corroboration pending), belief
// signals in short, governance signals retained indefinitely in long.
func retentionFor(tier memory.SignalTier, occurredAt time.Time) (memory.RetentionTier, *time.Time) {
	switch tier {
	case memory.SignalRaw, memory.SignalInferred:
		expiry := occurredAt.AddDate(0, 0, 7)
		return memory.RetentionWorking, &expiry
	case memory.SignalBelief:
		expiry := occurredAt.AddDate(0, 0, 90)
		return memory.RetentionShort, &expiry
	default: // Governance
		return memory.RetentionLong, nil
	}
}
