// Package idempotency provides the exactly-once claim table backing every
// consumer on the bus. Claims live in core.event_consumptions keyed by
// (company_id, consumer, dedupe_key); an expired claim is re-claimable.
package idempotency

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	minTTL    = 30 * time.Second
	maxKeyLen = 512
)

// normalizeTTL enforces the 30s floor so a claim can never expire inside the
// handler that took it.
func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

// normalizeKey truncates oversized dedupe keys to the column width. Claim and
// Release must agree on the stored key, so both go through here.
func normalizeKey(key string) string {
	if len(key) > maxKeyLen {
		return key[:maxKeyLen]
	}
	return key
}

// Store claims, releases, and sweeps consumption records.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Claim attempts to take the dedupe key for consumer. Returns true when this
// caller won the claim; false when a live claim already exists. metadata is
// stored alongside a sha256 hash of itself for later forensics.
func (s *Store) Claim(ctx context.Context, companyID, consumer, key string, ttl time.Duration, metadata map[string]any) (bool, error) {
	ttl = normalizeTTL(ttl)
	key = normalizeKey(key)

	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	hash := sha256.Sum256(metaJSON)

	merged := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		merged[k] = v
	}
	merged["payload_hash"] = hex.EncodeToString(hash[:])
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}

	// The conditional upsert only steals the row when the previous claim has
	// expired; otherwise no row is returned and the claim is lost.
	var id uuid.UUID
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO core.event_consumptions (id, company_id, consumer, dedupe_key, metadata, claimed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, now(), now() + $6 * interval '1 second')
		ON CONFLICT (company_id, consumer, dedupe_key) DO UPDATE
			SET id = EXCLUDED.id,
			    metadata = EXCLUDED.metadata,
			    claimed_at = now(),
			    expires_at = now() + $6 * interval '1 second'
			WHERE core.event_consumptions.expires_at <= now()
		RETURNING id`,
		uuid.Must(uuid.NewV7()), companyID, consumer, key, mergedJSON, int(ttl.Seconds()),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: %w", consumer, key, err)
	}
	return true, nil
}

// Release drops the claim unconditionally so a failed handler can retry.
func (s *Store) Release(ctx context.Context, companyID, consumer, key string) error {
	key = normalizeKey(key)
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM core.event_consumptions
		WHERE company_id = $1 AND consumer = $2 AND dedupe_key = $3`,
		companyID, consumer, key)
	if err != nil {
		return fmt.Errorf("release %s/%s: %w", consumer, key, err)
	}
	return nil
}

// SweepExpired deletes up to limit expired claims, oldest first, and returns
// the number removed.
func (s *Store) SweepExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 1000
	}
	var count int
	err := s.db.QueryRowContext(ctx, `
		WITH doomed AS (
			SELECT id FROM core.event_consumptions
			WHERE expires_at <= now()
			ORDER BY expires_at ASC
			LIMIT $1
		), deleted AS (
			DELETE FROM core.event_consumptions
			WHERE id IN (SELECT id FROM doomed)
			RETURNING id
		)
		SELECT count(*) FROM deleted`, limit).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sweep expired claims: %w", err)
	}
	return count, nil
}
