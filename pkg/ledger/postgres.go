package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore persists token records to PostgreSQL. It implements the
// Store interface.
//
// Records live in the wba_tokens table keyed by (self_did, peer_did,
// direction); every mutation is a single statement, so the per-key
// serialisation the Store contract requires comes from row-level locking.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// UpsertToRemote implements Store.
func (s *PostgresStore) UpsertToRemote(ctx context.Context, selfDID, peerDID, token string, expiresAt time.Time) (*TokenRecord, error) {
	rec := &TokenRecord{
		ReqDID:    selfDID,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}
	if !expiresAt.IsZero() {
		exp := expiresAt
		rec.ExpiresAt = &exp
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO wba_tokens (self_did, peer_did, direction, req_did, token, created_at, expires_at, is_revoked)
		 VALUES ($1, $2, 'to', $3, $4, $5, $6, false)
		 ON CONFLICT (self_did, peer_did, direction)
		 DO UPDATE SET req_did = EXCLUDED.req_did, token = EXCLUDED.token,
		               created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at,
		               is_revoked = false`,
		selfDID, peerDID, rec.ReqDID, rec.Token, rec.CreatedAt, rec.ExpiresAt,
	); err != nil {
		return nil, fmt.Errorf("upsert outbound token: %w", err)
	}
	return rec, nil
}

// GetToRemote implements Store.
func (s *PostgresStore) GetToRemote(ctx context.Context, selfDID, peerDID string) (*TokenRecord, error) {
	return s.getRecord(ctx, selfDID, peerDID, "to")
}

// RevokeToRemote implements Store. The row is deleted outright.
func (s *PostgresStore) RevokeToRemote(ctx context.Context, selfDID, peerDID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM wba_tokens WHERE self_did = $1 AND peer_did = $2 AND direction = 'to'`,
		selfDID, peerDID,
	)
	if err != nil {
		return false, fmt.Errorf("delete outbound token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertFromRemote implements Store.
func (s *PostgresStore) UpsertFromRemote(ctx context.Context, selfDID, peerDID, token string) (*TokenRecord, error) {
	rec := &TokenRecord{
		ReqDID:    peerDID,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO wba_tokens (self_did, peer_did, direction, req_did, token, created_at, expires_at, is_revoked)
		 VALUES ($1, $2, 'from', $3, $4, $5, NULL, false)
		 ON CONFLICT (self_did, peer_did, direction)
		 DO UPDATE SET req_did = EXCLUDED.req_did, token = EXCLUDED.token,
		               created_at = EXCLUDED.created_at, expires_at = NULL,
		               is_revoked = false`,
		selfDID, peerDID, rec.ReqDID, rec.Token, rec.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("upsert inbound token: %w", err)
	}
	return rec, nil
}

// GetFromRemote implements Store.
func (s *PostgresStore) GetFromRemote(ctx context.Context, selfDID, peerDID string) (*TokenRecord, error) {
	return s.getRecord(ctx, selfDID, peerDID, "from")
}

// RevokeFromRemote implements Store. The row stays with is_revoked set.
func (s *PostgresStore) RevokeFromRemote(ctx context.Context, selfDID, peerDID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE wba_tokens SET is_revoked = true
		 WHERE self_did = $1 AND peer_did = $2 AND direction = 'from'`,
		selfDID, peerDID,
	)
	if err != nil {
		return false, fmt.Errorf("flag inbound token revoked: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpired implements Store.
func (s *PostgresStore) DeleteExpired(ctx context.Context, selfDID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM wba_tokens
		 WHERE self_did = $1 AND direction = 'to'
		   AND expires_at IS NOT NULL AND expires_at <= now()`,
		selfDID,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context, selfDID string) (*Stats, error) {
	st := &Stats{}
	if err := s.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE direction = 'to'),
		   COUNT(*) FILTER (WHERE direction = 'to' AND NOT is_revoked
		                      AND (expires_at IS NULL OR expires_at > now())),
		   COUNT(*) FILTER (WHERE direction = 'from'),
		   COUNT(*) FILTER (WHERE direction = 'from' AND NOT is_revoked)
		 FROM wba_tokens WHERE self_did = $1`,
		selfDID,
	).Scan(&st.ToTotal, &st.ToValid, &st.FromTotal, &st.FromValid); err != nil {
		return nil, fmt.Errorf("count token records: %w", err)
	}
	return st, nil
}

// getRecord reads one row, mapping pgx.ErrNoRows onto ErrNotFound.
func (s *PostgresStore) getRecord(ctx context.Context, selfDID, peerDID, direction string) (*TokenRecord, error) {
	rec := &TokenRecord{}
	err := s.pool.QueryRow(ctx,
		`SELECT req_did, token, created_at, expires_at, is_revoked
		 FROM wba_tokens
		 WHERE self_did = $1 AND peer_did = $2 AND direction = $3`,
		selfDID, peerDID, direction,
	).Scan(&rec.ReqDID, &rec.Token, &rec.CreatedAt, &rec.ExpiresAt, &rec.IsRevoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s token record: %w", direction, err)
	}
	return rec, nil
}

var _ Store = (*PostgresStore)(nil)
