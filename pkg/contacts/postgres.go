package contacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore persists contacts to PostgreSQL. It implements the Store
// interface.
//
// Entries live in the wba_contacts table keyed by (self_did, did); mutations
// are single statements, so row-level locking provides the serialisation the
// Store contract requires.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Upsert implements Store.
func (s *PostgresStore) Upsert(ctx context.Context, selfDID string, c *Contact) (*Contact, error) {
	rec := &Contact{DID: c.DID, Name: c.Name, Host: c.Host, Port: c.Port}
	now := time.Now().UTC()

	err := s.pool.QueryRow(ctx,
		`INSERT INTO wba_contacts (self_did, did, name, host, port, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (self_did, did)
		 DO UPDATE SET name = EXCLUDED.name, host = EXCLUDED.host, port = EXCLUDED.port,
		               updated_at = EXCLUDED.updated_at
		 RETURNING created_at, updated_at`,
		selfDID, c.DID, c.Name, c.Host, c.Port, now,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert contact: %w", err)
	}
	return rec, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, selfDID, did string) (*Contact, error) {
	rec := &Contact{}
	err := s.pool.QueryRow(ctx,
		`SELECT did, name, host, port, created_at, updated_at
		 FROM wba_contacts WHERE self_did = $1 AND did = $2`,
		selfDID, did,
	).Scan(&rec.DID, &rec.Name, &rec.Host, &rec.Port, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return rec, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, selfDID string) ([]*Contact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT did, name, host, port, created_at, updated_at
		 FROM wba_contacts WHERE self_did = $1
		 ORDER BY created_at, did`,
		selfDID,
	)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	out := make([]*Contact, 0)
	for rows.Next() {
		rec := &Contact{}
		if err := rows.Scan(&rec.DID, &rec.Name, &rec.Host, &rec.Port, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return out, nil
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, selfDID string, c *Contact) (*Contact, error) {
	rec := &Contact{DID: c.DID, Name: c.Name, Host: c.Host, Port: c.Port}
	err := s.pool.QueryRow(ctx,
		`UPDATE wba_contacts
		 SET name = $3, host = $4, port = $5, updated_at = $6
		 WHERE self_did = $1 AND did = $2
		 RETURNING created_at, updated_at`,
		selfDID, c.DID, c.Name, c.Host, c.Port, time.Now().UTC(),
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	return rec, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, selfDID, did string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM wba_contacts WHERE self_did = $1 AND did = $2`,
		selfDID, did,
	)
	if err != nil {
		return false, fmt.Errorf("delete contact: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
