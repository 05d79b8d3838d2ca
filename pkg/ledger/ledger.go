// Package ledger tracks the bearer tokens exchanged with peers: tokens this
// identity holds for calling a remote ("to"), and tokens this identity issued
// to an authenticated remote ("from").
//
// The two directions deliberately revoke differently. Revoking an outbound
// token just forgets it — the record is deleted and the next call
// re-authenticates. Revoking an inbound token keeps the record with
// is_revoked set, so the responder can keep refusing a token that is still
// cryptographically valid. Outbound records also carry an expiry the sweeper
// enforces; inbound validity is left to the token's own claims.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a token lookup finds no record for the peer.
var ErrNotFound = errors.New("token record not found")

// Direction distinguishes the two token flows of one peer relationship.
type Direction string

const (
	// DirectionTo marks tokens this identity holds for calling the peer.
	DirectionTo Direction = "to"
	// DirectionFrom marks tokens this identity issued to the peer.
	DirectionFrom Direction = "from"
)

// TokenRecord is one stored token. ReqDID names the requesting side: the
// local identity for outbound records, the peer for inbound ones.
type TokenRecord struct {
	ReqDID    string     `json:"req_did"`
	Token     string     `json:"token"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsRevoked bool       `json:"is_revoked"`
}

// Stats counts the records of one identity per direction.
type Stats struct {
	ToTotal   int `json:"to_total"`
	ToValid   int `json:"to_valid"`
	FromTotal int `json:"from_total"`
	FromValid int `json:"from_valid"`
}

// Store is the persistence interface for token records. Both MemoryStore and
// PostgresStore implement it. A single Store serves any number of local
// identities; records are keyed by (selfDID, peerDID, direction).
//
// Implementations must serialise concurrent read-modify-write operations on
// the same (selfDID, peerDID) key; operations on different keys proceed
// independently.
type Store interface {
	// UpsertToRemote stores the token this identity will present to peerDID.
	// A zero expiresAt means the token never expires locally.
	UpsertToRemote(ctx context.Context, selfDID, peerDID, token string, expiresAt time.Time) (*TokenRecord, error)

	// GetToRemote returns the outbound record for peerDID, or ErrNotFound.
	GetToRemote(ctx context.Context, selfDID, peerDID string) (*TokenRecord, error)

	// RevokeToRemote deletes the outbound record. It reports whether a
	// record existed; afterwards the record is unretrievable.
	RevokeToRemote(ctx context.Context, selfDID, peerDID string) (bool, error)

	// UpsertFromRemote stores a token issued to peerDID.
	UpsertFromRemote(ctx context.Context, selfDID, peerDID, token string) (*TokenRecord, error)

	// GetFromRemote returns the inbound record for peerDID, or ErrNotFound.
	GetFromRemote(ctx context.Context, selfDID, peerDID string) (*TokenRecord, error)

	// RevokeFromRemote flags the inbound record revoked, keeping it
	// retrievable. It reports whether a record existed.
	RevokeFromRemote(ctx context.Context, selfDID, peerDID string) (bool, error)

	// DeleteExpired removes outbound records past their expiry and returns
	// how many were dropped. Inbound records are never swept.
	DeleteExpired(ctx context.Context, selfDID string) (int, error)

	// Stats counts records per direction for one identity.
	Stats(ctx context.Context, selfDID string) (*Stats, error)
}

// Ledger is the per-identity view onto a Store: every operation is scoped to
// the local DID it was constructed with.
type Ledger struct {
	selfDID string
	store   Store
	logger  *zap.Logger
}

// New creates a Ledger for one local identity.
func New(selfDID string, store Store, logger *zap.Logger) *Ledger {
	return &Ledger{selfDID: selfDID, store: store, logger: logger}
}

// SelfDID returns the identity this Ledger is scoped to.
func (l *Ledger) SelfDID() string {
	return l.selfDID
}

// StoreTokenToRemote records a token for calling peerDID. ttl fixes the local
// expiry; a non-positive ttl produces an already-expired record rather than
// an error, leaving it to the next sweep.
func (l *Ledger) StoreTokenToRemote(ctx context.Context, peerDID, token string, ttl time.Duration) (*TokenRecord, error) {
	expiresAt := time.Now().UTC().Add(ttl)
	rec, err := l.store.UpsertToRemote(ctx, l.selfDID, peerDID, token, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("store token to %s: %w", peerDID, err)
	}
	l.logger.Debug("outbound token stored",
		zap.String("peer", peerDID),
		zap.Duration("ttl", ttl),
	)
	return rec, nil
}

// GetTokenToRemote returns the outbound record for peerDID, or ErrNotFound.
func (l *Ledger) GetTokenToRemote(ctx context.Context, peerDID string) (*TokenRecord, error) {
	return l.store.GetToRemote(ctx, l.selfDID, peerDID)
}

// RevokeTokenToRemote forgets the outbound token for peerDID. The record is
// deleted, not flagged: a subsequent lookup reports ErrNotFound.
func (l *Ledger) RevokeTokenToRemote(ctx context.Context, peerDID string) (bool, error) {
	ok, err := l.store.RevokeToRemote(ctx, l.selfDID, peerDID)
	if err != nil {
		return false, fmt.Errorf("revoke token to %s: %w", peerDID, err)
	}
	if ok {
		l.logger.Info("outbound token revoked", zap.String("peer", peerDID))
	}
	return ok, nil
}

// StoreTokenFromRemote records a token issued to peerDID after it
// authenticated here.
func (l *Ledger) StoreTokenFromRemote(ctx context.Context, peerDID, token string) (*TokenRecord, error) {
	rec, err := l.store.UpsertFromRemote(ctx, l.selfDID, peerDID, token)
	if err != nil {
		return nil, fmt.Errorf("store token from %s: %w", peerDID, err)
	}
	l.logger.Debug("inbound token stored", zap.String("peer", peerDID))
	return rec, nil
}

// GetTokenFromRemote returns the inbound record for peerDID, or ErrNotFound.
func (l *Ledger) GetTokenFromRemote(ctx context.Context, peerDID string) (*TokenRecord, error) {
	return l.store.GetFromRemote(ctx, l.selfDID, peerDID)
}

// RevokeTokenFromRemote flags the token issued to peerDID as revoked. The
// record stays retrievable with IsRevoked set, so the refusal survives even
// while the token itself would still verify.
func (l *Ledger) RevokeTokenFromRemote(ctx context.Context, peerDID string) (bool, error) {
	ok, err := l.store.RevokeFromRemote(ctx, l.selfDID, peerDID)
	if err != nil {
		return false, fmt.Errorf("revoke token from %s: %w", peerDID, err)
	}
	if ok {
		l.logger.Info("inbound token revoked", zap.String("peer", peerDID))
	}
	return ok, nil
}

// IsTokenValid reports whether the record for peerDID in the given direction
// is usable. Outbound records must exist, be unrevoked, and be unexpired;
// inbound records must exist and be unrevoked — their expiry belongs to the
// token itself. A missing record is simply not valid.
func (l *Ledger) IsTokenValid(ctx context.Context, peerDID string, dir Direction) (bool, error) {
	var (
		rec *TokenRecord
		err error
	)
	switch dir {
	case DirectionTo:
		rec, err = l.store.GetToRemote(ctx, l.selfDID, peerDID)
	case DirectionFrom:
		rec, err = l.store.GetFromRemote(ctx, l.selfDID, peerDID)
	default:
		return false, fmt.Errorf("unknown token direction %q", dir)
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if rec.IsRevoked {
		return false, nil
	}
	if dir == DirectionTo && rec.ExpiresAt != nil && !rec.ExpiresAt.After(time.Now()) {
		return false, nil
	}
	return true, nil
}

// CleanupExpiredTokens removes outbound records past their expiry and
// returns the count. Inbound records are never swept by this call.
func (l *Ledger) CleanupExpiredTokens(ctx context.Context) (int, error) {
	n, err := l.store.DeleteExpired(ctx, l.selfDID)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired tokens: %w", err)
	}
	if n > 0 {
		l.logger.Info("expired tokens swept", zap.Int("deleted", n))
	}
	return n, nil
}

// TokenStats counts this identity's records per direction.
func (l *Ledger) TokenStats(ctx context.Context) (*Stats, error) {
	return l.store.Stats(ctx, l.selfDID)
}
