// Package contacts keeps a per-identity address book of peer DIDs and the
// metadata learned about them. Entries are upserted by DID; the DID string
// itself is deliberately not validated, so contacts can be recorded for peers
// whose method this process does not resolve.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when no contact exists for the requested DID.
var ErrNotFound = errors.New("contact not found")

// Contact is one peer address-book entry. Only DID is required.
type Contact struct {
	DID       string    `json:"did"`
	Name      string    `json:"name,omitempty"`
	Host      string    `json:"host,omitempty"`
	Port      int       `json:"port,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the persistence interface for contacts. Entries are keyed by
// (selfDID, peer DID) so one Store serves any number of local identities.
type Store interface {
	// Upsert creates or replaces the entry for c.DID, preserving CreatedAt
	// on replace.
	Upsert(ctx context.Context, selfDID string, c *Contact) (*Contact, error)

	// Get returns the entry for did, or ErrNotFound.
	Get(ctx context.Context, selfDID, did string) (*Contact, error)

	// List returns all entries of one identity, oldest first.
	List(ctx context.Context, selfDID string) ([]*Contact, error)

	// Update modifies an existing entry, or returns ErrNotFound.
	Update(ctx context.Context, selfDID string, c *Contact) (*Contact, error)

	// Delete removes the entry for did and reports whether one existed.
	Delete(ctx context.Context, selfDID, did string) (bool, error)
}

// Directory is the per-identity view onto a Store.
type Directory struct {
	selfDID string
	store   Store
	logger  *zap.Logger
}

// New creates a Directory scoped to one local identity.
func New(selfDID string, store Store, logger *zap.Logger) *Directory {
	return &Directory{selfDID: selfDID, store: store, logger: logger}
}

// AddContact upserts a contact. A repeat add for the same DID replaces the
// metadata and bumps UpdatedAt while keeping the original CreatedAt.
func (d *Directory) AddContact(ctx context.Context, c Contact) (*Contact, error) {
	if c.DID == "" {
		return nil, fmt.Errorf("contact DID is required")
	}
	rec, err := d.store.Upsert(ctx, d.selfDID, &c)
	if err != nil {
		return nil, fmt.Errorf("add contact %s: %w", c.DID, err)
	}
	d.logger.Debug("contact stored", zap.String("did", c.DID))
	return rec, nil
}

// GetContact returns the contact for did, or ErrNotFound.
func (d *Directory) GetContact(ctx context.Context, did string) (*Contact, error) {
	return d.store.Get(ctx, d.selfDID, did)
}

// ListContacts returns all contacts of this identity, oldest first.
func (d *Directory) ListContacts(ctx context.Context) ([]*Contact, error) {
	return d.store.List(ctx, d.selfDID)
}

// UpdateContact modifies an existing contact's metadata and bumps UpdatedAt.
// Updating an unknown DID returns ErrNotFound.
func (d *Directory) UpdateContact(ctx context.Context, c Contact) (*Contact, error) {
	if c.DID == "" {
		return nil, fmt.Errorf("contact DID is required")
	}
	rec, err := d.store.Update(ctx, d.selfDID, &c)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update contact %s: %w", c.DID, err)
	}
	return rec, nil
}

// RemoveContact deletes the contact for did, reporting whether one existed.
func (d *Directory) RemoveContact(ctx context.Context, did string) (bool, error) {
	ok, err := d.store.Delete(ctx, d.selfDID, did)
	if err != nil {
		return false, fmt.Errorf("remove contact %s: %w", did, err)
	}
	if ok {
		d.logger.Debug("contact removed", zap.String("did", did))
	}
	return ok, nil
}
