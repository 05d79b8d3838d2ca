// Package identity provisions and reloads the local DID identities of this
// process. Each identity owns three artifacts persisted under a per-identity
// directory inside the DID store: the DID document served to peers, the
// secp256k1 key behind its verification method, and the RSA key used to sign
// access tokens for authenticated peers.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"go.uber.org/zap"

	"github.com/agentmesh/didwba-go/pkg/did"
	"github.com/agentmesh/didwba-go/pkg/wba"
)

const (
	documentFile = "did.json"
	didKeyFile   = "did_private.pem"
	tokenKeyFile = "token_private.pem"

	tokenKeyBits = 2048
	keyFragment  = "key-1"
)

// ErrIdentityNotFound is returned when no identity has been provisioned under
// the requested name. Callers that expected one to exist should treat this as
// a configuration error, not as an authentication failure.
var ErrIdentityNotFound = errors.New("identity not found")

// Identity is one provisioned local identity.
type Identity struct {
	Name     string
	DID      *did.DID
	Document *did.Document
	DIDKey   *secp256k1.PrivateKey
	TokenKey *rsa.PrivateKey
}

// Signer returns a header signer for this identity's verification method.
func (id *Identity) Signer() *wba.Signer {
	return wba.NewSecp256k1Signer(id.DID.String(), keyFragment, id.DIDKey)
}

// Store manages the local identities under one DID-store directory. Each
// identity occupies its own subdirectory named after it.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Dir returns the directory holding the named identity's files.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.dir, name)
}

// LoadOrCreate loads the named identity if it exists and provisions a fresh
// one for d otherwise.
func (s *Store) LoadOrCreate(name string, d *did.DID) (*Identity, error) {
	id, err := s.Load(name)
	if err == nil {
		if id.DID.String() != d.String() {
			s.logger.Warn("stored identity DID differs from requested DID",
				zap.String("name", name),
				zap.String("stored", id.DID.String()),
				zap.String("requested", d.String()))
		}
		return id, nil
	}
	if !errors.Is(err, ErrIdentityNotFound) {
		return nil, err
	}
	return s.Create(name, d)
}

// Load reads an existing identity from disk. A name with no provisioned files
// returns ErrIdentityNotFound.
func (s *Store) Load(name string) (*Identity, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	dir := s.Dir(name)

	docBytes, err := os.ReadFile(filepath.Join(dir, documentFile))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read DID document: %w", err)
	}
	doc, err := did.ParseDocument(docBytes)
	if err != nil {
		return nil, err
	}
	d, err := did.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("stored DID document: %w", err)
	}

	didKeyPEM, err := os.ReadFile(filepath.Join(dir, didKeyFile))
	if err != nil {
		return nil, fmt.Errorf("read DID key: %w", err)
	}
	didKey, err := parseSecp256k1PEM(didKeyPEM)
	if err != nil {
		return nil, err
	}

	tokenKeyPEM, err := os.ReadFile(filepath.Join(dir, tokenKeyFile))
	if err != nil {
		return nil, fmt.Errorf("read token key: %w", err)
	}
	tokenKey, err := parseRSAPEM(tokenKeyPEM)
	if err != nil {
		return nil, err
	}

	return &Identity{
		Name:     name,
		DID:      d,
		Document: doc,
		DIDKey:   didKey,
		TokenKey: tokenKey,
	}, nil
}

// Create generates fresh key material for d, writes the identity to disk, and
// returns it. An existing identity under the same name is overwritten.
func (s *Store) Create(name string, d *did.DID) (*Identity, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	dir := s.Dir(name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create identity dir %q: %w", dir, err)
	}

	didKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate DID key: %w", err)
	}
	tokenKey, err := rsa.GenerateKey(rand.Reader, tokenKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate token key: %w", err)
	}

	doc, err := buildDocument(d, didKey)
	if err != nil {
		return nil, err
	}
	docBytes, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode DID document: %w", err)
	}

	didKeyPEM, err := marshalSecp256k1PEM(didKey)
	if err != nil {
		return nil, err
	}
	tokenKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(tokenKey),
	})

	// The document is public; both keys are not.
	if err := os.WriteFile(filepath.Join(dir, documentFile), docBytes, 0o644); err != nil {
		return nil, fmt.Errorf("write DID document: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, didKeyFile), didKeyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("write DID key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, tokenKeyFile), tokenKeyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("write token key: %w", err)
	}

	s.logger.Info("identity created",
		zap.String("name", name),
		zap.String("did", d.String()),
		zap.String("dir", dir))

	return &Identity{
		Name:     name,
		DID:      d,
		Document: doc,
		DIDKey:   didKey,
		TokenKey: tokenKey,
	}, nil
}

// documentContext is the @context of generated DID documents.
var documentContext = []string{
	"https://www.w3.org/ns/did/v1",
	"https://w3id.org/security/suites/jws-2020/v1",
	"https://w3id.org/security/suites/secp256k1-2019/v1",
}

// buildDocument assembles the DID document for d around the public half of
// didKey, published as verification method "#key-1".
func buildDocument(d *did.DID, didKey *secp256k1.PrivateKey) (*did.Document, error) {
	didStr := d.String()
	methodID := didStr + "#" + keyFragment

	contextJSON, err := json.Marshal(documentContext)
	if err != nil {
		return nil, fmt.Errorf("encode @context: %w", err)
	}
	authJSON, err := json.Marshal([]string{methodID})
	if err != nil {
		return nil, fmt.Errorf("encode authentication: %w", err)
	}

	return &did.Document{
		Context: contextJSON,
		ID:      didStr,
		VerificationMethod: []did.VerificationMethod{{
			ID:           methodID,
			Type:         wba.MethodTypeSecp256k1,
			Controller:   didStr,
			PublicKeyJwk: wba.Secp256k1JWK(didKey.PubKey()),
		}},
		Authentication: authJSON,
	}, nil
}

// parseRSAPEM decodes a PKCS#1 "RSA PRIVATE KEY" PEM block.
func parseRSAPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode RSA private key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse RSA private key: %w", err)
	}
	return key, nil
}

// validateName rejects identity names that would escape the store directory.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("identity name must not be empty")
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("identity name %q contains path separators", name)
	}
	return nil
}
