package did

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrVerificationMethodNotFound is returned when a DID document contains no
// verification method matching the requested fragment.
var ErrVerificationMethodNotFound = errors.New("verification method not found")

// JWK is the EC public-key material carried inside a verification method.
type JWK struct {
	Kty string `json:"kty"`           // "EC"
	Crv string `json:"crv"`           // "secp256k1" or "P-256"
	X   string `json:"x"`             // base64url, unpadded
	Y   string `json:"y"`             // base64url, unpadded
	Kid string `json:"kid,omitempty"` // optional key identifier
}

// VerificationMethod is a fragment-addressed public-key entry within a DID
// document.
type VerificationMethod struct {
	ID           string `json:"id"` // e.g. "did:wba:example.com#key-1"
	Type         string `json:"type"`
	Controller   string `json:"controller"`
	PublicKeyJwk *JWK   `json:"publicKeyJwk,omitempty"`
}

// Document is a did:wba DID document.
//
// Context and Authentication keep their raw JSON form: @context may be a
// string or an array, and authentication entries may be fragment references
// or embedded methods depending on the producer.
type Document struct {
	Context            json.RawMessage      `json:"@context,omitempty"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Authentication     json.RawMessage      `json:"authentication,omitempty"`
	Service            json.RawMessage      `json:"service,omitempty"`
}

// ParseDocument decodes a DID document from JSON bytes.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode did document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks required fields of a DID document.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("did document: id is required")
	}
	if len(d.VerificationMethod) == 0 {
		return fmt.Errorf("did document: at least one verification method is required")
	}
	for i, vm := range d.VerificationMethod {
		if vm.ID == "" {
			return fmt.Errorf("did document: verificationMethod[%d].id is required", i)
		}
		if vm.Type == "" {
			return fmt.Errorf("did document: verificationMethod[%d].type is required", i)
		}
	}
	return nil
}

// ResolveVerificationMethod finds the verification method whose id ends with
// "#{fragment}". The leading "#" on the fragment is optional.
func (d *Document) ResolveVerificationMethod(fragment string) (*VerificationMethod, error) {
	suffix := "#" + strings.TrimPrefix(fragment, "#")
	for i := range d.VerificationMethod {
		if strings.HasSuffix(d.VerificationMethod[i].ID, suffix) {
			return &d.VerificationMethod[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s%s", ErrVerificationMethodNotFound, d.ID, suffix)
}
