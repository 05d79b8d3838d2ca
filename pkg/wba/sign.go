package wba

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/agentmesh/didwba-go/pkg/did"
)

// ErrBadKeyMaterial marks verification failures caused by the key itself
// rather than by the signature. Callers verifying peer credentials must fold
// it into an ordinary "verification failed" outcome.
var ErrBadKeyMaterial = errors.New("bad key material")

// digestSigner produces a DER-encoded ECDSA signature over a SHA-256 digest.
type digestSigner interface {
	signDigest(digest []byte) ([]byte, error)
}

type secp256k1Key struct {
	priv *secp256k1.PrivateKey
}

func (k secp256k1Key) signDigest(digest []byte) ([]byte, error) {
	return secpecdsa.Sign(k.priv, digest).Serialize(), nil
}

type p256Key struct {
	priv *ecdsa.PrivateKey
}

func (k p256Key) signDigest(digest []byte) ([]byte, error) {
	return ecdsa.SignASN1(rand.Reader, k.priv, digest)
}

// Signer mints DIDWba authorization headers for one local identity. Each
// header gets a fresh nonce and timestamp; the Signer itself is safe for
// concurrent use.
type Signer struct {
	did      string
	fragment string
	key      digestSigner
}

// NewSecp256k1Signer creates a Signer over a secp256k1 private key. fragment
// names the verification method within the identity's DID document.
func NewSecp256k1Signer(didStr, fragment string, priv *secp256k1.PrivateKey) *Signer {
	return &Signer{did: didStr, fragment: fragment, key: secp256k1Key{priv: priv}}
}

// NewP256Signer creates a Signer over a NIST P-256 private key.
func NewP256Signer(didStr, fragment string, priv *ecdsa.PrivateKey) *Signer {
	return &Signer{did: didStr, fragment: fragment, key: p256Key{priv: priv}}
}

// DID returns the identity this Signer signs for.
func (s *Signer) DID() string {
	return s.did
}

// Sign signs raw payload bytes, returning the unpadded base64url encoding of
// the DER signature.
func (s *Signer) Sign(payload []byte) (string, error) {
	digest := sha256.Sum256(payload)
	der, err := s.key.signDigest(digest[:])
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(der), nil
}

// SingleWayHeader builds a complete single-way authorization header bound to
// the given service domain.
func (s *Signer) SingleWayHeader(service string) (string, error) {
	nonce, err := NewNonce()
	if err != nil {
		return "", err
	}
	ts := FormatTimestamp(time.Now())

	payload, err := SigningPayloadSingleWay(s.did, nonce, ts, service)
	if err != nil {
		return "", err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return "", err
	}

	return FormatSingleWay(&Payload{
		DID:                s.did,
		Nonce:              nonce,
		Timestamp:          ts,
		VerificationMethod: s.fragment,
		Signature:          sig,
	}), nil
}

// TwoWayHeader builds a complete two-way authorization header bound to the
// given service domain and responder DID.
func (s *Signer) TwoWayHeader(service, respDID string) (string, error) {
	nonce, err := NewNonce()
	if err != nil {
		return "", err
	}
	ts := FormatTimestamp(time.Now())

	payload, err := SigningPayloadTwoWay(s.did, nonce, ts, respDID, service)
	if err != nil {
		return "", err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return "", err
	}

	return FormatTwoWay(&Payload{
		DID:                s.did,
		Nonce:              nonce,
		Timestamp:          ts,
		RespDID:            respDID,
		VerificationMethod: s.fragment,
		Signature:          sig,
	}), nil
}

// VerifySignature checks an unpadded-base64url DER signature over payload
// against the EC key material in a JWK.
//
// A malformed or unsupported key yields (false, error) wrapping
// ErrBadKeyMaterial; a well-formed key with a non-matching signature yields
// (false, nil). Good signatures yield (true, nil).
func VerifySignature(payload []byte, signature string, key *did.JWK) (bool, error) {
	if key == nil {
		return false, fmt.Errorf("%w: verification method carries no JWK", ErrBadKeyMaterial)
	}
	if key.Kty != "EC" {
		return false, fmt.Errorf("%w: unsupported key type %q", ErrBadKeyMaterial, key.Kty)
	}

	der, err := decodeBase64URL(signature)
	if err != nil {
		// A signature the peer could not even encode properly is just a bad
		// signature, not a fault.
		return false, nil
	}

	digest := sha256.Sum256(payload)

	switch key.Crv {
	case CurveSecp256k1:
		return verifySecp256k1(digest[:], der, key)
	case CurveP256:
		return verifyP256(digest[:], der, key)
	default:
		return false, fmt.Errorf("%w: unsupported curve %q", ErrBadKeyMaterial, key.Crv)
	}
}

func verifySecp256k1(digest, der []byte, key *did.JWK) (bool, error) {
	x, err := decodeCoordinate(key.X)
	if err != nil {
		return false, fmt.Errorf("%w: x coordinate: %v", ErrBadKeyMaterial, err)
	}
	y, err := decodeCoordinate(key.Y)
	if err != nil {
		return false, fmt.Errorf("%w: y coordinate: %v", ErrBadKeyMaterial, err)
	}

	// Rebuild the uncompressed SEC1 encoding so ParsePubKey validates the
	// point is on the curve.
	raw := make([]byte, 65)
	raw[0] = 0x04
	copy(raw[33-len(x):33], x)
	copy(raw[65-len(y):65], y)

	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadKeyMaterial, err)
	}

	sig, err := secpecdsa.ParseDERSignature(der)
	if err != nil {
		return false, nil
	}
	return sig.Verify(digest, pub), nil
}

func verifyP256(digest, der []byte, key *did.JWK) (bool, error) {
	x, err := decodeCoordinate(key.X)
	if err != nil {
		return false, fmt.Errorf("%w: x coordinate: %v", ErrBadKeyMaterial, err)
	}
	y, err := decodeCoordinate(key.Y)
	if err != nil {
		return false, fmt.Errorf("%w: y coordinate: %v", ErrBadKeyMaterial, err)
	}

	bigX := new(big.Int).SetBytes(x)
	bigY := new(big.Int).SetBytes(y)
	if !elliptic.P256().IsOnCurve(bigX, bigY) {
		return false, fmt.Errorf("%w: point not on P-256", ErrBadKeyMaterial)
	}

	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: bigX, Y: bigY}
	return ecdsa.VerifyASN1(pub, digest, der), nil
}

// Secp256k1JWK returns the JWK form of a secp256k1 public key.
func Secp256k1JWK(pub *secp256k1.PublicKey) *did.JWK {
	raw := pub.SerializeUncompressed()
	return &did.JWK{
		Kty: "EC",
		Crv: CurveSecp256k1,
		X:   base64.RawURLEncoding.EncodeToString(raw[1:33]),
		Y:   base64.RawURLEncoding.EncodeToString(raw[33:65]),
	}
}

// P256JWK returns the JWK form of a NIST P-256 public key.
func P256JWK(pub *ecdsa.PublicKey) *did.JWK {
	return &did.JWK{
		Kty: "EC",
		Crv: CurveP256,
		X:   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, 32))),
		Y:   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, 32))),
	}
}

// decodeCoordinate decodes a base64url JWK coordinate, rejecting anything
// longer than a curve element.
func decodeCoordinate(s string) ([]byte, error) {
	b, err := decodeBase64URL(s)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 || len(b) > 32 {
		return nil, fmt.Errorf("coordinate length %d out of range", len(b))
	}
	return b, nil
}

// decodeBase64URL accepts both padded and unpadded base64url input.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
