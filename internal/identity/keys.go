package identity

import (
	"encoding/asn1"
	"encoding/pem"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const ecPrivateKeyVersion = 1

// oidSecp256k1 is the named-curve identifier for secp256k1 (SEC 2, 1.3.132.0.10).
var oidSecp256k1 = asn1.ObjectIdentifier{1, 3, 132, 0, 10}

// sec1PrivateKey is the RFC 5915 ECPrivateKey structure. The standard library
// only marshals curves it implements, which excludes secp256k1, so the DER
// encoding is done directly.
type sec1PrivateKey struct {
	Version       int
	PrivateKey    []byte
	NamedCurveOID asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
	PublicKey     asn1.BitString        `asn1:"optional,explicit,tag:1"`
}

// marshalSecp256k1PEM encodes a secp256k1 private key as a SEC 1 "EC PRIVATE
// KEY" PEM block.
func marshalSecp256k1PEM(priv *secp256k1.PrivateKey) ([]byte, error) {
	der, err := asn1.Marshal(sec1PrivateKey{
		Version:       ecPrivateKeyVersion,
		PrivateKey:    priv.Serialize(),
		NamedCurveOID: oidSecp256k1,
		PublicKey:     asn1.BitString{Bytes: priv.PubKey().SerializeUncompressed()},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal EC private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// parseSecp256k1PEM decodes a SEC 1 PEM block produced by marshalSecp256k1PEM.
func parseSecp256k1PEM(pemBytes []byte) (*secp256k1.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode EC private key PEM")
	}
	var k sec1PrivateKey
	if _, err := asn1.Unmarshal(block.Bytes, &k); err != nil {
		return nil, fmt.Errorf("parse EC private key: %w", err)
	}
	if k.Version != ecPrivateKeyVersion {
		return nil, fmt.Errorf("unsupported EC private key version %d", k.Version)
	}
	if len(k.NamedCurveOID) > 0 && !k.NamedCurveOID.Equal(oidSecp256k1) {
		return nil, fmt.Errorf("unexpected named curve %v, want secp256k1", k.NamedCurveOID)
	}
	if len(k.PrivateKey) != 32 {
		return nil, fmt.Errorf("EC private key has %d bytes, want 32", len(k.PrivateKey))
	}
	return secp256k1.PrivKeyFromBytes(k.PrivateKey), nil
}
