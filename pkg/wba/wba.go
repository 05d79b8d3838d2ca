// Package wba implements the DIDWba HTTP authentication scheme: canonical
// signing payloads, the Authorization header grammar, ECDSA signing and
// verification against DID verification-method key material, and the
// anti-replay timestamp window.
//
// A credential is carried in an Authorization header of the form:
//
//	DIDWba did="...", nonce="...", timestamp="...", verification_method="...", signature="..."
//
// The two-way (mutual) variant inserts resp_did="..." between timestamp and
// verification_method; its presence is what tells the two modes apart on the
// wire. The signature never covers the header string itself but a canonical
// JSON payload that also binds the target service domain, so a header minted
// for one host cannot be replayed against another.
package wba

// Scheme is the Authorization scheme name.
const Scheme = "DIDWba"

// schemePrefix is what every DIDWba header must start with.
const schemePrefix = Scheme + " "

// Verification-method types this package can sign and verify for.
const (
	MethodTypeSecp256k1     = "EcdsaSecp256k1VerificationKey2019"
	MethodTypeJsonWebKey    = "JsonWebKey2020"
)

// JWK curve names.
const (
	CurveSecp256k1 = "secp256k1"
	CurveP256      = "P-256"
)
