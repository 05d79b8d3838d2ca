// Package verifier checks inbound DIDWba credentials against the DID
// documents their identifiers resolve to.
//
// Everything a peer can get wrong — unparseable header, stale timestamp,
// unknown verification method, bad signature — comes back as a Result with
// Valid=false and a reason, never as an error: rejecting bad credentials is
// this package's normal operation, not a fault.
package verifier

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/agentmesh/didwba-go/pkg/did"
	"github.com/agentmesh/didwba-go/pkg/wba"
)

// Result is the verdict on one credential.
type Result struct {
	Valid   bool
	Message string       // reason a credential was rejected; empty when valid
	Payload *wba.Payload // parsed header fields, nil when parsing failed
}

// NonceCache remembers recently seen (did, nonce) pairs so a captured header
// cannot be replayed inside the timestamp window.
type NonceCache interface {
	// Seen records the pair and reports whether it was already present.
	Seen(ctx context.Context, didStr, nonce string) (bool, error)
}

// Engine verifies single-way and two-way DIDWba credentials.
type Engine struct {
	nonces NonceCache
	logger *zap.Logger
}

// New creates a verification Engine.
func New(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// SetNonceCache enables replay detection. Without a cache the engine relies
// on the timestamp window alone.
func (e *Engine) SetNonceCache(c NonceCache) {
	e.nonces = c
}

// VerifySingleWay verifies a single-way credential against the peer's DID
// document and the service domain the header must be bound to.
func (e *Engine) VerifySingleWay(ctx context.Context, header string, doc *did.Document, serviceDomain string) Result {
	p, err := wba.ParseSingleWay(header)
	if err != nil {
		return e.reject(nil, err.Error())
	}

	payload, err := wba.SigningPayloadSingleWay(p.DID, p.Nonce, p.Timestamp, serviceDomain)
	if err != nil {
		return e.reject(p, err.Error())
	}

	return e.verifyCommon(ctx, p, doc, payload)
}

// VerifyTwoWay verifies a two-way credential. Beyond the single-way checks it
// requires resp_did to name the verifier's own DID, so a credential minted
// for one responder cannot be replayed against another.
func (e *Engine) VerifyTwoWay(ctx context.Context, header string, doc *did.Document, serviceDomain, ownDID string) Result {
	p, err := wba.ParseTwoWay(header)
	if err != nil {
		return e.reject(nil, err.Error())
	}

	if p.RespDID != ownDID {
		return e.reject(p, "resp_did mismatch")
	}

	payload, err := wba.SigningPayloadTwoWay(p.DID, p.Nonce, p.Timestamp, p.RespDID, serviceDomain)
	if err != nil {
		return e.reject(p, err.Error())
	}

	return e.verifyCommon(ctx, p, doc, payload)
}

// verifyCommon runs the checks shared by both modes once the canonical
// signing payload has been rebuilt.
func (e *Engine) verifyCommon(ctx context.Context, p *wba.Payload, doc *did.Document, payload []byte) Result {
	if !did.SupportsMethod(p.DID) {
		return e.reject(p, "unsupported DID method")
	}
	if doc == nil || doc.ID != p.DID {
		return e.reject(p, "did document mismatch")
	}
	if !wba.VerifyTimestamp(p.Timestamp) {
		return e.reject(p, "timestamp invalid or out of window")
	}

	vm, err := doc.ResolveVerificationMethod(p.VerificationMethod)
	if err != nil {
		if errors.Is(err, did.ErrVerificationMethodNotFound) {
			return e.reject(p, "verification method not found")
		}
		return e.reject(p, err.Error())
	}

	ok, err := wba.VerifySignature(payload, p.Signature, vm.PublicKeyJwk)
	if err != nil {
		return e.reject(p, err.Error())
	}
	if !ok {
		return e.reject(p, "Signature verification failed")
	}

	// The nonce is burned only after the signature proves the sender holds
	// the key, so forged headers cannot poison a peer's nonces.
	if e.nonces != nil {
		seen, err := e.nonces.Seen(ctx, p.DID, p.Nonce)
		if err != nil {
			// A broken cache must not take authentication down with it;
			// the timestamp window still bounds replays.
			e.logger.Warn("nonce cache unavailable", zap.Error(err))
		} else if seen {
			return e.reject(p, "nonce already used")
		}
	}

	return Result{Valid: true, Payload: p}
}

// reject builds a failed Result and leaves a debug trace.
func (e *Engine) reject(p *wba.Payload, reason string) Result {
	fields := []zap.Field{zap.String("reason", reason)}
	if p != nil {
		fields = append(fields, zap.String("did", p.DID))
	}
	e.logger.Debug("credential rejected", fields...)
	return Result{Valid: false, Message: reason, Payload: p}
}
