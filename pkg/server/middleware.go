package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentmesh/didwba-go/pkg/contacts"
	"github.com/agentmesh/didwba-go/pkg/did"
	"github.com/agentmesh/didwba-go/pkg/domains"
	"github.com/agentmesh/didwba-go/pkg/ledger"
	"github.com/agentmesh/didwba-go/pkg/verifier"
	"github.com/agentmesh/didwba-go/pkg/wba"
)

const (
	ctxCallerDID   = "wba_caller_did"
	ctxAuthMode    = "wba_auth_mode"
	ctxTokenClaims = "wba_token_claims"
)

// tokenEnvelope is the two-way success payload carried in the Authorization
// response header. RespDIDAuthHeader holds the responder's counter-signed
// DIDWba credential so the caller can verify the responder in turn.
type tokenEnvelope struct {
	AccessToken       string `json:"access_token"`
	TokenType         string `json:"token_type"`
	ReqDID            string `json:"req_did"`
	RespDID           string `json:"resp_did"`
	RespDIDAuthHeader string `json:"resp_did_auth_header"`
}

// AuthenticatorConfig wires the pieces RequireAuth needs.
type AuthenticatorConfig struct {
	// Signer holds the responder identity; it counter-signs two-way
	// responses. Its DID is the resp_did callers must address.
	Signer *wba.Signer

	// Fetcher resolves caller DID documents.
	Fetcher *did.Fetcher

	// Engine verifies DIDWba credentials.
	Engine *verifier.Engine

	// Issuer mints the access tokens returned on success.
	Issuer *TokenIssuer

	// Policy decides which Host headers this responder serves.
	Policy *domains.Policy

	// Ledger records issued tokens per peer and enforces inbound
	// revocation. Optional; without it tokens are verified by signature
	// and expiry alone.
	Ledger *ledger.Ledger

	// Contacts records every peer that completes a DIDWba handshake.
	// Optional.
	Contacts *contacts.Directory
}

// Authenticator guards routes with the DIDWba handshake. Callers present
// either a DIDWba credential (first contact) or a Bearer access token issued
// on an earlier request.
type Authenticator struct {
	ownDID   string
	signer   *wba.Signer
	fetcher  *did.Fetcher
	engine   *verifier.Engine
	issuer   *TokenIssuer
	policy   *domains.Policy
	ledger   *ledger.Ledger
	contacts *contacts.Directory
	logger   *zap.Logger
}

// NewAuthenticator creates an Authenticator from cfg.
func NewAuthenticator(cfg AuthenticatorConfig, logger *zap.Logger) (*Authenticator, error) {
	switch {
	case cfg.Signer == nil:
		return nil, errors.New("authenticator requires a signer")
	case cfg.Fetcher == nil:
		return nil, errors.New("authenticator requires a DID fetcher")
	case cfg.Engine == nil:
		return nil, errors.New("authenticator requires a verification engine")
	case cfg.Issuer == nil:
		return nil, errors.New("authenticator requires a token issuer")
	case cfg.Policy == nil:
		return nil, errors.New("authenticator requires a domain policy")
	}
	return &Authenticator{
		ownDID:   cfg.Signer.DID(),
		signer:   cfg.Signer,
		fetcher:  cfg.Fetcher,
		engine:   cfg.Engine,
		issuer:   cfg.Issuer,
		policy:   cfg.Policy,
		ledger:   cfg.Ledger,
		contacts: cfg.Contacts,
		logger:   logger,
	}, nil
}

// RequireAuth returns a Gin middleware enforcing DIDWba authentication.
//
// A request authenticates with either scheme:
//
//	Authorization: Bearer <access token>   — token issued on a prior request
//	Authorization: DIDWba did="…", …       — signed credential, single- or two-way
//
// On a successful DIDWba exchange the middleware issues a fresh access token
// and returns it in the Authorization response header: a plain Bearer value
// for single-way credentials, or a JSON envelope with a counter-signed
// credential for two-way. The caller DID is injected into the Gin context
// for handlers.
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		hp := a.policy.ParseHostHeader(c.Request.Host)
		if !a.policy.IsSupportedDomain(hp.Host, hp.Port) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "unsupported service domain",
			})
			return
		}

		authHeader := c.GetHeader("Authorization")
		switch {
		case authHeader == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authorization required",
			})
		case strings.HasPrefix(authHeader, "Bearer "):
			a.bearerAuth(c, strings.TrimPrefix(authHeader, "Bearer "))
		case strings.HasPrefix(authHeader, wba.Scheme+" "):
			a.didwbaAuth(c, authHeader, hp.Host)
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unsupported authorization scheme",
			})
		}
	}
}

// bearerAuth admits a previously issued access token. Beyond the signature
// and expiry checks, the peer's inbound ledger record must still be live:
// revoking the record locks the peer out even while its JWT is unexpired.
func (a *Authenticator) bearerAuth(c *gin.Context, tokenStr string) {
	claims, err := a.issuer.Verify(tokenStr)
	if err != nil {
		RecordAuthAttempt("bearer", false)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "invalid token: " + err.Error(),
		})
		return
	}

	if a.ledger != nil {
		valid, err := a.ledger.IsTokenValid(c.Request.Context(), claims.ReqDID, ledger.DirectionFrom)
		if err != nil {
			a.logger.Warn("inbound token lookup failed",
				zap.String("did", claims.ReqDID), zap.Error(err))
		}
		if err != nil || !valid {
			RecordAuthAttempt("bearer", false)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "token revoked or unknown",
			})
			return
		}
	}

	RecordAuthAttempt("bearer", true)
	c.Set(ctxCallerDID, claims.ReqDID)
	c.Set(ctxAuthMode, "bearer")
	c.Set(ctxTokenClaims, claims)
	c.Next()
}

// didwbaAuth verifies a signed DIDWba credential and mints an access token.
// serviceDomain is the host the credential must be bound to.
func (a *Authenticator) didwbaAuth(c *gin.Context, header, serviceDomain string) {
	ctx := c.Request.Context()

	// A header without resp_did is a single-way credential; any other
	// parse failure is a malformed header.
	mode := "two-way"
	p, err := wba.ParseTwoWay(header)
	if err != nil {
		var missing *wba.MissingFieldError
		if errors.As(err, &missing) && missing.Field == "resp_did" {
			mode = "single-way"
			p, err = wba.ParseSingleWay(header)
		}
		if err != nil {
			RecordAuthAttempt(mode, false)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}
	}

	doc, err := a.fetcher.Fetch(ctx, p.DID)
	if err != nil {
		a.logger.Warn("caller DID document unavailable",
			zap.String("did", p.DID), zap.Error(err))
		RecordAuthAttempt(mode, false)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "did document unavailable",
		})
		return
	}

	var res verifier.Result
	if mode == "two-way" {
		res = a.engine.VerifyTwoWay(ctx, header, doc, serviceDomain, a.ownDID)
	} else {
		res = a.engine.VerifySingleWay(ctx, header, doc, serviceDomain)
	}
	if !res.Valid {
		RecordAuthAttempt(mode, false)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": res.Message,
		})
		return
	}

	token, err := a.issuer.Issue(p.DID)
	if err != nil {
		a.logger.Error("access token mint failed",
			zap.String("did", p.DID), zap.Error(err))
		RecordAuthAttempt(mode, false)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "token issuance failed",
		})
		return
	}
	RecordTokenIssued()

	if a.ledger != nil {
		if _, err := a.ledger.StoreTokenFromRemote(ctx, p.DID, token); err != nil {
			a.logger.Error("inbound token record failed",
				zap.String("did", p.DID), zap.Error(err))
		}
	}
	if a.contacts != nil {
		a.recordPeer(ctx, p.DID)
	}

	if mode == "two-way" {
		counter, err := a.signer.TwoWayHeader(serviceDomain, p.DID)
		if err != nil {
			a.logger.Error("counter credential failed",
				zap.String("did", p.DID), zap.Error(err))
			RecordAuthAttempt(mode, false)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "counter credential failed",
			})
			return
		}
		envelope, err := json.Marshal(tokenEnvelope{
			AccessToken:       token,
			TokenType:         "bearer",
			ReqDID:            p.DID,
			RespDID:           a.ownDID,
			RespDIDAuthHeader: counter,
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "response encoding failed",
			})
			return
		}
		c.Header("Authorization", string(envelope))
	} else {
		c.Header("Authorization", "Bearer "+token)
	}

	RecordAuthAttempt(mode, true)
	a.logger.Info("peer authenticated",
		zap.String("did", p.DID), zap.String("mode", mode))
	c.Set(ctxCallerDID, p.DID)
	c.Set(ctxAuthMode, mode)
	c.Next()
}

// recordPeer upserts an authenticated peer into the contact directory. A
// directory failure never fails the handshake itself.
func (a *Authenticator) recordPeer(ctx context.Context, peerDID string) {
	entry := contacts.Contact{DID: peerDID}
	if d, err := did.Parse(peerDID); err == nil {
		entry.Host = d.Host
		entry.Port = d.Port
	}
	if _, err := a.contacts.AddContact(ctx, entry); err != nil {
		a.logger.Warn("peer contact record failed",
			zap.String("did", peerDID), zap.Error(err))
	}
}

// CallerDIDFromCtx retrieves the authenticated caller DID injected by
// RequireAuth.
func CallerDIDFromCtx(c *gin.Context) string {
	v, _ := c.Get(ctxCallerDID)
	s, _ := v.(string)
	return s
}

// AuthModeFromCtx retrieves how the caller authenticated: "bearer",
// "single-way", or "two-way".
func AuthModeFromCtx(c *gin.Context) string {
	v, _ := c.Get(ctxAuthMode)
	s, _ := v.(string)
	return s
}

// ClaimsFromCtx retrieves the access token claims when the caller
// authenticated with a Bearer token. Nil on DIDWba requests.
func ClaimsFromCtx(c *gin.Context) *AccessTokenClaims {
	v, _ := c.Get(ctxTokenClaims)
	claims, _ := v.(*AccessTokenClaims)
	return claims
}
