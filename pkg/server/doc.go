// Package server implements the responder side of the DIDWba handshake as
// Gin middleware plus the HTTP surface around it.
//
// The centerpiece is the Authenticator. Mounted on a route group, it admits
// requests carrying either a signed DIDWba credential or a Bearer access
// token issued on an earlier request:
//
//	auth, err := server.NewAuthenticator(server.AuthenticatorConfig{
//		Signer:  identity.Signer(),
//		Fetcher: fetcher,
//		Engine:  verifier.New(logger),
//		Issuer:  server.NewTokenIssuer(identity.TokenKey, identity.DID.String(), time.Hour),
//		Policy:  policy,
//		Ledger:  ledger,
//	}, logger)
//	if err != nil {
//		return err
//	}
//	protected := router.Group("/wba", auth.RequireAuth())
//
// On a successful credential exchange the middleware returns a fresh access
// token in the Authorization response header — a Bearer value for single-way
// credentials, a JSON envelope with a counter-signed credential for two-way —
// and records it in the ledger so later Bearer requests can be checked
// against per-peer revocation.
//
// The package also carries the rest of a responder's needs: HostedDIDQueue
// publishes peer documents under the local domain, RedisNonceCache shares
// replay state between instances, and RateLimiter, PrometheusMiddleware, and
// MetricsHandler cover the operational middleware.
package server
