// Package client is the initiator side of DIDWba authentication.
//
// A Client is the authentication context of one local identity: it owns the
// signer cache, an optional token ledger, and the HTTP transport, and it runs
// the outbound negotiation — two-way (mutual) first, falling back to
// single-way when the peer rejects it.
//
// # Making an authenticated call
//
// Build a Client around a signer and call a peer:
//
//	signer := wba.NewSecp256k1Signer("did:wba:example.com:user:alice", "key-1", priv)
//	c, err := client.New(client.WithSigner(signer))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := c.Call(ctx, &client.Request{
//	    Method:  http.MethodPost,
//	    URL:     "https://service.example.com/wba/echo",
//	    Body:    []byte(`{"hello":"world"}`),
//	    RespDID: "did:wba:service.example.com",
//	})
//
// err is reserved for local misconfiguration (no signer, unusable URL). A
// peer rejecting the credential, or the network failing, comes back inside
// resp: AuthPass reports whether any credential was accepted and Message says
// how the exchange concluded ("two-way", "single-way",
// "both returned 401/403", or a transport failure).
//
// # Token reuse
//
// With a ledger attached, tokens issued by peers are stored and replayed as
// plain Bearer credentials, skipping the signing handshake until the peer
// stops accepting them:
//
//	led := ledger.New(signer.DID(), ledger.NewMemoryStore(), logger)
//	c, err := client.New(
//	    client.WithSigner(signer),
//	    client.WithLedger(led),
//	)
//
// A Bearer replay answered with 401/403 revokes the stored token and re-runs
// the full handshake transparently.
package client
