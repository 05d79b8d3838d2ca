package server_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentmesh/didwba-go/pkg/client"
	"github.com/agentmesh/didwba-go/pkg/contacts"
	"github.com/agentmesh/didwba-go/pkg/did"
	"github.com/agentmesh/didwba-go/pkg/domains"
	"github.com/agentmesh/didwba-go/pkg/ledger"
	"github.com/agentmesh/didwba-go/pkg/server"
	"github.com/agentmesh/didwba-go/pkg/verifier"
	"github.com/agentmesh/didwba-go/pkg/wba"
)

var ctx = context.Background()

const responderDID = "did:wba:service.example.com"

// testRSAKey is shared across tests; generating a fresh 2048-bit key per
// responder makes the suite needlessly slow.
var testRSAKey = func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
}()

// testIdentity bundles a generated key pair with the DID document publishing
// its public half.
type testIdentity struct {
	did    string
	signer *wba.Signer
	doc    *did.Document
}

func newTestIdentity(t *testing.T, didStr string) *testIdentity {
	t.Helper()

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}

	return &testIdentity{
		did:    didStr,
		signer: wba.NewSecp256k1Signer(didStr, "key-1", priv),
		doc: &did.Document{
			ID: didStr,
			VerificationMethod: []did.VerificationMethod{
				{
					ID:           didStr + "#key-1",
					Type:         wba.MethodTypeSecp256k1,
					Controller:   didStr,
					PublicKeyJwk: wba.Secp256k1JWK(priv.PubKey()),
				},
			},
		},
	}
}

// newHostedIdentity publishes a fresh identity's DID document on a local
// HTTP server, so the responder's fetcher can resolve it. The identity's DID
// embeds the server's address.
func newHostedIdentity(t *testing.T) *testIdentity {
	t.Helper()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	id := newTestIdentity(t, "did:wba:"+u.Hostname()+"%3A"+u.Port())

	mux.HandleFunc("/.well-known/did.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(id.doc) //nolint:errcheck
	})
	return id
}

// responder is a fully wired DIDWba service under httptest.
type responder struct {
	srv    *httptest.Server
	host   string // host the caller must bind credentials to
	id     *testIdentity
	issuer *server.TokenIssuer
	led    *ledger.Ledger
	peers  *contacts.Directory
	queue  *server.HostedDIDQueue
	policy *domains.Policy
	engine *verifier.Engine
}

func newResponder(t *testing.T) *responder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	id := newTestIdentity(t, responderDID)
	issuer := server.NewTokenIssuer(testRSAKey, responderDID, time.Hour)
	led := ledger.New(responderDID, ledger.NewMemoryStore(), zap.NewNop())
	peers := contacts.New(responderDID, contacts.NewMemoryStore(), zap.NewNop())
	policy := domains.New(domains.Config{BasePath: t.TempDir()})
	engine := verifier.New(zap.NewNop())

	queue, err := server.NewHostedDIDQueue(policy.AllDataPaths("service.example.com", 80), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	auth, err := server.NewAuthenticator(server.AuthenticatorConfig{
		Signer:   id.signer,
		Fetcher:  did.NewFetcher(did.FetcherConfig{}, zap.NewNop()),
		Engine:   engine,
		Issuer:   issuer,
		Policy:   policy,
		Ledger:   led,
		Contacts: peers,
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	h := server.NewHandler(auth, queue, led, id.doc, zap.NewNop())
	h.SetPeerDirectory(peers)
	r := gin.New()
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	policy.AddDomain(u.Host)

	return &responder{
		srv:    srv,
		host:   u.Hostname(),
		id:     id,
		issuer: issuer,
		led:    led,
		peers:  peers,
		queue:  queue,
		policy: policy,
		engine: engine,
	}
}

// doRequest sends one request with the given Authorization value and returns
// the response with its body read.
func doRequest(t *testing.T, method, rawURL, authorization string, body []byte) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, rawURL, reader)
	if err != nil {
		t.Fatal(err)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// readJSON decodes and closes a response body.
func readJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestEndToEnd_clientHandshake(t *testing.T) {
	rsp := newResponder(t)
	caller := newHostedIdentity(t)
	callerLedger := ledger.New(caller.did, ledger.NewMemoryStore(), zap.NewNop())

	cli := client.MustNew(
		client.WithSigner(caller.signer),
		client.WithLedger(callerLedger),
	)

	first, err := cli.Call(ctx, &client.Request{
		URL:     rsp.srv.URL + "/wba/whoami",
		RespDID: responderDID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !first.AuthPass || first.Status != http.StatusOK {
		t.Fatalf("first call: status=%d authpass=%v message=%q", first.Status, first.AuthPass, first.Message)
	}
	if first.Message != "two-way" {
		t.Errorf("Message: got %q, want %q", first.Message, "two-way")
	}
	if first.Token == "" {
		t.Fatal("expected an issued token")
	}

	// Both sides recorded the token.
	theirs, err := rsp.led.GetTokenFromRemote(ctx, caller.did)
	if err != nil {
		t.Fatal(err)
	}
	if theirs.Token != first.Token {
		t.Error("responder ledger does not hold the issued token")
	}
	mine, err := callerLedger.GetTokenToRemote(ctx, responderDID)
	if err != nil {
		t.Fatal(err)
	}
	if mine.Token != first.Token {
		t.Error("caller ledger does not hold the issued token")
	}

	// The second call must ride the stored token instead of re-signing.
	second, err := cli.Call(ctx, &client.Request{
		URL:     rsp.srv.URL + "/wba/whoami",
		RespDID: responderDID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !second.AuthPass {
		t.Fatalf("second call rejected: status=%d message=%q", second.Status, second.Message)
	}
	if second.Message != "token" {
		t.Errorf("Message: got %q, want %q", second.Message, "token")
	}

	var who struct {
		DID  string `json:"did"`
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(second.Body, &who); err != nil {
		t.Fatal(err)
	}
	if who.DID != caller.did || who.Mode != "bearer" {
		t.Errorf("whoami: got %+v", who)
	}
}

func TestEndToEnd_revokedPeerMustReauthenticate(t *testing.T) {
	rsp := newResponder(t)
	caller := newHostedIdentity(t)
	callerLedger := ledger.New(caller.did, ledger.NewMemoryStore(), zap.NewNop())

	cli := client.MustNew(
		client.WithSigner(caller.signer),
		client.WithLedger(callerLedger),
	)

	first, err := cli.Call(ctx, &client.Request{
		URL:     rsp.srv.URL + "/wba/whoami",
		RespDID: responderDID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !first.AuthPass {
		t.Fatalf("handshake rejected: %q", first.Message)
	}

	// Responder-side revocation: the stored Bearer token stops working, and
	// the client falls back to a fresh handshake on its own.
	if _, err := rsp.led.RevokeTokenFromRemote(ctx, caller.did); err != nil {
		t.Fatal(err)
	}

	second, err := cli.Call(ctx, &client.Request{
		URL:     rsp.srv.URL + "/wba/whoami",
		RespDID: responderDID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !second.AuthPass {
		t.Fatalf("re-handshake rejected: status=%d message=%q", second.Status, second.Message)
	}
	if second.Message != "two-way" {
		t.Errorf("Message: got %q, want %q", second.Message, "two-way")
	}
	if second.Token == first.Token {
		t.Error("expected a fresh token after revocation")
	}
}
