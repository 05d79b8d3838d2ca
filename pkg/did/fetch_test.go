package did_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/didwba-go/pkg/did"
)

// serveDocument starts an httptest server publishing a minimal DID document
// at the well-known path, and returns the server plus the DID that resolves
// to it.
func serveDocument(t *testing.T, hits *atomic.Int64) (*httptest.Server, string) {
	t.Helper()

	var rawDID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/.well-known/did.json" {
			http.NotFound(w, r)
			return
		}
		doc := map[string]any{
			"id": rawDID,
			"verificationMethod": []map[string]any{
				{
					"id":           rawDID + "#key-1",
					"type":         "EcdsaSecp256k1VerificationKey2019",
					"controller":   rawDID,
					"publicKeyJwk": map[string]string{"kty": "EC", "crv": "secp256k1", "x": "eA", "y": "eQ"},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc) //nolint:errcheck
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	rawDID = fmt.Sprintf("did:wba:127.0.0.1%%3A%s", u.Port())
	return srv, rawDID
}

func TestFetcher_Fetch(t *testing.T) {
	_, rawDID := serveDocument(t, nil)

	f := did.NewFetcher(did.FetcherConfig{}, zap.NewNop())
	doc, err := f.Fetch(context.Background(), rawDID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ID != rawDID {
		t.Errorf("ID: got %q, want %q", doc.ID, rawDID)
	}
}

func TestFetcher_cacheHit(t *testing.T) {
	var hits atomic.Int64
	_, rawDID := serveDocument(t, &hits)

	f := did.NewFetcher(did.FetcherConfig{CacheTTL: time.Minute}, zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := f.Fetch(context.Background(), rawDID); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("expected 1 remote hit with warm cache, got %d", got)
	}
	if f.CacheStats() != 1 {
		t.Errorf("expected 1 cached entry, got %d", f.CacheStats())
	}

	f.Invalidate(rawDID)
	if _, err := f.Fetch(context.Background(), rawDID); err != nil {
		t.Fatal(err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("expected refetch after invalidate, got %d hits", got)
	}
}

func TestFetcher_httpError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	u, _ := url.Parse(srv.URL)
	rawDID := fmt.Sprintf("did:wba:127.0.0.1%%3A%s", u.Port())

	f := did.NewFetcher(did.FetcherConfig{}, zap.NewNop())
	if _, err := f.Fetch(context.Background(), rawDID); err == nil {
		t.Error("expected error for HTTP 500 but got nil")
	}
}

func TestFetcher_idMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"did:wba:somebody-else.com","verificationMethod":[{"id":"did:wba:somebody-else.com#key-1","type":"EcdsaSecp256k1VerificationKey2019"}]}`)
	}))
	t.Cleanup(srv.Close)

	u, _ := url.Parse(srv.URL)
	rawDID := fmt.Sprintf("did:wba:127.0.0.1%%3A%s", u.Port())

	f := did.NewFetcher(did.FetcherConfig{}, zap.NewNop())
	if _, err := f.Fetch(context.Background(), rawDID); err == nil {
		t.Error("expected error for document id mismatch but got nil")
	}
}
