package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh/didwba-go/pkg/ledger"
)

var ctx = context.Background()

const (
	selfDID = "did:wba:self.example.com"
	peerDID = "did:wba:peer.example.com:user:bob"
)

func newLedger() *ledger.Ledger {
	return ledger.New(selfDID, ledger.NewMemoryStore(), zap.NewNop())
}

func TestStoreTokenToRemote_thenValid(t *testing.T) {
	l := newLedger()

	rec, err := l.StoreTokenToRemote(ctx, peerDID, "t1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ReqDID != selfDID {
		t.Errorf("ReqDID: got %q, want %q", rec.ReqDID, selfDID)
	}
	if rec.ExpiresAt == nil {
		t.Fatal("expected an expiry on an outbound record")
	}

	valid, err := l.IsTokenValid(ctx, peerDID, ledger.DirectionTo)
	if err != nil {
		t.Fatal(err)
	}
	if !valid {
		t.Error("expected freshly stored outbound token to be valid")
	}
}

func TestRevokeTokenToRemote_deletesRecord(t *testing.T) {
	l := newLedger()

	if _, err := l.StoreTokenToRemote(ctx, peerDID, "t1", time.Hour); err != nil {
		t.Fatal(err)
	}

	ok, err := l.RevokeTokenToRemote(ctx, peerDID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected revoke to report an existing record")
	}

	// Outbound revoke removes the record outright.
	if _, err := l.GetTokenToRemote(ctx, peerDID); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound after revoke, got %v", err)
	}

	ok, err = l.RevokeTokenToRemote(ctx, peerDID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second revoke should report no record")
	}
}

func TestRevokeTokenFromRemote_keepsRecordFlagged(t *testing.T) {
	l := newLedger()

	rec, err := l.StoreTokenFromRemote(ctx, peerDID, "t2")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ReqDID != peerDID {
		t.Errorf("ReqDID: got %q, want peer %q", rec.ReqDID, peerDID)
	}
	if rec.ExpiresAt != nil {
		t.Error("inbound records carry no local expiry")
	}

	valid, err := l.IsTokenValid(ctx, peerDID, ledger.DirectionFrom)
	if err != nil {
		t.Fatal(err)
	}
	if !valid {
		t.Error("expected stored inbound token to be valid")
	}

	ok, err := l.RevokeTokenFromRemote(ctx, peerDID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected revoke to report an existing record")
	}

	// Inbound revoke keeps the record retrievable, flagged.
	got, err := l.GetTokenFromRemote(ctx, peerDID)
	if err != nil {
		t.Fatalf("record should survive an inbound revoke: %v", err)
	}
	if !got.IsRevoked {
		t.Error("expected IsRevoked to be set")
	}

	valid, err = l.IsTokenValid(ctx, peerDID, ledger.DirectionFrom)
	if err != nil {
		t.Fatal(err)
	}
	if valid {
		t.Error("revoked inbound token must not be valid")
	}
}

func TestIsTokenValid_expiry(t *testing.T) {
	l := newLedger()

	// Negative ttl stores an already-expired record instead of failing.
	if _, err := l.StoreTokenToRemote(ctx, peerDID, "t3", -time.Second); err != nil {
		t.Fatalf("negative ttl must not be an error: %v", err)
	}

	valid, err := l.IsTokenValid(ctx, peerDID, ledger.DirectionTo)
	if err != nil {
		t.Fatal(err)
	}
	if valid {
		t.Error("expired outbound token must not be valid")
	}

	// Inbound validity never looks at expiry.
	if _, err := l.StoreTokenFromRemote(ctx, peerDID, "t4"); err != nil {
		t.Fatal(err)
	}
	valid, err = l.IsTokenValid(ctx, peerDID, ledger.DirectionFrom)
	if err != nil {
		t.Fatal(err)
	}
	if !valid {
		t.Error("inbound token should be valid regardless of ledger expiry")
	}
}

func TestIsTokenValid_missingAndBadDirection(t *testing.T) {
	l := newLedger()

	valid, err := l.IsTokenValid(ctx, "did:wba:stranger.example.com", ledger.DirectionTo)
	if err != nil {
		t.Fatalf("missing record is not an error: %v", err)
	}
	if valid {
		t.Error("missing record must not be valid")
	}

	if _, err := l.IsTokenValid(ctx, peerDID, ledger.Direction("sideways")); err == nil {
		t.Error("expected error for unknown direction")
	}
}

func TestCleanupExpiredTokens(t *testing.T) {
	l := newLedger()

	if _, err := l.StoreTokenToRemote(ctx, peerDID, "t5", -time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := l.StoreTokenToRemote(ctx, "did:wba:fresh.example.com", "t6", time.Hour); err != nil {
		t.Fatal(err)
	}
	// An expired-looking inbound record must never be swept.
	if _, err := l.StoreTokenFromRemote(ctx, peerDID, "t7"); err != nil {
		t.Fatal(err)
	}

	n, err := l.CleanupExpiredTokens(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 swept record, got %d", n)
	}

	if _, err := l.GetTokenToRemote(ctx, peerDID); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected swept record to be gone, got %v", err)
	}
	if _, err := l.GetTokenToRemote(ctx, "did:wba:fresh.example.com"); err != nil {
		t.Errorf("fresh record should survive the sweep: %v", err)
	}
	if _, err := l.GetTokenFromRemote(ctx, peerDID); err != nil {
		t.Errorf("inbound record should survive the sweep: %v", err)
	}
}

func TestTokenStats(t *testing.T) {
	l := newLedger()

	if _, err := l.StoreTokenToRemote(ctx, "did:wba:a.example.com", "t1", time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := l.StoreTokenToRemote(ctx, "did:wba:b.example.com", "t2", -time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := l.StoreTokenFromRemote(ctx, "did:wba:c.example.com", "t3"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.StoreTokenFromRemote(ctx, "did:wba:d.example.com", "t4"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.RevokeTokenFromRemote(ctx, "did:wba:d.example.com"); err != nil {
		t.Fatal(err)
	}

	st, err := l.TokenStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.ToTotal != 2 || st.ToValid != 1 {
		t.Errorf("to: got total=%d valid=%d, want 2/1", st.ToTotal, st.ToValid)
	}
	if st.FromTotal != 2 || st.FromValid != 1 {
		t.Errorf("from: got total=%d valid=%d, want 2/1", st.FromTotal, st.FromValid)
	}
}

func TestLedger_identityIsolation(t *testing.T) {
	store := ledger.NewMemoryStore()
	alice := ledger.New("did:wba:alice.example.com", store, zap.NewNop())
	carol := ledger.New("did:wba:carol.example.com", store, zap.NewNop())

	if _, err := alice.StoreTokenToRemote(ctx, peerDID, "alice-token", time.Hour); err != nil {
		t.Fatal(err)
	}

	// The same backing store, scoped to another identity, sees nothing.
	if _, err := carol.GetTokenToRemote(ctx, peerDID); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound for other identity, got %v", err)
	}
}

func TestMemoryStore_concurrentSamePeer(t *testing.T) {
	l := newLedger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.StoreTokenToRemote(ctx, peerDID, "tok", time.Hour)
			_, _ = l.RevokeTokenToRemote(ctx, peerDID)
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, the record is either present and
	// well-formed or absent — never torn.
	rec, err := l.GetTokenToRemote(ctx, peerDID)
	if err == nil {
		if rec.Token != "tok" || rec.ReqDID != "did:wba:alice.example.com" && rec.ReqDID != selfDID {
			t.Errorf("unexpected record: %+v", rec)
		}
	} else if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatal(err)
	}
}
