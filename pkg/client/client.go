package client

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/agentmesh/didwba-go/pkg/ledger"
	"github.com/agentmesh/didwba-go/pkg/wba"
)

// ErrNoSigner is returned when a call names a caller DID that no registered
// signer or signer source can serve. It signals local misconfiguration, not a
// peer failure.
var ErrNoSigner = errors.New("no signer for caller DID")

// SignerSource lazily provides the signer for a caller DID, typically by
// loading key material from an identity store. It is consulted once per DID;
// the result is cached until ClearCache.
type SignerSource func(callerDID string) (*wba.Signer, error)

// Client is the per-identity authentication context. It is safe for
// concurrent use; concurrent calls to the same peer each mint their own
// nonce and timestamp.
type Client struct {
	httpClient *http.Client
	ledger     *ledger.Ledger
	tokenTTL   time.Duration

	// signer cache — guarded by mu
	mu         sync.Mutex
	signers    map[string]*wba.Signer
	source     SignerSource
	defaultDID string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithSigner registers a ready signer. The first registered signer becomes
// the default caller identity.
func WithSigner(s *wba.Signer) Option {
	return func(c *Client) error {
		if s == nil {
			return fmt.Errorf("nil signer")
		}
		c.signers[s.DID()] = s
		if c.defaultDID == "" {
			c.defaultDID = s.DID()
		}
		return nil
	}
}

// WithSignerSource sets a lazy signer provider for caller DIDs that have no
// registered signer yet.
func WithSignerSource(src SignerSource) Option {
	return func(c *Client) error {
		c.source = src
		return nil
	}
}

// WithDefaultCaller sets the caller DID used when a Request names none.
func WithDefaultCaller(didStr string) Option {
	return func(c *Client) error {
		c.defaultDID = didStr
		return nil
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithLedger attaches a token ledger. Tokens issued by peers are stored in it
// and replayed as Bearer credentials on subsequent calls.
func WithLedger(l *ledger.Ledger) Option {
	return func(c *Client) error {
		c.ledger = l
		return nil
	}
}

// WithTokenTTL sets the lifetime recorded for stored peer tokens.
// Default: 1 hour.
func WithTokenTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.tokenTTL = ttl
		return nil
	}
}

// New creates a Client. At least one of WithSigner or WithSignerSource is
// required; without key material there is nothing to authenticate with.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokenTTL:   time.Hour,
		signers:    make(map[string]*wba.Signer),
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	if len(c.signers) == 0 && c.source == nil {
		return nil, fmt.Errorf("client requires a signer or a signer source")
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(opts ...Option) *Client {
	c, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// signerFor returns the cached signer for callerDID, minting one through the
// source on first use.
func (c *Client) signerFor(callerDID string) (*wba.Signer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.signers[callerDID]; ok {
		return s, nil
	}
	if c.source == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSigner, callerDID)
	}
	s, err := c.source(callerDID)
	if err != nil {
		return nil, fmt.Errorf("load signer for %s: %w", callerDID, err)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSigner, callerDID)
	}
	c.signers[callerDID] = s
	return s, nil
}

// ClearCache drops every cached signer. Signers are re-minted through the
// signer source on next use; identities registered with WithSigner must be
// registered again.
func (c *Client) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signers = make(map[string]*wba.Signer)
}
