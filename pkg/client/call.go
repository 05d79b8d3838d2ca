package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/agentmesh/didwba-go/pkg/ledger"
)

// maxResponseBytes caps how much of a peer's response body is read.
const maxResponseBytes = 1 << 20 // 1 MB

// Request describes one outbound authenticated call.
type Request struct {
	// Method is the HTTP method; GET when empty.
	Method string

	// URL is the full target URL. Its hostname becomes the service domain the
	// credential is bound to.
	URL string

	// Body is sent as-is; the Content-Type is always application/json.
	Body []byte

	// Headers are merged under the auth layer's headers: Authorization and
	// Content-Type cannot be overridden, everything else passes through.
	Headers map[string]string

	// CallerDID selects the signing identity; the Client default when empty.
	CallerDID string

	// RespDID is the peer's DID. It enables the two-way (mutual) credential
	// and keys the token ledger. Empty means single-way only.
	RespDID string

	// SingleWay skips the two-way attempt even when RespDID is known.
	SingleWay bool
}

// Response is the outcome of one authenticated call. Peer rejections and
// network failures are reported here, never as an error from Call.
type Response struct {
	// Status is the HTTP status of the final attempt, or 500 when the
	// transport failed before any status arrived.
	Status int

	// AuthPass reports whether the peer accepted a credential (2xx).
	AuthPass bool

	// Message says how the exchange concluded: "two-way", "single-way",
	// "token" (stored Bearer reused), "both returned 401/403", or a
	// transport failure description.
	Message string

	// Token is the access token the peer issued, when one was found in the
	// Authorization response header.
	Token string

	Header http.Header
	Body   []byte
}

// attempt is one completed HTTP exchange.
type attempt struct {
	status int
	header http.Header
	body   []byte
}

func authRejected(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}

// Call runs the outbound authentication state machine against req.URL.
//
// The two-way credential is tried first whenever the peer's DID is known,
// falling back to single-way on 401/403. With a ledger attached, a valid
// stored token short-circuits the handshake into a single Bearer attempt.
//
// The returned error is reserved for local misconfiguration — unknown caller
// identity, unusable URL, failing signer. Everything the peer or the network
// does wrong lands in the Response.
func (c *Client) Call(ctx context.Context, req *Request) (*Response, error) {
	callerDID := req.CallerDID
	if callerDID == "" {
		callerDID = c.defaultDID
	}
	if callerDID == "" {
		return nil, fmt.Errorf("%w: request names no caller and client has no default", ErrNoSigner)
	}

	target, err := url.Parse(req.URL)
	if err != nil || target.Hostname() == "" {
		return nil, fmt.Errorf("unusable target URL %q", req.URL)
	}
	service := target.Hostname()

	signer, err := c.signerFor(callerDID)
	if err != nil {
		return nil, err
	}

	// Stored-token fast path: one Bearer attempt, no signing.
	if c.ledger != nil && req.RespDID != "" {
		if token := c.storedToken(ctx, req.RespDID); token != "" {
			at, err := c.send(ctx, req, "Bearer "+token)
			if err != nil {
				return &Response{Status: http.StatusInternalServerError, Message: err.Error()}, nil
			}
			if !authRejected(at.status) {
				return c.conclude(ctx, req, at, "token"), nil
			}
			// The peer stopped honoring the token; drop it and re-authenticate.
			c.ledger.RevokeTokenToRemote(ctx, req.RespDID) //nolint:errcheck
		}
	}

	useTwoWay := req.RespDID != "" && !req.SingleWay

	if useTwoWay {
		header, err := signer.TwoWayHeader(service, req.RespDID)
		if err != nil {
			return nil, err
		}
		at, err := c.send(ctx, req, header)
		if err != nil {
			return &Response{Status: http.StatusInternalServerError, Message: err.Error()}, nil
		}
		if !authRejected(at.status) {
			return c.conclude(ctx, req, at, "two-way"), nil
		}
		// 401/403: fall through to single-way.
	}

	header, err := signer.SingleWayHeader(service)
	if err != nil {
		return nil, err
	}
	at, err := c.send(ctx, req, header)
	if err != nil {
		return &Response{Status: http.StatusInternalServerError, Message: err.Error()}, nil
	}
	if authRejected(at.status) {
		return &Response{
			Status:  at.status,
			Message: "both returned 401/403",
			Header:  at.header,
			Body:    at.body,
		}, nil
	}
	return c.conclude(ctx, req, at, "single-way"), nil
}

// conclude builds the Response for a non-401/403 attempt: 2xx passes and has
// its issued token extracted (and stored when a ledger is attached); anything
// else is a plain failure with the peer's status.
func (c *Client) conclude(ctx context.Context, req *Request, at *attempt, mode string) *Response {
	resp := &Response{
		Status:  at.status,
		Message: mode,
		Header:  at.header,
		Body:    at.body,
	}
	if !is2xx(at.status) {
		resp.Message = fmt.Sprintf("%s attempt returned %d", mode, at.status)
		return resp
	}

	resp.AuthPass = true
	info := ParseTokenFromResponse(at.header)
	resp.Token = info.Token

	if c.ledger != nil && req.RespDID != "" && info.Token != "" && mode != "token" {
		c.ledger.StoreTokenToRemote(ctx, req.RespDID, info.Token, c.tokenTTL) //nolint:errcheck
	}
	return resp
}

// storedToken returns a replayable outbound token for peer, or "".
func (c *Client) storedToken(ctx context.Context, peerDID string) string {
	valid, err := c.ledger.IsTokenValid(ctx, peerDID, ledger.DirectionTo)
	if err != nil || !valid {
		return ""
	}
	rec, err := c.ledger.GetTokenToRemote(ctx, peerDID)
	if err != nil {
		return ""
	}
	return rec.Token
}

// send performs one HTTP exchange with the given Authorization value. Caller
// headers are applied first so the auth layer's Authorization and
// Content-Type always win.
func (c *Client) send(ctx context.Context, req *Request, authorization string) (*attempt, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", authorization)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send to %s: %w", req.URL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &attempt{status: resp.StatusCode, header: resp.Header, body: body}, nil
}
