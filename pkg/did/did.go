// Package did provides parsing, document modelling, and network resolution
// for the did:wba method.
//
// DID format: did:wba:[host][%3Aport][:path-segment]*
//
// Examples:
//
//	did:wba:example.com                      (document at /.well-known/did.json)
//	did:wba:example.com%3A8800               (non-default port, colon percent-encoded)
//	did:wba:agent-did.com:user:alice         (document at /user/alice/did.json)
//
// The host is the domain that serves the DID document; the optional port uses
// a percent-encoded colon ("%3A") so that plain colons stay free to separate
// path segments. Path segments map one-to-one onto the document URL path.
package did

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Prefix is the scheme-and-method prefix of every identifier this package
// understands.
const Prefix = "did:wba:"

// WellKnownPath is where a pathless DID publishes its document.
const WellKnownPath = "/.well-known/did.json"

// documentFilename terminates the document URL of a DID with path segments.
const documentFilename = "did.json"

// DID represents a parsed did:wba identifier.
type DID struct {
	Host     string   // e.g. "example.com" — hostname, never carries the port
	Port     int      // e.g. 8800 — 0 when the DID names no explicit port
	Segments []string // e.g. ["user", "alice"] — path under the host, may be empty
	raw      string
}

// Parse parses a did:wba identifier string.
//
// The expected structure is:
//
//	did:wba:{host}[%3A{port}][:{segment}]...
func Parse(raw string) (*DID, error) {
	if !strings.HasPrefix(raw, Prefix) {
		return nil, fmt.Errorf("unsupported DID method in %q: expected %q prefix", raw, Prefix)
	}

	rest := strings.TrimPrefix(raw, Prefix)
	if rest == "" {
		return nil, fmt.Errorf("missing host in DID %q", raw)
	}

	parts := strings.Split(rest, ":")

	// The first part is the authority; a port hides behind a percent-encoded colon.
	authority, err := url.PathUnescape(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid authority encoding in DID %q: %w", raw, err)
	}

	host := authority
	port := 0
	if i := strings.LastIndex(authority, ":"); i >= 0 {
		host = authority[:i]
		port, err = strconv.Atoi(authority[i+1:])
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port in DID %q", raw)
		}
	}
	if err := validateSegment("host", host); err != nil {
		return nil, err
	}

	segments := parts[1:]
	for _, seg := range segments {
		if err := validateSegment("path segment", seg); err != nil {
			return nil, err
		}
	}

	return &DID{
		Host:     host,
		Port:     port,
		Segments: segments,
		raw:      raw,
	}, nil
}

// MustParse parses a DID and panics on error. Useful in tests and init blocks.
func MustParse(raw string) *DID {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// SupportsMethod reports whether this package can resolve the given
// identifier, i.e. whether it is a did:wba DID.
func SupportsMethod(raw string) bool {
	return strings.HasPrefix(raw, Prefix)
}

// String returns the canonical did:wba identifier string.
func (d *DID) String() string {
	var b strings.Builder
	b.WriteString(Prefix)
	b.WriteString(d.Host)
	if d.Port > 0 {
		b.WriteString("%3A")
		b.WriteString(strconv.Itoa(d.Port))
	}
	for _, seg := range d.Segments {
		b.WriteString(":")
		b.WriteString(seg)
	}
	return b.String()
}

// Authority returns "host" or "host:port" for use in HTTP requests.
func (d *DID) Authority() string {
	if d.Port > 0 {
		return d.Host + ":" + strconv.Itoa(d.Port)
	}
	return d.Host
}

// DocumentURL returns the URL the DID document is published at. A DID without
// path segments resolves to the well-known location; otherwise the segments
// become the URL path with a trailing did.json.
//
// Loopback hosts resolve over plain HTTP so local agents work without TLS.
func (d *DID) DocumentURL() string {
	scheme := "https"
	if isLoopback(d.Host) {
		scheme = "http"
	}
	if len(d.Segments) == 0 {
		return scheme + "://" + d.Authority() + WellKnownPath
	}
	return scheme + "://" + d.Authority() + "/" + strings.Join(d.Segments, "/") + "/" + documentFilename
}

// isLoopback reports whether host names the local machine. IPv6 literals
// cannot appear in a did:wba authority (colons separate segments), so the
// two spellable loopback hosts are enough.
func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1"
}

// validateSegment checks that a DID segment contains no illegal characters.
func validateSegment(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	if strings.ContainsAny(value, " /\\?#@") {
		return fmt.Errorf("%s %q contains invalid characters", name, value)
	}
	return nil
}
