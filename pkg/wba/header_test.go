package wba_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/agentmesh/didwba-go/pkg/wba"
)

func TestFormatParse_singleWay(t *testing.T) {
	in := &wba.Payload{
		DID:                "did:wba:example.com:user:alice",
		Nonce:              "abc123",
		Timestamp:          "2026-08-25T10:00:00Z",
		VerificationMethod: "key-1",
		Signature:          "c2ln",
	}

	header := wba.FormatSingleWay(in)
	if !strings.HasPrefix(header, "DIDWba ") {
		t.Fatalf("header missing scheme prefix: %q", header)
	}
	if strings.Contains(header, "resp_did") {
		t.Fatalf("single-way header must not carry resp_did: %q", header)
	}

	out, err := wba.ParseSingleWay(header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *out != *in {
		t.Errorf("round trip: got %+v, want %+v", out, in)
	}
}

func TestFormatParse_twoWay(t *testing.T) {
	in := &wba.Payload{
		DID:                "did:wba:example.com:user:alice",
		Nonce:              "abc123",
		Timestamp:          "2026-08-25T10:00:00Z",
		RespDID:            "did:wba:service.example.com",
		VerificationMethod: "key-1",
		Signature:          "c2ln",
	}

	header := wba.FormatTwoWay(in)

	// resp_did must sit between timestamp and verification_method.
	tsIdx := strings.Index(header, "timestamp=")
	respIdx := strings.Index(header, "resp_did=")
	vmIdx := strings.Index(header, "verification_method=")
	if !(tsIdx < respIdx && respIdx < vmIdx) {
		t.Errorf("field order wrong: %q", header)
	}

	out, err := wba.ParseTwoWay(header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *out != *in {
		t.Errorf("round trip: got %+v, want %+v", out, in)
	}
}

func TestParseTwoWay_rejectsSingleWayHeader(t *testing.T) {
	header := wba.FormatSingleWay(&wba.Payload{
		DID:                "did:wba:example.com",
		Nonce:              "n",
		Timestamp:          "2026-08-25T10:00:00Z",
		VerificationMethod: "key-1",
		Signature:          "s",
	})

	_, err := wba.ParseTwoWay(header)
	var missing *wba.MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFieldError, got %v", err)
	}
	if missing.Field != "resp_did" {
		t.Errorf("Field: got %q, want %q", missing.Field, "resp_did")
	}

	// The same header is a perfectly good single-way credential.
	if _, err := wba.ParseSingleWay(header); err != nil {
		t.Errorf("ParseSingleWay on the same header: unexpected error: %v", err)
	}
}

func TestParseSingleWay_carriesRespDIDThrough(t *testing.T) {
	header := wba.FormatTwoWay(&wba.Payload{
		DID:                "did:wba:example.com",
		Nonce:              "n",
		Timestamp:          "2026-08-25T10:00:00Z",
		RespDID:            "did:wba:other.example.com",
		VerificationMethod: "key-1",
		Signature:          "s",
	})

	p, err := wba.ParseSingleWay(header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.RespDID != "did:wba:other.example.com" {
		t.Errorf("RespDID: got %q", p.RespDID)
	}
}

func TestParse_grammar(t *testing.T) {
	cases := []struct {
		name   string
		header string
	}{
		{
			"surrounding whitespace",
			`  DIDWba did="did:wba:example.com", nonce="n", timestamp="t", verification_method="k", signature="s"  `,
		},
		{
			"no space after commas",
			`DIDWba did="did:wba:example.com",nonce="n",timestamp="t",verification_method="k",signature="s"`,
		},
		{
			"comma inside a value",
			`DIDWba did="did:wba:example.com", nonce="n,with,commas", timestamp="t", verification_method="k", signature="s"`,
		},
		{
			"space around equals",
			`DIDWba did = "did:wba:example.com", nonce="n", timestamp="t", verification_method="k", signature="s"`,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			p, err := wba.ParseSingleWay(tc.header)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.DID != "did:wba:example.com" {
				t.Errorf("DID: got %q", p.DID)
			}
		})
	}
}

func TestParse_badInput(t *testing.T) {
	cases := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"wrong scheme", `Bearer abc`},
		{"scheme without space", `DIDWbadid="x"`},
		{"missing signature", `DIDWba did="d", nonce="n", timestamp="t", verification_method="k"`},
		{"missing nonce", `DIDWba did="d", timestamp="t", verification_method="k", signature="s"`},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if _, err := wba.ParseSingleWay(tc.header); err == nil {
				t.Error("expected error but got nil")
			}
		})
	}
}

func TestParse_badScheme(t *testing.T) {
	_, err := wba.ParseSingleWay(`Bearer token`)
	if !errors.Is(err, wba.ErrBadScheme) {
		t.Errorf("expected ErrBadScheme, got %v", err)
	}
}
