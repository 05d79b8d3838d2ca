package wba

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrBadScheme rejects authorization values that do not carry the DIDWba
// scheme.
var ErrBadScheme = errors.New(`authorization scheme must be "DIDWba"`)

// MissingFieldError reports a required header field that is absent. Feeding a
// single-way header to ParseTwoWay yields MissingFieldError{Field: "resp_did"},
// which is how the two modes are told apart at the wire level.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// Payload holds the fields of a parsed DIDWba authorization header. RespDID
// is empty for single-way credentials.
type Payload struct {
	DID                string
	Nonce              string
	Timestamp          string
	RespDID            string
	VerificationMethod string // fragment naming the key within the DID document
	Signature          string // unpadded base64url over the canonical payload
}

// fieldPattern matches one key="value" pair. Values may contain any character
// except an unescaped double quote, commas included, so the header is scanned
// for pairs rather than split on separators.
var fieldPattern = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*)\s*=\s*"((?:[^"\\]|\\.)*)"`)

// FormatSingleWay renders a single-way DIDWba authorization header.
func FormatSingleWay(p *Payload) string {
	return fmt.Sprintf(`%sdid="%s", nonce="%s", timestamp="%s", verification_method="%s", signature="%s"`,
		schemePrefix, p.DID, p.Nonce, p.Timestamp, p.VerificationMethod, p.Signature)
}

// FormatTwoWay renders a two-way DIDWba authorization header. Field order is
// significant: resp_did sits between timestamp and verification_method.
func FormatTwoWay(p *Payload) string {
	return fmt.Sprintf(`%sdid="%s", nonce="%s", timestamp="%s", resp_did="%s", verification_method="%s", signature="%s"`,
		schemePrefix, p.DID, p.Nonce, p.Timestamp, p.RespDID, p.VerificationMethod, p.Signature)
}

// ParseSingleWay parses a single-way DIDWba authorization header. A resp_did
// field, if present, is carried through without being required.
func ParseSingleWay(header string) (*Payload, error) {
	fields, err := parseFields(header)
	if err != nil {
		return nil, err
	}
	return payloadFromFields(fields, false)
}

// ParseTwoWay parses a two-way DIDWba authorization header, additionally
// requiring resp_did.
func ParseTwoWay(header string) (*Payload, error) {
	fields, err := parseFields(header)
	if err != nil {
		return nil, err
	}
	return payloadFromFields(fields, true)
}

// parseFields validates the scheme and scans the remainder for key="value"
// pairs. Surrounding whitespace is tolerated.
func parseFields(header string) (map[string]string, error) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, schemePrefix) {
		return nil, ErrBadScheme
	}

	fields := make(map[string]string)
	for _, m := range fieldPattern.FindAllStringSubmatch(header[len(schemePrefix):], -1) {
		fields[m[1]] = m[2]
	}
	return fields, nil
}

// payloadFromFields checks field presence and assembles a Payload.
func payloadFromFields(fields map[string]string, twoWay bool) (*Payload, error) {
	required := []string{"did", "nonce", "timestamp"}
	if twoWay {
		required = append(required, "resp_did")
	}
	required = append(required, "verification_method", "signature")

	for _, name := range required {
		if fields[name] == "" {
			return nil, &MissingFieldError{Field: name}
		}
	}

	return &Payload{
		DID:                fields["did"],
		Nonce:              fields["nonce"],
		Timestamp:          fields["timestamp"],
		RespDID:            fields["resp_did"],
		VerificationMethod: fields["verification_method"],
		Signature:          fields["signature"],
	}, nil
}
