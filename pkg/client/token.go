package client

import (
	"encoding/json"
	"net/http"
	"strings"
)

// TokenInfo is the verdict on a response's Authorization header.
//
// AuthValue is one of the literals "no auth header", "single-way", "two-way",
// or "json parse failed"; Token is empty whenever no token could be
// extracted.
type TokenInfo struct {
	AuthValue string
	Token     string

	// RespDIDAuthHeader is the responder's counter-signed DIDWba header,
	// present on two-way responses only.
	RespDIDAuthHeader string
}

// tokenEnvelope is the JSON object a responder puts in the Authorization
// header on a two-way exchange. resp_did_auth_header is a pointer because its
// mere presence is what distinguishes two-way from single-way.
type tokenEnvelope struct {
	AccessToken       string  `json:"access_token"`
	TokenType         string  `json:"token_type"`
	ReqDID            string  `json:"req_did"`
	RespDID           string  `json:"resp_did"`
	RespDIDAuthHeader *string `json:"resp_did_auth_header"`
}

// ParseTokenFromResponse extracts the peer-issued token from a response's
// Authorization header. It never fails: every malformed shape maps onto a
// TokenInfo with an explanatory AuthValue and no token.
func ParseTokenFromResponse(h http.Header) *TokenInfo {
	raw := h.Get("Authorization")
	if raw == "" {
		return &TokenInfo{AuthValue: "no auth header"}
	}

	if token, ok := strings.CutPrefix(raw, "Bearer "); ok {
		return &TokenInfo{AuthValue: "single-way", Token: token}
	}

	var env tokenEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return &TokenInfo{AuthValue: "json parse failed"}
	}
	if env.RespDIDAuthHeader != nil {
		return &TokenInfo{
			AuthValue:         "two-way",
			Token:             env.AccessToken,
			RespDIDAuthHeader: *env.RespDIDAuthHeader,
		}
	}
	return &TokenInfo{AuthValue: "single-way", Token: env.AccessToken}
}
