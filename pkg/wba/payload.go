package wba

import (
	"encoding/json"
	"fmt"
)

// canonicalSingleWay is the JSON object a single-way credential signs.
// Field declaration order fixes the canonical byte order.
type canonicalSingleWay struct {
	DID       string `json:"did"`
	Nonce     string `json:"nonce"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

// canonicalTwoWay is the JSON object a two-way credential signs. The service
// binding uses the anp_service key and resp_did precedes it, so single-way
// and two-way signatures can never collide.
type canonicalTwoWay struct {
	DID        string `json:"did"`
	Nonce      string `json:"nonce"`
	Timestamp  string `json:"timestamp"`
	RespDID    string `json:"resp_did"`
	ANPService string `json:"anp_service"`
}

// SigningPayloadSingleWay returns the canonical bytes signed by a single-way
// credential targeting the given service domain.
func SigningPayloadSingleWay(didStr, nonce, timestamp, service string) ([]byte, error) {
	data, err := json.Marshal(canonicalSingleWay{
		DID:       didStr,
		Nonce:     nonce,
		Timestamp: timestamp,
		Service:   service,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal signing payload: %w", err)
	}
	return data, nil
}

// SigningPayloadTwoWay returns the canonical bytes signed by a two-way
// credential targeting the given service domain and responder DID.
func SigningPayloadTwoWay(didStr, nonce, timestamp, respDID, service string) ([]byte, error) {
	data, err := json.Marshal(canonicalTwoWay{
		DID:        didStr,
		Nonce:      nonce,
		Timestamp:  timestamp,
		RespDID:    respDID,
		ANPService: service,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal signing payload: %w", err)
	}
	return data, nil
}
