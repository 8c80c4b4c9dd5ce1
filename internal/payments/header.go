package payments

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// PaymentPayload is the subset of an x402 payment header this package reads.
type PaymentPayload struct {
	X402Version int    `json:"x402Version,omitempty"`
	Scheme      string `json:"scheme,omitempty"`
	Network     string `json:"network,omitempty"`
	Payload     struct {
		Signature     string        `json:"signature,omitempty"`
		Authorization Authorization `json:"authorization"`
	} `json:"payload"`
}

// Authorization carries the EIP-3009 transfer authorization fields.
type Authorization struct {
	From  string `json:"from,omitempty"`
	To    any    `json:"to"`
	Value string `json:"value,omitempty"`
}

// ExtractPayTo decodes a payment header (raw JSON or base64 encoded JSON) and
// returns payload.authorization.to. The second return is false when the header
// cannot be decoded or carries no non-empty destination.
func ExtractPayTo(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	payload, ok := decodePaymentHeader(header)
	if !ok {
		return "", false
	}

	to, ok := payload.Payload.Authorization.To.(string)
	if !ok || to == "" {
		return "", false
	}
	return to, true
}

func decodePaymentHeader(header string) (*PaymentPayload, bool) {
	var payload PaymentPayload
	if err := json.Unmarshal([]byte(header), &payload); err == nil {
		return &payload, true
	}

	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		decoded, err := enc.DecodeString(header)
		if err != nil {
			continue
		}
		var payload PaymentPayload
		if err := json.Unmarshal(decoded, &payload); err == nil {
			return &payload, true
		}
	}
	return nil, false
}
