// Package token encodes minimal document payloads into URL-safe transport
// tokens and back. Decoding never fails loudly: a malformed or incomplete
// token decodes to an absent payload.
package token

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Encode serializes a payload to JSON and then to unpadded base64url
func Encode(payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// validator is implemented by payloads that can reject missing fields
type validator interface {
	valid() bool
}

// decode reverses Encode into v and reports whether v is a complete payload
func decode(token string, v validator) bool {
	token = strings.TrimRight(strings.TrimSpace(token), "=")
	if token == "" {
		return false
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false
	}
	return v.valid()
}

// DecodeQuote decodes a quote resume token
func DecodeQuote(token string) (*QuotePayload, bool) {
	var p QuotePayload
	if !decode(token, &p) {
		return nil, false
	}
	return &p, true
}

// DecodeAgreement decodes an agreement token
func DecodeAgreement(token string) (*AgreementPayload, bool) {
	var p AgreementPayload
	if !decode(token, &p) {
		return nil, false
	}
	return &p, true
}

// DecodeCertificate decodes a certificate token
func DecodeCertificate(token string) (*CertificatePayload, bool) {
	var p CertificatePayload
	if !decode(token, &p) {
		return nil, false
	}
	return &p, true
}
