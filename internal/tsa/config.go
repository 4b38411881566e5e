// Package tsa issues RFC 3161 style timestamp seals over the hashes of
// locked certificates.
package tsa

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
)

// Config holds seal authority configuration
type Config struct {
	Enabled bool

	// PolicyOID identifies the policy seals are issued under
	PolicyOID asn1.ObjectIdentifier

	Certificate *x509.Certificate
	PrivateKey  crypto.Signer

	HashAlgorithm crypto.Hash
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		PolicyOID:     asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 7, 1},
		HashAlgorithm: crypto.SHA256,
	}
}
