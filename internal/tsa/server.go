package tsa

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/digitorus/timestamp"
)

var (
	ErrDisabled      = errors.New("seal authority is not enabled")
	ErrNotConfigured = errors.New("seal certificate or private key not configured")
	ErrBadHash       = errors.New("hash must be a hex encoded SHA-256 digest")
)

var oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

// Server signs timestamp tokens over certificate hashes
type Server struct {
	config *Config
	serial atomic.Uint64
	now    func() time.Time
}

func NewServer(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Enabled && (config.Certificate == nil || config.PrivateKey == nil) {
		return nil, ErrNotConfigured
	}
	s := &Server{
		config: config,
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.serial.Store(uint64(time.Now().UnixNano()))
	return s, nil
}

// NewServerWithGeneratedCert creates a server with a self-signed
// timestamping certificate. For development and tests.
func NewServerWithGeneratedCert(orgName string) (*Server, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization:       []string{orgName},
			OrganizationalUnit: []string{"Certificate Seals"},
			CommonName:         orgName + " TSA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(5, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	config := DefaultConfig()
	config.Certificate = cert
	config.PrivateKey = key
	return NewServer(config)
}

// Request encodes an RFC 3161 timestamp request for a hex SHA-256 digest
func Request(hashHex string) ([]byte, error) {
	digest, err := decodeHash(hashHex)
	if err != nil {
		return nil, err
	}
	nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, err
	}
	req := timestamp.Request{
		HashAlgorithm: crypto.SHA256,
		HashedMessage: digest,
		Nonce:         nonce,
	}
	return req.Marshal()
}

// Stamp answers an encoded timestamp request with a signed seal
func (s *Server) Stamp(ctx context.Context, requestDER []byte) (*Seal, error) {
	if !s.config.Enabled {
		return nil, ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, err := timestamp.ParseRequest(requestDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp request: %w", err)
	}
	if req.HashAlgorithm != crypto.SHA256 || len(req.HashedMessage) != sha256.Size {
		return nil, ErrBadHash
	}

	serial := s.serial.Add(1)
	now := s.now().Truncate(time.Second)

	info := tstInfo{
		Version: 1,
		Policy:  s.config.PolicyOID,
		MessageImprint: messageImprint{
			HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: oidSHA256},
			HashedMessage: req.HashedMessage,
		},
		SerialNumber: new(big.Int).SetUint64(serial),
		GenTime:      now,
		Nonce:        req.Nonce,
	}
	token, err := s.sign(info)
	if err != nil {
		return nil, err
	}

	return &Seal{
		SerialNumber: strconv.FormatUint(serial, 10),
		Hash:         hex.EncodeToString(req.HashedMessage),
		IssuedAt:     now,
		Issuer:       s.config.Certificate.Subject.CommonName,
		Token:        token,
	}, nil
}

// SealHash builds a request for hashHex and stamps it
func (s *Server) SealHash(ctx context.Context, hashHex string) (*Seal, error) {
	req, err := Request(hashHex)
	if err != nil {
		return nil, err
	}
	return s.Stamp(ctx, req)
}

func (s *Server) sign(info tstInfo) ([]byte, error) {
	infoDER, err := asn1.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TSTInfo: %w", err)
	}
	digest := sha256.Sum256(infoDER)
	sig, err := s.config.PrivateKey.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to sign seal: %w", err)
	}
	return asn1.Marshal(sealToken{TSTInfo: infoDER, Signature: sig, Certificate: s.config.Certificate.Raw})
}

// Verify checks a seal token's signature against the server certificate
// and that it was issued for hashHex
func (s *Server) Verify(token []byte, hashHex string) VerifyResult {
	digest, err := decodeHash(hashHex)
	if err != nil {
		return VerifyResult{Message: err.Error()}
	}

	var tok sealToken
	if rest, err := asn1.Unmarshal(token, &tok); err != nil || len(rest) > 0 {
		return VerifyResult{Message: "malformed seal token"}
	}
	if err := s.config.Certificate.CheckSignature(x509.SHA256WithRSA, tok.TSTInfo, tok.Signature); err != nil {
		return VerifyResult{Message: "signature does not verify"}
	}

	var info tstInfo
	if _, err := asn1.Unmarshal(tok.TSTInfo, &info); err != nil {
		return VerifyResult{Message: "malformed seal content"}
	}
	if !bytes.Equal(info.MessageImprint.HashedMessage, digest) {
		return VerifyResult{Message: "seal was issued for a different hash"}
	}

	return VerifyResult{
		Valid:        true,
		Message:      "seal verified",
		IssuedAt:     info.GenTime.UTC(),
		SerialNumber: info.SerialNumber.String(),
		Issuer:       s.config.Certificate.Subject.CommonName,
	}
}

// Certificate returns the signing certificate
func (s *Server) Certificate() *x509.Certificate {
	return s.config.Certificate
}

func decodeHash(hashHex string) ([]byte, error) {
	b, err := hex.DecodeString(hashHex)
	if err != nil || len(b) != sha256.Size {
		return nil, ErrBadHash
	}
	return b, nil
}

// Seal is a signed timestamp over a certificate hash
type Seal struct {
	SerialNumber string    `json:"serial_number"`
	Hash         string    `json:"hash"`
	IssuedAt     time.Time `json:"issued_at"`
	Issuer       string    `json:"issuer"`
	Token        []byte    `json:"token"`
}

type VerifyResult struct {
	Valid        bool      `json:"valid"`
	Message      string    `json:"message"`
	IssuedAt     time.Time `json:"issued_at,omitempty"`
	SerialNumber string    `json:"serial_number,omitempty"`
	Issuer       string    `json:"issuer,omitempty"`
}

type tstInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint messageImprint
	SerialNumber   *big.Int
	GenTime        time.Time `asn1:"generalized"`
	Nonce          *big.Int  `asn1:"optional"`
}

type messageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

type sealToken struct {
	TSTInfo     []byte
	Signature   []byte
	Certificate []byte `asn1:"optional"`
}
