// Package csr generates the key pair and certificate signing request the
// agent submits to the desktop tool during provisioning.
package csr

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"os"
)

// Generator produces a private key and a certificate signing request for an
// application identity, writing both as PEM files.
type Generator interface {
	// Generate writes a CSR to csrPath and the matching private key to
	// keyPath. It fails loudly if key material cannot be produced.
	Generate(appID, csrPath, keyPath string) error
}

// ECDSAGenerator generates ECDSA P-256 keys and PKCS#10 CSRs.
type ECDSAGenerator struct{}

// NewGenerator returns the default CSR generator.
func NewGenerator() *ECDSAGenerator {
	return &ECDSAGenerator{}
}

// Generate creates a P-256 key pair and a CSR with the app ID as subject
// common name. The key file is written with mode 0600.
func (g *ECDSAGenerator) Generate(appID, csrPath, keyPath string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	template := x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: appID},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &template, key)
	if err != nil {
		return fmt.Errorf("create certificate request: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	csrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER})
	if err := os.WriteFile(csrPath, csrPEM, 0644); err != nil {
		return fmt.Errorf("write CSR: %w", err)
	}

	return nil
}

// Compile-time interface satisfaction check.
var _ Generator = (*ECDSAGenerator)(nil)
