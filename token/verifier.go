package token

import (
	"crypto"
	"crypto/x509"
)

// SignatureVerifier verifies raw signature bytes. Token validity checks delegate
// cryptographic verification to it.
type SignatureVerifier interface {
	Verify(tbs, signature []byte, publicKey crypto.PublicKey, algorithm x509.SignatureAlgorithm) bool
}

// X509Verifier verifies signatures with the algorithms supported by crypto/x509.
type X509Verifier struct{}

// Verify reports whether signature is a valid signature of tbs by publicKey.
func (X509Verifier) Verify(tbs, signature []byte, publicKey crypto.PublicKey, algorithm x509.SignatureAlgorithm) bool {
	if publicKey == nil || len(signature) == 0 {
		return false
	}
	holder := &x509.Certificate{PublicKey: publicKey}
	return holder.CheckSignature(algorithm, tbs, signature) == nil
}

// VerifierFunc adapts a function to SignatureVerifier.
type VerifierFunc func(tbs, signature []byte, publicKey crypto.PublicKey, algorithm x509.SignatureAlgorithm) bool

// Verify calls f.
func (f VerifierFunc) Verify(tbs, signature []byte, publicKey crypto.PublicKey, algorithm x509.SignatureAlgorithm) bool {
	return f(tbs, signature, publicKey, algorithm)
}
