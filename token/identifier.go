// Package token provides the immutable token model used during trust validation.
//
// Every token (certificate, revocation data, timestamp, evidence record) carries a
// content-derived Identifier. Relations between tokens, such as a certificate's issuer,
// are never held as pointers; they are resolved by identifier lookups so that malformed
// input with issuer cycles cannot cause unbounded recursion.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Common errors
var (
	ErrMissingDigestAlgorithm = errors.New("digest algorithm is required")
	ErrUnsupportedDigest      = errors.New("unsupported digest algorithm")
	ErrEmptyEncoding          = errors.New("token encoding is empty")
	ErrCertificateMismatch    = errors.New("revocation data does not concern the certificate")
	ErrIssuerMismatch         = errors.New("issuer mismatch")
	ErrMissingGenerationTime  = errors.New("timestamp generation time is required")
	ErrNoArchiveTimestamp     = errors.New("evidence record has no archive timestamp")
	ErrHashTreeMismatch       = errors.New("hash tree does not match the message imprint")
)

// Identifier is a content-derived token identity.
type Identifier string

// Identifier prefixes per token kind.
const (
	prefixCertificate    = "C"
	prefixRevocation     = "R"
	prefixTimestamp      = "T"
	prefixEvidenceRecord = "E"
	prefixSignature      = "S"
)

// String returns the identifier as a string.
func (id Identifier) String() string {
	return string(id)
}

// Kind returns the token kind encoded in the identifier prefix.
func (id Identifier) Kind() string {
	switch {
	case strings.HasPrefix(string(id), prefixCertificate+"-"):
		return "certificate"
	case strings.HasPrefix(string(id), prefixRevocation+"-"):
		return "revocation"
	case strings.HasPrefix(string(id), prefixTimestamp+"-"):
		return "timestamp"
	case strings.HasPrefix(string(id), prefixEvidenceRecord+"-"):
		return "evidence-record"
	case strings.HasPrefix(string(id), prefixSignature+"-"):
		return "signature"
	default:
		return "unknown"
	}
}

func newIdentifier(prefix string, parts ...[]byte) Identifier {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return Identifier(prefix + "-" + strings.ToUpper(hex.EncodeToString(h.Sum(nil))))
}

// SignatureIdentifier derives the identifier of a signature from its encoded
// signature value.
func SignatureIdentifier(signatureValue []byte) Identifier {
	return newIdentifier(prefixSignature, signatureValue)
}

// Token is the capability shared by every token kind.
type Token interface {
	// ID returns the content-derived identifier.
	ID() Identifier
	// Encoded returns the binary encoding the identifier is derived from.
	Encoded() []byte
	// Digest computes the digest of the encoding.
	Digest(alg DigestAlgorithm) ([]byte, error)
}
