package token

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// TimestampType describes what a timestamp covers.
type TimestampType int

const (
	// ContentTimestamp covers the signed content, not the signature.
	ContentTimestamp TimestampType = iota
	// SignatureTimestamp covers the signature value.
	SignatureTimestamp
	// ValidationDataTimestamp covers the signature and its validation data.
	ValidationDataTimestamp
	// ArchiveTimestampType covers the signature with all validation material.
	ArchiveTimestampType
	// DocumentTimestamp covers a whole document revision.
	DocumentTimestamp
	// EvidenceRecordTimestamp is an archive timestamp inside an evidence record.
	EvidenceRecordTimestamp
)

// String returns the string representation of a timestamp type.
func (t TimestampType) String() string {
	switch t {
	case ContentTimestamp:
		return "content"
	case SignatureTimestamp:
		return "signature"
	case ValidationDataTimestamp:
		return "validation-data"
	case ArchiveTimestampType:
		return "archive"
	case DocumentTimestamp:
		return "document"
	case EvidenceRecordTimestamp:
		return "evidence-record"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// CoversSignature reports whether a timestamp of this type proves the existence
// of the signature it is attached to.
func (t TimestampType) CoversSignature() bool {
	return t != ContentTimestamp
}

// MessageImprint is the digest a timestamp was issued over.
type MessageImprint struct {
	Algorithm DigestAlgorithm
	Value     []byte
}

// SignerIdentifier references the certificate of the timestamp signer.
type SignerIdentifier struct {
	SubjectKeyID []byte
	IssuerName   pkix.Name
	SerialNumber *big.Int
}

// Matches reports whether cert is the referenced certificate.
func (s SignerIdentifier) Matches(cert *CertificateToken) bool {
	if cert == nil {
		return false
	}
	if len(s.SubjectKeyID) > 0 {
		return bytes.Equal(s.SubjectKeyID, cert.SubjectKeyIdentifier())
	}
	if s.SerialNumber == nil {
		return false
	}
	return s.SerialNumber.Cmp(cert.SerialNumber()) == 0 && NamesEqual(s.IssuerName, cert.Issuer())
}

// TimestampParams carries the decoded content of a timestamp token. Decoding the
// container format is the caller's job.
type TimestampParams struct {
	Type           TimestampType
	GenerationTime time.Time
	MessageImprint MessageImprint
	Signer         SignerIdentifier
	// Certificates embedded in the timestamp token.
	Certificates []*x509.Certificate
	// CRLs and OCSPResponses embedded in the timestamp token, DER encoded.
	CRLs          [][]byte
	OCSPResponses [][]byte
	// SignedContent is the byte string covered by SignatureValue.
	SignedContent      []byte
	SignatureValue     []byte
	SignatureAlgorithm x509.SignatureAlgorithm
	// Covers lists tokens the timestamp proves the existence of.
	Covers []Identifier
	// CoveredData is the data the message imprint was computed over, when known.
	CoveredData []byte
	// Encoded is the full token encoding. When empty, the signed content and
	// signature value are used as the encoding.
	Encoded []byte
}

// TimestampToken is an immutable time-stamp token.
type TimestampToken struct {
	p     TimestampParams
	id    Identifier
	certs []*CertificateToken
}

// NewTimestampToken validates params and builds a timestamp token.
func NewTimestampToken(p TimestampParams) (*TimestampToken, error) {
	if p.MessageImprint.Algorithm == "" {
		return nil, ErrMissingDigestAlgorithm
	}
	if _, err := p.MessageImprint.Algorithm.New(); err != nil {
		return nil, err
	}
	if p.GenerationTime.IsZero() {
		return nil, ErrMissingGenerationTime
	}
	if len(p.Encoded) == 0 {
		p.Encoded = append(append([]byte(nil), p.SignedContent...), p.SignatureValue...)
	}
	if len(p.Encoded) == 0 {
		return nil, ErrEmptyEncoding
	}
	p.Covers = append([]Identifier(nil), p.Covers...)
	return &TimestampToken{
		p:     p,
		id:    newIdentifier(prefixTimestamp, p.Encoded),
		certs: NewCertificateTokens(p.Certificates),
	}, nil
}

// ID returns the timestamp identifier.
func (t *TimestampToken) ID() Identifier { return t.id }

// Encoded returns the token encoding.
func (t *TimestampToken) Encoded() []byte { return t.p.Encoded }

// Digest computes the digest of the token encoding.
func (t *TimestampToken) Digest(alg DigestAlgorithm) ([]byte, error) {
	return digestOf(t.p.Encoded, alg)
}

// Type returns the timestamp type.
func (t *TimestampToken) Type() TimestampType { return t.p.Type }

// GenerationTime returns the time asserted by the TSA.
func (t *TimestampToken) GenerationTime() time.Time { return t.p.GenerationTime }

// MessageImprint returns the time-stamped digest.
func (t *TimestampToken) MessageImprint() MessageImprint { return t.p.MessageImprint }

// Signer returns the signer certificate reference.
func (t *TimestampToken) Signer() SignerIdentifier { return t.p.Signer }

// Certificates returns the embedded certificates.
func (t *TimestampToken) Certificates() []*CertificateToken { return t.certs }

// CRLs returns the embedded CRLs.
func (t *TimestampToken) CRLs() [][]byte { return t.p.CRLs }

// OCSPResponses returns the embedded OCSP responses.
func (t *TimestampToken) OCSPResponses() [][]byte { return t.p.OCSPResponses }

// Covers returns the tokens explicitly covered by the timestamp.
func (t *TimestampToken) Covers() []Identifier { return t.p.Covers }

// CoveredData returns the time-stamped data carried with the token, if any.
func (t *TimestampToken) CoveredData() []byte { return t.p.CoveredData }

// SignedContent returns the byte string covered by the signature value.
func (t *TimestampToken) SignedContent() []byte { return t.p.SignedContent }

// SignatureValue returns the TSA signature.
func (t *TimestampToken) SignatureValue() []byte { return t.p.SignatureValue }

// SignatureAlgorithm returns the TSA signature algorithm.
func (t *TimestampToken) SignatureAlgorithm() x509.SignatureAlgorithm { return t.p.SignatureAlgorithm }

// MatchesData reports whether the message imprint is the digest of data.
func (t *TimestampToken) MatchesData(data []byte) bool {
	if data == nil {
		return false
	}
	return t.MatchesDigest(data, true)
}

// MatchesDigest compares the message imprint with value. When hashValue is true,
// value is digested with the imprint algorithm first.
func (t *TimestampToken) MatchesDigest(value []byte, hashValue bool) bool {
	expected := value
	if hashValue {
		sum, err := t.p.MessageImprint.Algorithm.Sum(value)
		if err != nil {
			return false
		}
		expected = sum
	}
	return len(expected) > 0 && bytes.Equal(expected, t.p.MessageImprint.Value)
}

// IsSignedBy reports whether the TSA signature verifies with signer's key.
func (t *TimestampToken) IsSignedBy(signer *CertificateToken, v SignatureVerifier) bool {
	if signer == nil {
		return false
	}
	if v == nil {
		v = X509Verifier{}
	}
	return v.Verify(t.p.SignedContent, t.p.SignatureValue, signer.PublicKey(), t.p.SignatureAlgorithm)
}

// String returns a short description of the token.
func (t *TimestampToken) String() string {
	return fmt.Sprintf("%s timestamp at %s (%s)", t.p.Type, t.p.GenerationTime.UTC().Format(time.RFC3339), t.id)
}
