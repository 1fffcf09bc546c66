package validation

import (
	"github.com/georgepadayatti/trustval/source"
	"github.com/georgepadayatti/trustval/token"
)

// Signature is a signature extracted from a validated object. Decoding the
// container is the caller's job; the context only consumes these facts.
type Signature interface {
	// ID returns the signature identifier.
	ID() token.Identifier
	// SigningCertificate returns the signing certificate, or nil when it could
	// not be identified.
	SigningCertificate() *token.CertificateToken
	// CertificateSource returns the certificates embedded in the signature.
	CertificateSource() source.CertificateSource
	// CRLSource and OCSPSource return the embedded revocation data.
	CRLSource() source.RevocationSource
	OCSPSource() source.RevocationSource
	// Timestamps returns the timestamps attached to the signature.
	Timestamps() []*token.TimestampToken
	// EvidenceRecords returns the evidence records attached to the signature.
	EvidenceRecords() []*token.EvidenceRecordToken
	// TimestampedData returns the bytes the imprint of ts was computed over, or
	// nil when unknown.
	TimestampedData(ts *token.TimestampToken) []byte
}

// SignatureData is a plain Signature implementation.
type SignatureData struct {
	Identifier    token.Identifier
	SigningCert   *token.CertificateToken
	Certificates  source.CertificateSource
	CRLs          source.RevocationSource
	OCSPResponses source.RevocationSource
	Stamps        []*token.TimestampToken
	Records       []*token.EvidenceRecordToken
	// Covered maps timestamp identifiers to their time-stamped data.
	Covered map[token.Identifier][]byte
	// Countersigned is the signature this one countersigns, if any.
	Countersigned token.Identifier
}

// NewSignatureData creates a signature identified by its signature value.
func NewSignatureData(signatureValue []byte, signingCert *token.CertificateToken) *SignatureData {
	return &SignatureData{
		Identifier:  token.SignatureIdentifier(signatureValue),
		SigningCert: signingCert,
		Covered:     make(map[token.Identifier][]byte),
	}
}

// AddTimestamp attaches ts, optionally with the data it covers.
func (s *SignatureData) AddTimestamp(ts *token.TimestampToken, data []byte) {
	s.Stamps = append(s.Stamps, ts)
	if data != nil {
		if s.Covered == nil {
			s.Covered = make(map[token.Identifier][]byte)
		}
		s.Covered[ts.ID()] = data
	}
}

// ID returns the signature identifier.
func (s *SignatureData) ID() token.Identifier { return s.Identifier }

// SigningCertificate returns the certificate that produced the signature.
func (s *SignatureData) SigningCertificate() *token.CertificateToken { return s.SigningCert }

// CertificateSource returns the certificates embedded in the signature.
func (s *SignatureData) CertificateSource() source.CertificateSource { return s.Certificates }

// CRLSource returns the CRLs embedded in the signature.
func (s *SignatureData) CRLSource() source.RevocationSource { return s.CRLs }

// OCSPSource returns the OCSP responses embedded in the signature.
func (s *SignatureData) OCSPSource() source.RevocationSource { return s.OCSPResponses }

// Timestamps returns the timestamps attached to the signature.
func (s *SignatureData) Timestamps() []*token.TimestampToken { return s.Stamps }

// EvidenceRecords returns the evidence records protecting the signature.
func (s *SignatureData) EvidenceRecords() []*token.EvidenceRecordToken { return s.Records }

// CountersignedID returns the signature this one countersigns, if any.
func (s *SignatureData) CountersignedID() token.Identifier { return s.Countersigned }

// TimestampedData returns the bytes covered by ts, or nil when unknown.
func (s *SignatureData) TimestampedData(ts *token.TimestampToken) []byte {
	if ts == nil {
		return nil
	}
	return s.Covered[ts.ID()]
}
