package token

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ocsp"
)

// RevocationKind distinguishes CRL and OCSP revocation data.
type RevocationKind int

const (
	RevocationCRL RevocationKind = iota
	RevocationOCSP
)

// String returns the string representation of a revocation kind.
func (k RevocationKind) String() string {
	switch k {
	case RevocationCRL:
		return "CRL"
	case RevocationOCSP:
		return "OCSP"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// RevocationStatus represents the revocation status of a certificate.
type RevocationStatus int

const (
	StatusUnknown RevocationStatus = iota
	StatusGood
	StatusRevoked
)

// String returns the string representation of a revocation status.
func (s RevocationStatus) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// RevocationReason represents the reason for certificate revocation.
type RevocationReason int

const (
	ReasonUnspecified          RevocationReason = 0
	ReasonKeyCompromise        RevocationReason = 1
	ReasonCACompromise         RevocationReason = 2
	ReasonAffiliationChanged   RevocationReason = 3
	ReasonSuperseded           RevocationReason = 4
	ReasonCessationOfOperation RevocationReason = 5
	ReasonCertificateHold      RevocationReason = 6
	ReasonRemoveFromCRL        RevocationReason = 8
	ReasonPrivilegeWithdrawn   RevocationReason = 9
	ReasonAACompromise         RevocationReason = 10
)

// String returns the string representation of a revocation reason.
func (r RevocationReason) String() string {
	switch r {
	case ReasonUnspecified:
		return "unspecified"
	case ReasonKeyCompromise:
		return "keyCompromise"
	case ReasonCACompromise:
		return "cACompromise"
	case ReasonAffiliationChanged:
		return "affiliationChanged"
	case ReasonSuperseded:
		return "superseded"
	case ReasonCessationOfOperation:
		return "cessationOfOperation"
	case ReasonCertificateHold:
		return "certificateHold"
	case ReasonRemoveFromCRL:
		return "removeFromCRL"
	case ReasonPrivilegeWithdrawn:
		return "privilegeWithdrawn"
	case ReasonAACompromise:
		return "aACompromise"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// Origin tells where a revocation token was obtained.
type Origin int

const (
	// OriginDocument is revocation data embedded in the validated object.
	OriginDocument Origin = iota
	// OriginExternal is revocation data fetched from an external provider.
	OriginExternal
)

// String returns the string representation of an origin.
func (o Origin) String() string {
	if o == OriginExternal {
		return "external"
	}
	return "document"
}

// RevocationToken is revocation status information about one certificate,
// taken from a CRL or an OCSP response.
type RevocationToken struct {
	id             Identifier
	kind           RevocationKind
	raw            []byte
	certificateID  Identifier
	status         RevocationStatus
	revocationTime time.Time
	reason         RevocationReason
	thisUpdate     time.Time
	nextUpdate     time.Time
	producedAt     time.Time
	issuerName     pkix.Name
	responderCerts []*CertificateToken
	origin         Origin
	sourceURL      string

	crl  *x509.RevocationList
	resp *ocsp.Response
}

// RevocationOption customises a revocation token at construction.
type RevocationOption func(*RevocationToken)

// WithSourceURL records the URL the revocation data was fetched from.
func WithSourceURL(url string) RevocationOption {
	return func(t *RevocationToken) { t.sourceURL = url }
}

// NewCRLToken builds the revocation token of cert from a DER encoded CRL.
func NewCRLToken(raw []byte, cert *CertificateToken, origin Origin, opts ...RevocationOption) (*RevocationToken, error) {
	if cert == nil {
		return nil, errors.New("certificate is required")
	}
	crl, err := x509.ParseRevocationList(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL: %w", err)
	}
	if !NamesEqual(crl.Issuer, cert.Issuer()) {
		return nil, fmt.Errorf("%w: CRL issued by %s", ErrIssuerMismatch, crl.Issuer)
	}

	t := &RevocationToken{
		id:            newIdentifier(prefixRevocation, raw, []byte(cert.ID())),
		kind:          RevocationCRL,
		raw:           raw,
		certificateID: cert.ID(),
		status:        StatusGood,
		thisUpdate:    crl.ThisUpdate,
		nextUpdate:    crl.NextUpdate,
		producedAt:    crl.ThisUpdate,
		issuerName:    crl.Issuer,
		origin:        origin,
		crl:           crl,
	}
	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(cert.SerialNumber()) == 0 {
			t.status = StatusRevoked
			t.revocationTime = entry.RevocationTime
			t.reason = RevocationReason(entry.ReasonCode)
			break
		}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// NewOCSPToken builds the revocation token of cert from a DER encoded OCSP response.
// The response signature is not checked here; see IsSignedBy.
func NewOCSPToken(raw []byte, cert *CertificateToken, origin Origin, opts ...RevocationOption) (*RevocationToken, error) {
	if cert == nil {
		return nil, errors.New("certificate is required")
	}
	resp, err := ocsp.ParseResponse(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OCSP response: %w", err)
	}
	if resp.SerialNumber == nil || resp.SerialNumber.Cmp(cert.SerialNumber()) != 0 {
		return nil, ErrCertificateMismatch
	}

	t := &RevocationToken{
		id:            newIdentifier(prefixRevocation, raw, []byte(cert.ID())),
		kind:          RevocationOCSP,
		raw:           raw,
		certificateID: cert.ID(),
		thisUpdate:    resp.ThisUpdate,
		nextUpdate:    resp.NextUpdate,
		producedAt:    resp.ProducedAt,
		issuerName:    cert.Issuer(),
		origin:        origin,
		resp:          resp,
	}
	switch resp.Status {
	case ocsp.Good:
		t.status = StatusGood
	case ocsp.Revoked:
		t.status = StatusRevoked
		t.revocationTime = resp.RevokedAt
		t.reason = RevocationReason(resp.RevocationReason)
	default:
		t.status = StatusUnknown
	}
	if resp.Certificate != nil {
		responder := NewCertificateToken(resp.Certificate)
		t.responderCerts = []*CertificateToken{responder}
		t.issuerName = responder.Subject()
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// ID returns the revocation identifier.
func (t *RevocationToken) ID() Identifier { return t.id }

// Encoded returns the raw CRL or OCSP response.
func (t *RevocationToken) Encoded() []byte { return t.raw }

// Digest computes the digest of the raw encoding.
func (t *RevocationToken) Digest(alg DigestAlgorithm) ([]byte, error) {
	return digestOf(t.raw, alg)
}

// Kind returns CRL or OCSP.
func (t *RevocationToken) Kind() RevocationKind { return t.kind }

// CertificateID returns the identifier of the certificate the token is about.
func (t *RevocationToken) CertificateID() Identifier { return t.certificateID }

// Status returns the revocation status.
func (t *RevocationToken) Status() RevocationStatus { return t.status }

// IsRevoked reports whether the certificate is declared revoked.
func (t *RevocationToken) IsRevoked() bool { return t.status == StatusRevoked }

// RevocationTime returns the revocation time of a revoked certificate.
func (t *RevocationToken) RevocationTime() time.Time { return t.revocationTime }

// Reason returns the revocation reason of a revoked certificate.
func (t *RevocationToken) Reason() RevocationReason { return t.reason }

// ThisUpdate returns the thisUpdate time.
func (t *RevocationToken) ThisUpdate() time.Time { return t.thisUpdate }

// NextUpdate returns the nextUpdate time, zero when absent.
func (t *RevocationToken) NextUpdate() time.Time { return t.nextUpdate }

// ProducedAt returns the production time: OCSP producedAt, or CRL thisUpdate.
func (t *RevocationToken) ProducedAt() time.Time { return t.producedAt }

// IssuerName returns the name of the entity that signed the revocation data.
func (t *RevocationToken) IssuerName() pkix.Name { return t.issuerName }

// ResponderCertificates returns certificates embedded in an OCSP response.
func (t *RevocationToken) ResponderCertificates() []*CertificateToken { return t.responderCerts }

// Origin returns where the token was obtained.
func (t *RevocationToken) Origin() Origin { return t.origin }

// SourceURL returns the URL the token was fetched from, if any.
func (t *RevocationToken) SourceURL() string { return t.sourceURL }

// IsValidAt reports whether at lies between thisUpdate and nextUpdate.
func (t *RevocationToken) IsValidAt(at time.Time) bool {
	if at.Before(t.thisUpdate) {
		return false
	}
	if !t.nextUpdate.IsZero() && at.After(t.nextUpdate) {
		return false
	}
	return true
}

// IsSignedBy reports whether the revocation data was signed by signer.
func (t *RevocationToken) IsSignedBy(signer *CertificateToken) bool {
	if signer == nil {
		return false
	}
	switch t.kind {
	case RevocationCRL:
		return t.crl.CheckSignatureFrom(signer.Certificate()) == nil
	case RevocationOCSP:
		return t.resp.CheckSignatureFrom(signer.Certificate()) == nil
	default:
		return false
	}
}

// String returns a short description of the token.
func (t *RevocationToken) String() string {
	return fmt.Sprintf("%s %s (%s)", t.kind, t.status, t.id)
}
