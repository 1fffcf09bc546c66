package token

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"
)

// Certificate extension and attribute OIDs.
var (
	OIDQcStatements    = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 3}
	OIDQcCompliance    = asn1.ObjectIdentifier{0, 4, 0, 1862, 1, 1}
	OIDQcCCLegislation = asn1.ObjectIdentifier{0, 4, 0, 1862, 1, 7}
	OIDOCSPNoCheck     = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 5}
	OIDTitle           = asn1.ObjectIdentifier{2, 5, 4, 12}
)

// ExtendedKeyUsage is an extended key usage declared by a certificate.
type ExtendedKeyUsage struct {
	// Name is the usage description, e.g. "timeStamping". Empty for unknown usages.
	Name string
	// OID is the dotted usage identifier.
	OID string
}

type ekuInfo struct {
	name string
	oid  asn1.ObjectIdentifier
}

var knownExtKeyUsages = map[x509.ExtKeyUsage]ekuInfo{
	x509.ExtKeyUsageAny:             {"anyExtendedKeyUsage", asn1.ObjectIdentifier{2, 5, 29, 37, 0}},
	x509.ExtKeyUsageServerAuth:      {"serverAuth", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}},
	x509.ExtKeyUsageClientAuth:      {"clientAuth", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}},
	x509.ExtKeyUsageCodeSigning:     {"codeSigning", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 3}},
	x509.ExtKeyUsageEmailProtection: {"emailProtection", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 4}},
	x509.ExtKeyUsageIPSECEndSystem:  {"ipsecEndSystem", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 5}},
	x509.ExtKeyUsageIPSECTunnel:     {"ipsecTunnel", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 6}},
	x509.ExtKeyUsageIPSECUser:       {"ipsecUser", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 7}},
	x509.ExtKeyUsageTimeStamping:    {"timeStamping", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}},
	x509.ExtKeyUsageOCSPSigning:     {"OCSPSigning", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 9}},
}

// OIDs without a crypto/x509 constant that still have a well-known description.
var namedUnknownExtKeyUsages = map[string]string{
	"0.4.0.2231.3.0": "tslSigning",
}

var keyUsageNames = []struct {
	bit  x509.KeyUsage
	name string
}{
	{x509.KeyUsageDigitalSignature, "digitalSignature"},
	{x509.KeyUsageContentCommitment, "nonRepudiation"},
	{x509.KeyUsageKeyEncipherment, "keyEncipherment"},
	{x509.KeyUsageDataEncipherment, "dataEncipherment"},
	{x509.KeyUsageKeyAgreement, "keyAgreement"},
	{x509.KeyUsageCertSign, "keyCertSign"},
	{x509.KeyUsageCRLSign, "crlSign"},
	{x509.KeyUsageEncipherOnly, "encipherOnly"},
	{x509.KeyUsageDecipherOnly, "decipherOnly"},
}

// CertificateToken is an immutable X.509 certificate token.
type CertificateToken struct {
	cert          *x509.Certificate
	id            Identifier
	qcPresent     bool
	qcCompliance  bool
	qcLegislation []string
	title         string
	ocspNoCheck   bool
}

// NewCertificateToken wraps a parsed certificate.
func NewCertificateToken(cert *x509.Certificate) *CertificateToken {
	t := &CertificateToken{
		cert: cert,
		id:   newIdentifier(prefixCertificate, cert.Raw),
	}
	for _, ext := range cert.Extensions {
		switch {
		case ext.Id.Equal(OIDQcStatements):
			t.qcPresent = true
			t.qcCompliance, t.qcLegislation = parseQCStatements(ext.Value)
		case ext.Id.Equal(OIDOCSPNoCheck):
			t.ocspNoCheck = true
		}
	}
	for _, atv := range cert.Subject.Names {
		if atv.Type.Equal(OIDTitle) {
			if s, ok := atv.Value.(string); ok {
				t.title = s
				break
			}
		}
	}
	return t
}

// ParseCertificateToken parses a DER encoded certificate.
func ParseCertificateToken(der []byte) (*CertificateToken, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return NewCertificateToken(cert), nil
}

// NewCertificateTokens wraps a list of parsed certificates.
func NewCertificateTokens(certs []*x509.Certificate) []*CertificateToken {
	tokens := make([]*CertificateToken, 0, len(certs))
	for _, cert := range certs {
		tokens = append(tokens, NewCertificateToken(cert))
	}
	return tokens
}

type qcStatement struct {
	ID   asn1.ObjectIdentifier
	Info asn1.RawValue `asn1:"optional"`
}

func parseQCStatements(data []byte) (compliance bool, legislation []string) {
	var statements []qcStatement
	if _, err := asn1.Unmarshal(data, &statements); err != nil {
		return false, nil
	}
	for _, st := range statements {
		switch {
		case st.ID.Equal(OIDQcCompliance):
			compliance = true
		case st.ID.Equal(OIDQcCCLegislation):
			var countries []string
			if _, err := asn1.Unmarshal(st.Info.FullBytes, &countries); err == nil {
				legislation = append(legislation, countries...)
			}
		}
	}
	return compliance, legislation
}

// ID returns the certificate identifier.
func (t *CertificateToken) ID() Identifier { return t.id }

// Encoded returns the DER encoding.
func (t *CertificateToken) Encoded() []byte { return t.cert.Raw }

// Digest computes the digest of the DER encoding.
func (t *CertificateToken) Digest(alg DigestAlgorithm) ([]byte, error) {
	return digestOf(t.cert.Raw, alg)
}

// Certificate returns the underlying certificate.
func (t *CertificateToken) Certificate() *x509.Certificate { return t.cert }

// Subject returns the subject name.
func (t *CertificateToken) Subject() pkix.Name { return t.cert.Subject }

// Issuer returns the issuer name.
func (t *CertificateToken) Issuer() pkix.Name { return t.cert.Issuer }

// SerialNumber returns the serial number.
func (t *CertificateToken) SerialNumber() *big.Int { return t.cert.SerialNumber }

// PublicKey returns the subject public key.
func (t *CertificateToken) PublicKey() crypto.PublicKey { return t.cert.PublicKey }

// SubjectKeyIdentifier returns the SKI extension value, if any.
func (t *CertificateToken) SubjectKeyIdentifier() []byte { return t.cert.SubjectKeyId }

// AuthorityKeyIdentifier returns the AKI extension value, if any.
func (t *CertificateToken) AuthorityKeyIdentifier() []byte { return t.cert.AuthorityKeyId }

// NotBefore returns the start of the validity window.
func (t *CertificateToken) NotBefore() time.Time { return t.cert.NotBefore }

// NotAfter returns the end of the validity window.
func (t *CertificateToken) NotAfter() time.Time { return t.cert.NotAfter }

// IsValidAt reports whether at falls inside the validity window.
func (t *CertificateToken) IsValidAt(at time.Time) bool {
	return !at.Before(t.cert.NotBefore) && !at.After(t.cert.NotAfter)
}

// IsCA reports whether the certificate is a CA certificate.
func (t *CertificateToken) IsCA() bool {
	return t.cert.BasicConstraintsValid && t.cert.IsCA
}

// IsSelfIssued reports whether subject and issuer names are equal.
func (t *CertificateToken) IsSelfIssued() bool {
	return bytes.Equal(t.cert.RawSubject, t.cert.RawIssuer) || NamesEqual(t.cert.Subject, t.cert.Issuer)
}

// IsSelfSigned reports whether the certificate is self-issued and verifies with its own key.
func (t *CertificateToken) IsSelfSigned() bool {
	if !t.IsSelfIssued() {
		return false
	}
	return X509Verifier{}.Verify(t.cert.RawTBSCertificate, t.cert.Signature, t.cert.PublicKey, t.cert.SignatureAlgorithm)
}

// IsPotentialIssuer reports whether candidate could have issued this certificate,
// comparing key identifiers when both are present and names otherwise.
func (t *CertificateToken) IsPotentialIssuer(candidate *CertificateToken) bool {
	if candidate == nil {
		return false
	}
	if len(t.cert.AuthorityKeyId) > 0 && len(candidate.cert.SubjectKeyId) > 0 {
		return bytes.Equal(t.cert.AuthorityKeyId, candidate.cert.SubjectKeyId)
	}
	return NamesEqual(t.cert.Issuer, candidate.cert.Subject)
}

// IsSignedBy reports whether the certificate signature verifies with the issuer's public key.
func (t *CertificateToken) IsSignedBy(issuer *CertificateToken, v SignatureVerifier) bool {
	if issuer == nil {
		return false
	}
	if v == nil {
		v = X509Verifier{}
	}
	if !NamesEqual(t.cert.Issuer, issuer.cert.Subject) {
		return false
	}
	return v.Verify(t.cert.RawTBSCertificate, t.cert.Signature, issuer.cert.PublicKey, t.cert.SignatureAlgorithm)
}

// HasOCSPNoCheck reports whether the id-pkix-ocsp-nocheck extension is present.
func (t *CertificateToken) HasOCSPNoCheck() bool { return t.ocspNoCheck }

// KeyUsages returns the names of the asserted key usage bits.
func (t *CertificateToken) KeyUsages() []string {
	var names []string
	for _, ku := range keyUsageNames {
		if t.cert.KeyUsage&ku.bit != 0 {
			names = append(names, ku.name)
		}
	}
	return names
}

// ExtendedKeyUsages returns the declared extended key usages.
func (t *CertificateToken) ExtendedKeyUsages() []ExtendedKeyUsage {
	usages := make([]ExtendedKeyUsage, 0, len(t.cert.ExtKeyUsage)+len(t.cert.UnknownExtKeyUsage))
	for _, eku := range t.cert.ExtKeyUsage {
		if info, ok := knownExtKeyUsages[eku]; ok {
			usages = append(usages, ExtendedKeyUsage{Name: info.name, OID: info.oid.String()})
		}
	}
	for _, oid := range t.cert.UnknownExtKeyUsage {
		usages = append(usages, ExtendedKeyUsage{Name: namedUnknownExtKeyUsages[oid.String()], OID: oid.String()})
	}
	return usages
}

// QCStatementsPresent reports whether the qcStatements extension is present.
func (t *CertificateToken) QCStatementsPresent() bool { return t.qcPresent }

// QCCompliance reports whether the QcCompliance statement is declared.
func (t *CertificateToken) QCCompliance() bool { return t.qcCompliance }

// QCLegislation returns the QcCClegislation country codes, if any.
func (t *CertificateToken) QCLegislation() []string {
	return append([]string(nil), t.qcLegislation...)
}

// Title returns the subject title attribute, if any.
func (t *CertificateToken) Title() string { return t.title }

// OCSPServers returns the OCSP responder URLs from the AIA extension.
func (t *CertificateToken) OCSPServers() []string { return t.cert.OCSPServer }

// CRLDistributionPoints returns the CRL distribution point URLs.
func (t *CertificateToken) CRLDistributionPoints() []string { return t.cert.CRLDistributionPoints }

// IssuingCertificateURLs returns the CA issuers URLs from the AIA extension.
func (t *CertificateToken) IssuingCertificateURLs() []string { return t.cert.IssuingCertificateURL }

// String returns a short description of the certificate.
func (t *CertificateToken) String() string {
	return fmt.Sprintf("%s (%s)", t.cert.Subject.CommonName, t.id)
}
