// Package testpki builds throwaway PKI material (certificates, CRLs, OCSP
// responses, timestamps) for tests.
package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/trustval/token"
)

// Entity is a certificate with its private key.
type Entity struct {
	Cert  *x509.Certificate
	Key   *ecdsa.PrivateKey
	Token *token.CertificateToken
}

// Options configures a generated certificate.
type Options struct {
	CommonName      string
	IsCA            bool
	NotBefore       time.Time
	NotAfter        time.Time
	KeyUsage        x509.KeyUsage
	ExtKeyUsage     []x509.ExtKeyUsage
	ExtraExtensions []pkix.Extension
	ExtraNames      []pkix.AttributeTypeAndValue
	OCSPServer      []string
	CRLDP           []string
	IssuingURL      []string
}

// New creates a certificate issued by parent, or a self-signed one when parent is nil.
func New(t testing.TB, parent *Entity, opts Options) *Entity {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return NewWithKey(t, parent, key, opts)
}

// NewWithKey creates a certificate for key issued by parent.
func NewWithKey(t testing.TB, parent *Entity, key *ecdsa.PrivateKey, opts Options) *Entity {
	t.Helper()

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatalf("Failed to generate serial: %v", err)
	}
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-24 * time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = time.Now().Add(365 * 24 * time.Hour)
	}
	if opts.KeyUsage == 0 {
		opts.KeyUsage = x509.KeyUsageDigitalSignature
		if opts.IsCA {
			opts.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
		}
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   opts.CommonName,
			ExtraNames:   opts.ExtraNames,
		},
		NotBefore:             opts.NotBefore,
		NotAfter:              opts.NotAfter,
		KeyUsage:              opts.KeyUsage,
		ExtKeyUsage:           opts.ExtKeyUsage,
		ExtraExtensions:       opts.ExtraExtensions,
		BasicConstraintsValid: true,
		IsCA:                  opts.IsCA,
		SubjectKeyId:          keyID(t, &key.PublicKey),
		OCSPServer:            opts.OCSPServer,
		CRLDistributionPoints: opts.CRLDP,
		IssuingCertificateURL: opts.IssuingURL,
	}

	signerCert := template
	var signerKey crypto.Signer = key
	if parent != nil {
		signerCert = parent.Cert
		signerKey = parent.Key
	}

	der, err := x509.CreateCertificate(rand.Reader, template, signerCert, &key.PublicKey, signerKey)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return &Entity{Cert: cert, Key: key, Token: token.NewCertificateToken(cert)}
}

// Cycle creates two CA certificates that issue each other.
func Cycle(t testing.TB) (*Entity, *Entity) {
	t.Helper()

	keyA, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	keyB, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	placeholderA := &Entity{
		Cert: &x509.Certificate{
			Subject:      pkix.Name{Organization: []string{"Test Org"}, CommonName: "Cycle A"},
			PublicKey:    &keyA.PublicKey,
			SubjectKeyId: keyID(t, &keyA.PublicKey),
		},
		Key: keyA,
	}
	b := NewWithKey(t, placeholderA, keyB, Options{CommonName: "Cycle B", IsCA: true})
	a := NewWithKey(t, b, keyA, Options{CommonName: "Cycle A", IsCA: true})
	return a, b
}

// Root creates a self-signed CA.
func Root(t testing.TB, cn string) *Entity {
	t.Helper()
	return New(t, nil, Options{CommonName: cn, IsCA: true})
}

// Intermediate creates a CA issued by parent.
func Intermediate(t testing.TB, parent *Entity, cn string) *Entity {
	t.Helper()
	return New(t, parent, Options{CommonName: cn, IsCA: true})
}

// Leaf creates an end-entity certificate issued by parent.
func Leaf(t testing.TB, parent *Entity, cn string) *Entity {
	t.Helper()
	return New(t, parent, Options{CommonName: cn, KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment})
}

// TSA creates a timestamping certificate issued by parent.
func TSA(t testing.TB, parent *Entity, cn string) *Entity {
	t.Helper()
	return New(t, parent, Options{CommonName: cn, ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping}})
}

func keyID(t testing.TB, pub *ecdsa.PublicKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	sum := sha1.Sum(der)
	return sum[:]
}

// CRL creates a CRL signed by e listing revoked entities.
func (e *Entity) CRL(t testing.TB, thisUpdate, nextUpdate time.Time, revoked ...*Entity) []byte {
	t.Helper()

	template := &x509.RevocationList{
		Number:     big.NewInt(thisUpdate.Unix()),
		ThisUpdate: thisUpdate,
		NextUpdate: nextUpdate,
	}
	for _, r := range revoked {
		template.RevokedCertificateEntries = append(template.RevokedCertificateEntries, x509.RevocationListEntry{
			SerialNumber:   r.Cert.SerialNumber,
			RevocationTime: thisUpdate.Add(-time.Minute),
			ReasonCode:     1,
		})
	}
	der, err := x509.CreateRevocationList(rand.Reader, template, e.Cert, e.Key)
	if err != nil {
		t.Fatalf("Failed to create CRL: %v", err)
	}
	return der
}

// OCSP creates an OCSP response about subject signed directly by e.
func (e *Entity) OCSP(t testing.TB, subject *Entity, status int, thisUpdate time.Time) []byte {
	t.Helper()

	template := ocsp.Response{
		Status:       status,
		SerialNumber: subject.Cert.SerialNumber,
		ThisUpdate:   thisUpdate,
		NextUpdate:   thisUpdate.Add(24 * time.Hour),
	}
	if status == ocsp.Revoked {
		template.RevokedAt = thisUpdate.Add(-time.Minute)
		template.RevocationReason = ocsp.KeyCompromise
	}
	der, err := ocsp.CreateResponse(e.Cert, e.Cert, template, e.Key)
	if err != nil {
		t.Fatalf("Failed to create OCSP response: %v", err)
	}
	return der
}

// Timestamp issues a timestamp over data at the given time, signed by e.
func (e *Entity) Timestamp(t testing.TB, typ token.TimestampType, at time.Time, data []byte, covers ...token.Identifier) *token.TimestampToken {
	t.Helper()

	imprint := sha256.Sum256(data)
	return e.TimestampDigest(t, typ, at, token.SHA256, imprint[:], data, covers...)
}

// TimestampDigest issues a timestamp over a precomputed digest.
func (e *Entity) TimestampDigest(t testing.TB, typ token.TimestampType, at time.Time, alg token.DigestAlgorithm, digest, data []byte, covers ...token.Identifier) *token.TimestampToken {
	t.Helper()

	content, err := asn1.Marshal(struct {
		Imprint []byte
		Time    time.Time `asn1:"generalized"`
	}{digest, at.UTC().Truncate(time.Second)})
	if err != nil {
		t.Fatalf("Failed to encode timestamp content: %v", err)
	}
	ts, err := token.NewTimestampToken(token.TimestampParams{
		Type:               typ,
		GenerationTime:     at,
		MessageImprint:     token.MessageImprint{Algorithm: alg, Value: digest},
		Signer:             token.SignerIdentifier{SubjectKeyID: e.Cert.SubjectKeyId},
		Certificates:       []*x509.Certificate{e.Cert},
		SignedContent:      content,
		SignatureValue:     e.Sign(t, content),
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		Covers:             covers,
		CoveredData:        data,
	})
	if err != nil {
		t.Fatalf("Failed to create timestamp: %v", err)
	}
	return ts
}

// Sign signs content with ECDSA over SHA-256.
func (e *Entity) Sign(t testing.TB, content []byte) []byte {
	t.Helper()

	sum := sha256.Sum256(content)
	sig, err := ecdsa.SignASN1(rand.Reader, e.Key, sum[:])
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}
	return sig
}

// QCStatements builds a qcStatements extension declaring QcCompliance and,
// when countries are given, QcCClegislation.
func QCStatements(t testing.TB, countries ...string) pkix.Extension {
	t.Helper()

	type statement struct {
		ID   asn1.ObjectIdentifier
		Info asn1.RawValue `asn1:"optional"`
	}
	statements := []statement{{ID: token.OIDQcCompliance}}
	if len(countries) > 0 {
		info, err := asn1.Marshal(countries)
		if err != nil {
			t.Fatalf("Failed to encode legislation: %v", err)
		}
		statements = append(statements, statement{ID: token.OIDQcCCLegislation, Info: asn1.RawValue{FullBytes: info}})
	}
	value, err := asn1.Marshal(statements)
	if err != nil {
		t.Fatalf("Failed to encode QC statements: %v", err)
	}
	return pkix.Extension{Id: token.OIDQcStatements, Value: value}
}

// OCSPNoCheck returns the id-pkix-ocsp-nocheck extension.
func OCSPNoCheck() pkix.Extension {
	return pkix.Extension{Id: token.OIDOCSPNoCheck, Value: []byte{0x05, 0x00}}
}

// Title returns a subject title attribute.
func Title(title string) pkix.AttributeTypeAndValue {
	return pkix.AttributeTypeAndValue{Type: token.OIDTitle, Value: title}
}
