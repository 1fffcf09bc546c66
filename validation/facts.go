package validation

import (
	"fmt"
	"time"

	"github.com/georgepadayatti/trustval/poe"
	"github.com/georgepadayatti/trustval/token"
)

// ChainStatus tells how far a certificate chain could be built.
type ChainStatus int

const (
	// ChainIncomplete means an issuer could not be found or the chain loops.
	ChainIncomplete ChainStatus = iota
	// ChainTrusted means the chain reaches a trust anchor.
	ChainTrusted
	// ChainUntrusted means the chain ends in a self-signed certificate that is
	// not a trust anchor.
	ChainUntrusted
)

// String returns the string representation of a chain status.
func (s ChainStatus) String() string {
	switch s {
	case ChainIncomplete:
		return "incomplete"
	case ChainTrusted:
		return "trusted"
	case ChainUntrusted:
		return "untrusted"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// RevocationFacts is a resolved revocation token.
type RevocationFacts struct {
	Token          *token.RevocationToken
	SignerID       token.Identifier
	SignatureValid bool
}

// CertificateFacts is a snapshot of what the context knows about a certificate.
type CertificateFacts struct {
	Certificate        *token.CertificateToken
	Trusted            bool
	SelfSigned         bool
	IssuerID           token.Identifier
	RevocationRequired bool
	Revocations        []RevocationFacts
}

// HasRevocationData reports whether revocation data is present when required.
// Only revocation data with a valid signature counts.
func (f CertificateFacts) HasRevocationData() bool {
	if !f.RevocationRequired {
		return true
	}
	for _, r := range f.Revocations {
		if r.SignatureValid {
			return true
		}
	}
	return false
}

// HasFreshRevocationData reports whether some valid revocation data was
// produced strictly after t. Certificates that need no revocation data pass.
func (f CertificateFacts) HasFreshRevocationData(t time.Time) bool {
	if !f.RevocationRequired {
		return true
	}
	for _, r := range f.Revocations {
		if r.SignatureValid && r.Token.ProducedAt().After(t) {
			return true
		}
	}
	return false
}

// NotRevoked reports whether no valid revocation data declares the certificate
// revoked. A revocation does not count when one of poeTimes lies strictly
// before the revocation time.
func (f CertificateFacts) NotRevoked(poeTimes []time.Time) bool {
	for _, r := range f.Revocations {
		if !r.SignatureValid || !r.Token.IsRevoked() {
			continue
		}
		protected := false
		for _, t := range poeTimes {
			if t.Before(r.Token.RevocationTime()) {
				protected = true
				break
			}
		}
		if !protected {
			return false
		}
	}
	return true
}

// RevokedAt returns the earliest revocation time asserted by valid revocation
// data, if any.
func (f CertificateFacts) RevokedAt() (time.Time, bool) {
	var at time.Time
	for _, r := range f.Revocations {
		if r.SignatureValid && r.Token.IsRevoked() && (at.IsZero() || r.Token.RevocationTime().Before(at)) {
			at = r.Token.RevocationTime()
		}
	}
	return at, !at.IsZero()
}

// ValidAtAny reports whether the certificate validity window contains one of times.
func (f CertificateFacts) ValidAtAny(times ...time.Time) bool {
	for _, t := range times {
		if f.Certificate.IsValidAt(t) {
			return true
		}
	}
	return false
}

// TimestampFacts is a snapshot of a resolved timestamp.
type TimestampFacts struct {
	Token          *token.TimestampToken
	OwnerID        token.Identifier
	Signer         *token.CertificateToken
	SignatureValid bool
	ImprintFound   bool
	ImprintValid   bool
	Chain          []CertificateFacts
	ChainStatus    ChainStatus
}

// Valid reports whether the timestamp signature and message imprint are valid.
func (f TimestampFacts) Valid() bool {
	return f.SignatureValid && f.ImprintValid
}

// EvidenceRecordFacts is a snapshot of a resolved evidence record.
type EvidenceRecordFacts struct {
	Token *token.EvidenceRecordToken
	Valid bool
}

// SignatureFacts is a per-signature view over the context state. It is derived
// on demand and never stored.
type SignatureFacts struct {
	ID                 token.Identifier
	SigningCertificate *token.CertificateToken
	Chain              []CertificateFacts
	ChainStatus        ChainStatus
	BestSignatureTime  time.Time
	CurrentTime        time.Time
	POE                []poe.POE
	Timestamps         []TimestampFacts
	EvidenceRecords    []EvidenceRecordFacts
}

// POETimes returns the times of every proof of existence of the signature.
func (f SignatureFacts) POETimes() []time.Time {
	times := make([]time.Time, 0, len(f.POE))
	for _, p := range f.POE {
		times = append(times, p.Time)
	}
	return times
}

// SignatureFacts returns the per-signature view of sig.
func (c *Context) SignatureFacts(sig Signature) (SignatureFacts, bool) {
	if sig == nil {
		return SignatureFacts{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.signatureFacts(sig.ID())
}

// TimestampFacts returns the view of a processed timestamp.
func (c *Context) TimestampFacts(ts *token.TimestampToken) (TimestampFacts, bool) {
	if ts == nil {
		return TimestampFacts{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.timestamps[ts.ID()]; !ok {
		return TimestampFacts{}, false
	}
	return c.timestampFacts(ts.ID()), true
}

// CertificateFacts returns the view of a processed certificate.
func (c *Context) CertificateFacts(cert *token.CertificateToken) (CertificateFacts, bool) {
	if cert == nil {
		return CertificateFacts{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.certificates[cert.ID()]; !ok {
		return CertificateFacts{}, false
	}
	return c.certificateFacts(cert.ID()), true
}

func (c *Context) signatureFacts(id token.Identifier) (SignatureFacts, bool) {
	sig, ok := c.signatures[id]
	if !ok {
		return SignatureFacts{}, false
	}
	f := SignatureFacts{
		ID:                 id,
		SigningCertificate: sig.SigningCertificate(),
		ChainStatus:        ChainIncomplete,
		BestSignatureTime:  c.bestSignatureTime(id),
		CurrentTime:        c.currentTime,
		POE:                c.poes.All(id),
	}
	if f.SigningCertificate != nil {
		chain, status := c.chain(f.SigningCertificate.ID())
		f.ChainStatus = status
		for _, cert := range chain {
			f.Chain = append(f.Chain, c.certificateFacts(cert.ID()))
		}
	}
	for _, ts := range sig.Timestamps() {
		if ts != nil {
			f.Timestamps = append(f.Timestamps, c.timestampFacts(ts.ID()))
		}
	}
	for _, er := range sig.EvidenceRecords() {
		if er != nil {
			f.EvidenceRecords = append(f.EvidenceRecords, EvidenceRecordFacts{Token: er, Valid: c.recordValid[er.ID()]})
		}
	}
	return f, true
}

func (c *Context) timestampFacts(id token.Identifier) TimestampFacts {
	f := TimestampFacts{
		Token:          c.timestamps[id],
		OwnerID:        c.timestampOwner[id],
		SignatureValid: c.timestampSigValid[id],
		ImprintValid:   c.timestampImprint[id],
		ChainStatus:    ChainIncomplete,
	}
	f.ImprintFound = f.ImprintValid || !c.hasGap(id, OpTimestampData, errNoTimestampedData)
	if signerID, ok := c.timestampSigner[id]; ok {
		f.Signer = c.certificates[signerID]
		chain, status := c.chain(signerID)
		f.ChainStatus = status
		for _, cert := range chain {
			f.Chain = append(f.Chain, c.certificateFacts(cert.ID()))
		}
	}
	return f
}

func (c *Context) certificateFacts(id token.Identifier) CertificateFacts {
	cert := c.certificates[id]
	f := CertificateFacts{
		Certificate:        cert,
		Trusted:            c.provider.TrustAnchors != nil && c.provider.TrustAnchors.IsTrusted(cert),
		SelfSigned:         cert.IsSelfSigned(),
		IssuerID:           c.issuers[id],
		RevocationRequired: c.revocationRequired(cert),
	}
	for _, revID := range c.revocationsByCert[id] {
		f.Revocations = append(f.Revocations, RevocationFacts{
			Token:          c.revocations[revID],
			SignerID:       c.revocationSigner[revID],
			SignatureValid: c.revocationSigValid[revID],
		})
	}
	return f
}

// chain walks issuer links from id. Callers hold mu.
func (c *Context) chain(id token.Identifier) ([]*token.CertificateToken, ChainStatus) {
	var chain []*token.CertificateToken
	seen := make(map[token.Identifier]bool)
	for current := id; ; {
		cert, ok := c.certificates[current]
		if !ok || seen[current] {
			return chain, ChainIncomplete
		}
		seen[current] = true
		chain = append(chain, cert)
		if c.provider.TrustAnchors != nil && c.provider.TrustAnchors.IsTrusted(cert) {
			return chain, ChainTrusted
		}
		issuerID, ok := c.issuers[current]
		if !ok {
			return chain, ChainIncomplete
		}
		if issuerID == current {
			return chain, ChainUntrusted
		}
		current = issuerID
	}
}

// bestSignatureTime is the earliest proof of existence of the signature, or
// the validation time when none exists. Callers hold mu.
func (c *Context) bestSignatureTime(id token.Identifier) time.Time {
	if p, ok := c.poes.Earliest(id); ok && p.Time.Before(c.currentTime) {
		return p.Time
	}
	return c.currentTime
}

func (c *Context) hasGap(id token.Identifier, op string, err error) bool {
	for _, gap := range c.unavailable[id] {
		if gap.Op == op && gap.Err == err {
			return true
		}
	}
	return false
}
