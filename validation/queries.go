package validation

import (
	"time"

	"github.com/georgepadayatti/trustval/token"
)

// The aggregate queries below only read the context state. They can be
// called any number of times and always agree with each other for a given
// state.

// CheckAllRequiredRevocationDataPresent reports whether every processed
// certificate that needs revocation data has some with a valid signature.
func (c *Context) CheckAllRequiredRevocationDataPresent() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ok := true
	for _, id := range c.certOrder {
		if !c.certificateFacts(id).HasRevocationData() {
			c.logger.Warn("Revocation data missing", "certificate", id)
			ok = false
		}
	}
	return ok
}

// CheckAllPOECoveredByRevocationData reports whether, for every signature with
// a proof of existence, each certificate of its chain has revocation data
// produced after the latest proof of existence.
func (c *Context) CheckAllPOECoveredByRevocationData() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ok := true
	for _, sigID := range c.signatureOrder {
		latest, found := c.poes.Latest(sigID)
		if !found {
			continue
		}
		f, _ := c.signatureFacts(sigID)
		for _, cert := range f.Chain {
			if !cert.HasFreshRevocationData(latest.Time) {
				c.logger.Warn("Proof of existence not covered by revocation data",
					"signature", sigID, "certificate", cert.Certificate.ID(), "poe", latest.Time)
				ok = false
			}
		}
	}
	return ok
}

// CheckAllTimestampsValid reports whether every processed timestamp has a
// valid signature and a matching message imprint.
func (c *Context) CheckAllTimestampsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ok := true
	for _, id := range c.timestampOrder {
		if !c.timestampValid(id) {
			c.logger.Warn("Timestamp invalid", "timestamp", id,
				"signature_valid", c.timestampSigValid[id], "imprint_valid", c.timestampImprint[id])
			ok = false
		}
	}
	return ok
}

// CheckCertificateNotRevoked reports whether cert is not declared revoked by
// valid revocation data, unless a proof of existence of the certificate
// predates the revocation. Unknown certificates are reported as not revoked.
func (c *Context) CheckCertificateNotRevoked(cert *token.CertificateToken) bool {
	if cert == nil {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.certificates[cert.ID()]; !ok {
		return true
	}
	var times []time.Time
	for _, p := range c.poes.All(cert.ID()) {
		times = append(times, p.Time)
	}
	return c.certificateFacts(cert.ID()).NotRevoked(times)
}

// CheckAllSignatureCertificatesNotRevoked reports whether no certificate in
// any signature chain is revoked. A proof of existence of the signature
// before the revocation time keeps the signature unaffected.
func (c *Context) CheckAllSignatureCertificatesNotRevoked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ok := true
	for _, sigID := range c.signatureOrder {
		f, _ := c.signatureFacts(sigID)
		times := f.POETimes()
		for _, cert := range f.Chain {
			if !cert.NotRevoked(times) {
				c.logger.Warn("Certificate revoked", "signature", sigID, "certificate", cert.Certificate.ID())
				ok = false
			}
		}
	}
	return ok
}

// CheckAllSignatureCertificateHaveFreshRevocationData reports whether every
// certificate that needs revocation data in every signature chain has some
// produced strictly after the best signature time.
func (c *Context) CheckAllSignatureCertificateHaveFreshRevocationData() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ok := true
	for _, sigID := range c.signatureOrder {
		f, _ := c.signatureFacts(sigID)
		for _, cert := range f.Chain {
			if !cert.HasFreshRevocationData(f.BestSignatureTime) {
				c.logger.Warn("No fresh revocation data", "signature", sigID,
					"certificate", cert.Certificate.ID(), "best_signature_time", f.BestSignatureTime)
				ok = false
			}
		}
	}
	return ok
}

// CheckAllSignaturesNotExpired reports whether the signing certificate of
// every signature is valid at the validation time or at one of the proofs of
// existence of the signature.
func (c *Context) CheckAllSignaturesNotExpired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ok := true
	for _, sigID := range c.signatureOrder {
		f, _ := c.signatureFacts(sigID)
		if f.SigningCertificate == nil || len(f.Chain) == 0 {
			c.logger.Warn("Signing certificate unknown", "signature", sigID)
			ok = false
			continue
		}
		times := append([]time.Time{c.currentTime}, f.POETimes()...)
		if !f.Chain[0].ValidAtAny(times...) {
			c.logger.Warn("Signing certificate expired", "signature", sigID, "certificate", f.SigningCertificate.ID())
			ok = false
		}
	}
	return ok
}
