package validation

import (
	"time"

	"github.com/georgepadayatti/trustval/poe"
	"github.com/georgepadayatti/trustval/source"
	"github.com/georgepadayatti/trustval/token"
)

// ValidationData is the set of tokens needed to validate one signature or
// timestamp: its certificate chains, their revocation data and the
// timestamps involved.
type ValidationData struct {
	Certificates []*token.CertificateToken
	Revocations  []*token.RevocationToken
	Timestamps   []*token.TimestampToken
}

// ProcessedSignatures returns the registered signatures.
func (c *Context) ProcessedSignatures() []Signature {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Signature, 0, len(c.signatureOrder))
	for _, id := range c.signatureOrder {
		out = append(out, c.signatures[id])
	}
	return out
}

// ProcessedCertificates returns every certificate the context has processed.
func (c *Context) ProcessedCertificates() []*token.CertificateToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*token.CertificateToken, 0, len(c.certOrder))
	for _, id := range c.certOrder {
		out = append(out, c.certificates[id])
	}
	return out
}

// ProcessedRevocations returns every revocation token the context has processed.
func (c *Context) ProcessedRevocations() []*token.RevocationToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*token.RevocationToken, 0, len(c.revocationOrder))
	for _, id := range c.revocationOrder {
		out = append(out, c.revocations[id])
	}
	return out
}

// ProcessedTimestamps returns every timestamp the context has processed.
func (c *Context) ProcessedTimestamps() []*token.TimestampToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*token.TimestampToken, 0, len(c.timestampOrder))
	for _, id := range c.timestampOrder {
		out = append(out, c.timestamps[id])
	}
	return out
}

// ProcessedEvidenceRecords returns every evidence record the context has processed.
func (c *Context) ProcessedEvidenceRecords() []*token.EvidenceRecordToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*token.EvidenceRecordToken, 0, len(c.recordOrder))
	for _, id := range c.recordOrder {
		out = append(out, c.evidenceRecords[id])
	}
	return out
}

// DocumentCertificateSource returns the certificates extracted from the
// validated objects.
func (c *Context) DocumentCertificateSource() source.CertificateSource {
	return c.documentCertificates
}

// DocumentCRLSource returns the CRLs extracted from the validated objects.
func (c *Context) DocumentCRLSource() source.RevocationSource {
	return c.documentCRLs
}

// DocumentOCSPSource returns the OCSP responses extracted from the validated objects.
func (c *Context) DocumentOCSPSource() source.RevocationSource {
	return c.documentOCSPs
}

// AllCertificateSources returns the document certificates, the certificates
// found during resolution and the provider sources.
func (c *Context) AllCertificateSources() []source.CertificateSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := []source.CertificateSource{c.documentCertificates, c.known}
	out = append(out, c.provider.CertificateSources...)
	if anchors, ok := c.provider.TrustAnchors.(source.CertificateSource); ok {
		out = append(out, anchors)
	}
	return out
}

// CertificateChain returns the chain of a processed certificate, leaf first.
func (c *Context) CertificateChain(id token.Identifier) ([]*token.CertificateToken, ChainStatus) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chain(id)
}

// RevocationsFor returns the revocation tokens about a certificate.
func (c *Context) RevocationsFor(id token.Identifier) []*token.RevocationToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*token.RevocationToken
	for _, revID := range c.revocationsByCert[id] {
		out = append(out, c.revocations[revID])
	}
	return out
}

// Unavailable returns the resolution gaps recorded for a token.
func (c *Context) Unavailable(id token.Identifier) []*ResolutionError {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*ResolutionError(nil), c.unavailable[id]...)
}

// POE returns the proof-of-existence registry.
func (c *Context) POE() *poe.Registry {
	return c.poes
}

// BestSignatureTime returns the earliest proof of existence of sig, or the
// validation time when there is none.
func (c *Context) BestSignatureTime(sig Signature) time.Time {
	if sig == nil {
		return c.currentTime
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bestSignatureTime(sig.ID())
}

// ValidationData returns the tokens needed to validate sig.
func (c *Context) ValidationData(sig Signature) ValidationData {
	if sig == nil {
		return ValidationData{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	g := newGatherer(c)
	if cert := sig.SigningCertificate(); cert != nil {
		g.certificate(cert.ID())
	}
	for _, ts := range sig.Timestamps() {
		if ts != nil {
			g.timestamp(ts.ID())
		}
	}
	for _, er := range sig.EvidenceRecords() {
		if er == nil {
			continue
		}
		for _, ts := range er.Timestamps() {
			g.timestamp(ts.ID())
		}
	}
	return g.data
}

// TimestampValidationData returns the tokens needed to validate ts.
func (c *Context) TimestampValidationData(ts *token.TimestampToken) ValidationData {
	if ts == nil {
		return ValidationData{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	g := newGatherer(c)
	g.timestamp(ts.ID())
	return g.data
}

// gatherer collects validation data, following issuers and revocation
// signers. Callers hold mu.
type gatherer struct {
	c    *Context
	seen map[token.Identifier]bool
	data ValidationData
}

func newGatherer(c *Context) *gatherer {
	return &gatherer{c: c, seen: make(map[token.Identifier]bool)}
}

func (g *gatherer) certificate(id token.Identifier) {
	for id != "" && !g.seen[id] {
		cert, ok := g.c.certificates[id]
		if !ok {
			return
		}
		g.seen[id] = true
		g.data.Certificates = append(g.data.Certificates, cert)
		for _, revID := range g.c.revocationsByCert[id] {
			g.revocation(revID)
		}
		id = g.c.issuers[id]
	}
}

func (g *gatherer) revocation(id token.Identifier) {
	if g.seen[id] {
		return
	}
	g.seen[id] = true
	g.data.Revocations = append(g.data.Revocations, g.c.revocations[id])
	g.certificate(g.c.revocationSigner[id])
}

func (g *gatherer) timestamp(id token.Identifier) {
	ts, ok := g.c.timestamps[id]
	if !ok || g.seen[id] {
		return
	}
	g.seen[id] = true
	g.data.Timestamps = append(g.data.Timestamps, ts)
	g.certificate(g.c.timestampSigner[id])
}
