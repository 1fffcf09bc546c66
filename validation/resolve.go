package validation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/georgepadayatti/trustval/poe"
	"github.com/georgepadayatti/trustval/source"
	"github.com/georgepadayatti/trustval/token"
)

// Validate resolves the trust closure of every registered token until no new
// token is discovered. Trust data that cannot be obtained is recorded (see
// Unavailable) and never returned as an error; the only error is
// ErrNotInitialized.
//
// Validate may be called again after registering more tokens. Processed sets
// only grow.
func (c *Context) Validate(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.mu.RLock()
	initialized := c.initialized
	c.mu.RUnlock()
	if !initialized {
		return ErrNotInitialized
	}

	for round := 1; ; round++ {
		c.mu.Lock()
		changed := c.expandSignatures()
		changed = c.expandEvidenceRecords() || changed
		changed = c.expandTimestamps() || changed
		changed = c.expandRevocations() || changed
		jobs := c.pendingCertificates()
		c.mu.Unlock()

		if !changed && len(jobs) == 0 {
			break
		}
		c.logger.Debug("Resolution round", "round", round, "pending", len(jobs))
		c.resolveCertificates(ctx, jobs)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluateTimestamps()
	c.evaluateEvidenceRecords()

	c.logger.Info("Validation context resolved",
		"signatures", len(c.signatureOrder),
		"certificates", len(c.certOrder),
		"revocations", len(c.revocationOrder),
		"timestamps", len(c.timestampOrder),
		"evidence_records", len(c.recordOrder),
		"unavailable", len(c.unavailable))
	return nil
}

// expandSignatures registers the signing certificate, embedded sources,
// timestamps and evidence records of new signatures. Callers hold mu.
func (c *Context) expandSignatures() bool {
	changed := false
	sourcesAdded := false
	for _, id := range c.signatureOrder {
		if c.signatureExpanded[id] {
			continue
		}
		c.signatureExpanded[id] = true
		changed = true

		sig := c.signatures[id]
		if cert := sig.SigningCertificate(); cert != nil {
			c.addCertificate(cert)
		} else {
			c.recordGap(id, OpSigningCertificate, errSigningCertMissing)
		}
		if src := sig.CertificateSource(); src != nil {
			sourcesAdded = c.documentCertificates.Add(src) || sourcesAdded
		}
		if src := sig.CRLSource(); src != nil {
			sourcesAdded = c.documentCRLs.Add(src) || sourcesAdded
		}
		if src := sig.OCSPSource(); src != nil {
			sourcesAdded = c.documentOCSPs.Add(src) || sourcesAdded
		}
		for _, ts := range sig.Timestamps() {
			if ts != nil {
				c.addTimestamp(ts, id)
			}
		}
		for _, er := range sig.EvidenceRecords() {
			if er != nil {
				c.addEvidenceRecord(er, id)
			}
		}
	}
	if sourcesAdded {
		c.reopenIncomplete()
	}
	return changed
}

// expandEvidenceRecords computes the expected archive timestamp imprints and
// registers the archive timestamps. Callers hold mu.
func (c *Context) expandEvidenceRecords() bool {
	changed := false
	for i := 0; i < len(c.recordOrder); i++ {
		id := c.recordOrder[i]
		if c.recordExpanded[id] {
			continue
		}
		c.recordExpanded[id] = true
		changed = true

		er := c.evidenceRecords[id]
		expected, err := er.ExpectedImprints()
		if err != nil {
			c.recordGap(id, OpEvidenceRecord, fmt.Errorf("%w: %v", errEvidenceRecordBroken, err))
		}
		for _, ts := range er.Timestamps() {
			c.addTimestamp(ts, "")
			c.timestampExpected[ts.ID()] = expected[ts.ID()]
		}
	}
	return changed
}

// expandTimestamps collects the material embedded in new timestamps and looks
// up the signer of every timestamp still lacking one. Callers hold mu.
func (c *Context) expandTimestamps() bool {
	changed := false
	sourcesAdded := false
	for i := 0; i < len(c.timestampOrder); i++ {
		id := c.timestampOrder[i]
		ts := c.timestamps[id]
		if !c.timestampExpanded[id] {
			c.timestampExpanded[id] = true
			changed = true

			c.known.AddAll(ts.Certificates())
			if crls := ts.CRLs(); len(crls) > 0 {
				src, err := source.NewOfflineCRLSource(crls...)
				if err != nil {
					c.recordGap(id, OpRevocationData, fmt.Errorf("%w: %v", errInvalidEmbeddedData, err))
				} else {
					sourcesAdded = c.documentCRLs.Add(src) || sourcesAdded
				}
			}
			if responses := ts.OCSPResponses(); len(responses) > 0 {
				src, err := source.NewOfflineOCSPSource(responses...)
				if err != nil {
					c.recordGap(id, OpRevocationData, fmt.Errorf("%w: %v", errInvalidEmbeddedData, err))
				} else {
					sourcesAdded = c.documentOCSPs.Add(src) || sourcesAdded
				}
			}
		}
		if _, ok := c.timestampSigner[id]; ok {
			continue
		}
		if signer := c.findTimestampSigner(ts); signer != nil {
			c.timestampSigner[id] = signer.ID()
			c.addCertificate(signer)
			changed = true
		}
	}
	if sourcesAdded {
		c.reopenIncomplete()
	}
	return changed
}

// findTimestampSigner returns the certificate referenced by the signer
// identifier of ts, preferring one whose key verifies the token.
func (c *Context) findTimestampSigner(ts *token.TimestampToken) *token.CertificateToken {
	var candidates []*token.CertificateToken
	candidates = append(candidates, ts.Certificates()...)
	candidates = append(candidates, c.documentCertificates.Certificates()...)
	candidates = append(candidates, c.known.Certificates()...)
	for _, src := range c.provider.CertificateSources {
		candidates = append(candidates, src.Certificates()...)
	}
	candidates = append(candidates, c.provider.TrustAnchors.Anchors()...)

	var fallback *token.CertificateToken
	for _, cert := range candidates {
		if !ts.Signer().Matches(cert) {
			continue
		}
		if ts.IsSignedBy(cert, c.verifier) {
			return cert
		}
		if fallback == nil {
			fallback = cert
		}
	}
	return fallback
}

// expandRevocations binds every revocation token to the certificate that signed
// it, once the issuer of the certificate it is about has been looked up.
// Callers hold mu.
func (c *Context) expandRevocations() bool {
	changed := false
	for _, id := range c.revocationOrder {
		if _, ok := c.revocationSigner[id]; ok {
			continue
		}
		rev := c.revocations[id]
		certID := rev.CertificateID()
		if _, known := c.certificates[certID]; known && !c.certResolved[certID] {
			continue
		}
		var issuer *token.CertificateToken
		if issuerID, ok := c.issuers[certID]; ok {
			issuer = c.certificates[issuerID]
		}

		signer, valid := c.revocationSignerOf(rev, issuer)
		changed = true
		if signer == nil {
			c.revocationSigner[id] = ""
			c.revocationSigValid[id] = false
			c.recordGap(id, OpRevocationData, errSignerUnknown)
			continue
		}
		c.revocationSigner[id] = signer.ID()
		c.revocationSigValid[id] = valid
		c.addCertificate(signer)
		if !valid {
			c.recordGap(id, OpRevocationData, errRevocationSignature)
		}
	}
	return changed
}

// revocationSignerOf returns the certificate that signed rev and whether that
// signature is acceptable for the certificate rev is about. A responder
// certificate must itself be issued by issuer.
func (c *Context) revocationSignerOf(rev *token.RevocationToken, issuer *token.CertificateToken) (*token.CertificateToken, bool) {
	for _, responder := range rev.ResponderCertificates() {
		if !rev.IsSignedBy(responder) {
			continue
		}
		if issuer == nil {
			return responder, false
		}
		return responder, responder.ID() == issuer.ID() || responder.IsSignedBy(issuer, c.verifier)
	}
	if issuer == nil {
		return nil, false
	}
	return issuer, rev.IsSignedBy(issuer)
}

type certificateJob struct {
	cert          *token.CertificateToken
	hasRevocation bool
}

type certificateResolution struct {
	cert        *token.CertificateToken
	issuer      *token.CertificateToken
	fetched     []*token.CertificateToken
	revocations []*token.RevocationToken
	gaps        []*ResolutionError
}

// pendingCertificates returns the certificates whose issuer and revocation
// lookups have not run yet. Callers hold mu.
func (c *Context) pendingCertificates() []certificateJob {
	var jobs []certificateJob
	for _, id := range c.certOrder {
		if c.certResolved[id] {
			continue
		}
		jobs = append(jobs, certificateJob{
			cert:          c.certificates[id],
			hasRevocation: len(c.revocationsByCert[id]) > 0,
		})
	}
	return jobs
}

// resolveCertificates runs the lookups of independent certificates
// concurrently and merges their results.
func (c *Context) resolveCertificates(ctx context.Context, jobs []certificateJob) {
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			res := c.resolveCertificate(ctx, job)
			c.mu.Lock()
			c.merge(res)
			c.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Context) resolveCertificate(ctx context.Context, job certificateJob) certificateResolution {
	cert := job.cert
	res := certificateResolution{cert: cert}

	switch {
	case cert.IsSelfSigned():
		res.issuer = cert
	case c.provider.TrustAnchors.IsTrusted(cert):
	default:
		issuer, fetched, err := c.findIssuer(ctx, cert)
		res.issuer = issuer
		res.fetched = fetched
		if err != nil {
			res.gaps = append(res.gaps, &ResolutionError{TokenID: cert.ID(), Op: OpIssuer, Err: err})
		}
	}

	if c.revocationRequired(cert) {
		revocations, gaps := c.fetchRevocations(ctx, cert, res.issuer, job.hasRevocation)
		res.revocations = revocations
		res.gaps = append(res.gaps, gaps...)
	}
	return res
}

// findIssuer searches document sources, resolution-time certificates, the
// provider sources, the external issuer source and finally the trust anchors.
func (c *Context) findIssuer(ctx context.Context, cert *token.CertificateToken) (*token.CertificateToken, []*token.CertificateToken, error) {
	sources := []source.CertificateSource{c.documentCertificates, c.known}
	sources = append(sources, c.provider.CertificateSources...)
	for _, src := range sources {
		if src == nil {
			continue
		}
		if issuer := c.verifiedIssuer(cert, source.PotentialIssuers(src, cert)); issuer != nil {
			return issuer, nil, nil
		}
	}

	var fetched []*token.CertificateToken
	var fetchErr error
	if c.provider.IssuerSource != nil {
		fetched, fetchErr = c.provider.IssuerSource.FetchIssuers(ctx, cert)
		var candidates []*token.CertificateToken
		for _, candidate := range fetched {
			if cert.IsPotentialIssuer(candidate) {
				candidates = append(candidates, candidate)
			}
		}
		if issuer := c.verifiedIssuer(cert, candidates); issuer != nil {
			return issuer, fetched, nil
		}
	}

	anchors := source.NewTrustedCertificateSource(c.provider.TrustAnchors.Anchors()...)
	if issuer := c.verifiedIssuer(cert, source.PotentialIssuers(anchors, cert)); issuer != nil {
		return issuer, fetched, nil
	}
	if fetchErr != nil {
		return nil, fetched, fmt.Errorf("%w: %w", errIssuerNotFound, fetchErr)
	}
	return nil, fetched, errIssuerNotFound
}

func (c *Context) verifiedIssuer(cert *token.CertificateToken, candidates []*token.CertificateToken) *token.CertificateToken {
	for _, candidate := range candidates {
		if cert.IsSignedBy(candidate, c.verifier) {
			return candidate
		}
	}
	return nil
}

// fetchRevocations asks the document sources first and falls back to the
// external OCSP then CRL sources when the document holds nothing.
func (c *Context) fetchRevocations(ctx context.Context, cert, issuer *token.CertificateToken, hasRevocation bool) ([]*token.RevocationToken, []*ResolutionError) {
	var found []*token.RevocationToken
	var gaps []*ResolutionError
	ask := func(src source.RevocationSource) bool {
		tok, err := src.RevocationToken(ctx, cert, issuer)
		if err != nil {
			gaps = append(gaps, &ResolutionError{TokenID: cert.ID(), Op: OpRevocation, Err: err})
			return false
		}
		if tok == nil {
			return false
		}
		found = append(found, tok)
		return true
	}

	ask(c.documentCRLs)
	ask(c.documentOCSPs)
	if len(found) > 0 || hasRevocation {
		return found, gaps
	}
	for _, src := range []source.RevocationSource{c.provider.OCSPSource, c.provider.CRLSource} {
		if src != nil && ask(src) {
			break
		}
	}
	if len(found) == 0 {
		gaps = append(gaps, &ResolutionError{TokenID: cert.ID(), Op: OpRevocation, Err: errNoRevocationData})
	}
	return found, gaps
}

// merge folds one certificate resolution into the context. Callers hold mu.
func (c *Context) merge(res certificateResolution) {
	id := res.cert.ID()
	c.certResolved[id] = true
	c.known.AddAll(res.fetched)
	if res.issuer != nil {
		if _, ok := c.issuers[id]; !ok {
			c.issuers[id] = res.issuer.ID()
			c.clearGaps(id, OpIssuer)
			c.rebindRevocations(id)
		}
		c.addCertificate(res.issuer)
	}
	for _, rev := range res.revocations {
		c.addRevocation(rev)
	}
	for _, gap := range res.gaps {
		c.recordGap(gap.TokenID, gap.Op, gap.Err)
	}
}

// rebindRevocations drops the signer bindings of the revocation data about a
// certificate that were made without a valid signer, so that the next
// expansion binds them against the newly found issuer. Callers hold mu.
func (c *Context) rebindRevocations(certID token.Identifier) {
	for _, revID := range c.revocationsByCert[certID] {
		if _, bound := c.revocationSigner[revID]; !bound || c.revocationSigValid[revID] {
			continue
		}
		delete(c.revocationSigner, revID)
		delete(c.revocationSigValid, revID)
		c.clearGaps(revID, OpRevocationData)
	}
}

// revocationRequired reports whether revocation data must be gathered for cert.
func (c *Context) revocationRequired(cert *token.CertificateToken) bool {
	if cert == nil || c.provider.TrustAnchors == nil {
		return false
	}
	if c.provider.TrustAnchors.IsTrusted(cert) || cert.IsSelfSigned() || cert.HasOCSPNoCheck() {
		return false
	}
	return cert.IsValidAt(c.currentTime)
}

// evaluateTimestamps checks the signature and message imprint of every
// timestamp and records the proofs of existence of the valid ones. Callers
// hold mu.
func (c *Context) evaluateTimestamps() {
	for _, id := range c.timestampOrder {
		ts := c.timestamps[id]

		signerID, ok := c.timestampSigner[id]
		if !ok {
			c.timestampSigValid[id] = false
			c.recordGap(id, OpTimestampSigner, errSignerNotFound)
		} else {
			c.timestampSigValid[id] = ts.IsSignedBy(c.certificates[signerID], c.verifier)
			if !c.timestampSigValid[id] {
				c.recordGap(id, OpTimestampSigner, errTimestampSignature)
			}
		}

		imprintOK, known := c.checkImprint(ts)
		c.timestampImprint[id] = imprintOK
		switch {
		case !known:
			c.recordGap(id, OpTimestampData, errNoTimestampedData)
		case !imprintOK:
			c.recordGap(id, OpTimestampData, errTimestampImprint)
		}

		if !c.timestampSigValid[id] || !imprintOK {
			continue
		}
		at := ts.GenerationTime()
		for _, covered := range ts.Covers() {
			c.poes.Add(poe.POE{TokenID: covered, Time: at, Type: poe.FromTimestamp, SourceID: id})
		}
		if owner, ok := c.timestampOwner[id]; ok && ts.Type().CoversSignature() {
			c.poes.Add(poe.POE{TokenID: owner, Time: at, Type: poe.FromTimestamp, SourceID: id})
		}
	}
}

// checkImprint compares the message imprint of ts with the best known
// time-stamped data. known is false when no such data is available.
func (c *Context) checkImprint(ts *token.TimestampToken) (ok, known bool) {
	if expected, inRecord := c.timestampExpected[ts.ID()]; inRecord {
		if expected == nil {
			return false, false
		}
		return ts.MatchesDigest(expected, false), true
	}
	if data := ts.CoveredData(); data != nil {
		return ts.MatchesData(data), true
	}
	if owner, ok := c.timestampOwner[ts.ID()]; ok {
		if data := c.signatures[owner].TimestampedData(ts); data != nil {
			return ts.MatchesData(data), true
		}
	}
	return false, false
}

// evaluateEvidenceRecords marks a record valid when its hash trees compute and
// all of its archive timestamps are valid, and records its proofs of
// existence. Callers hold mu.
func (c *Context) evaluateEvidenceRecords() {
	for _, id := range c.recordOrder {
		er := c.evidenceRecords[id]
		valid := true
		for _, ts := range er.Timestamps() {
			if !c.timestampValid(ts.ID()) {
				valid = false
				break
			}
		}
		c.recordValid[id] = valid
		if !valid {
			c.recordGap(id, OpEvidenceRecord, errEvidenceRecordIncomplete)
			continue
		}
		at := er.FirstTimestamp().GenerationTime()
		for _, covered := range er.Covers() {
			c.poes.Add(poe.POE{TokenID: covered, Time: at, Type: poe.FromEvidenceRecord, SourceID: id})
		}
		if owner, ok := c.recordOwner[id]; ok {
			c.poes.Add(poe.POE{TokenID: owner, Time: at, Type: poe.FromEvidenceRecord, SourceID: id})
		}
	}
}

func (c *Context) timestampValid(id token.Identifier) bool {
	return c.timestampSigValid[id] && c.timestampImprint[id]
}
