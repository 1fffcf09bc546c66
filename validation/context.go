// Package validation gathers and cross-validates the trust data needed to judge
// signatures: certificate chains, revocation data, timestamps and evidence
// records, up to an accepted trust anchor.
package validation

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/trustval/poe"
	"github.com/georgepadayatti/trustval/source"
	"github.com/georgepadayatti/trustval/token"
)

// TrustProvider binds the external trust data consulted during resolution.
type TrustProvider struct {
	// CertificateSources are searched for issuers after the document sources.
	CertificateSources []source.CertificateSource
	// IssuerSource fetches issuers that no local source holds, e.g. via AIA.
	IssuerSource source.IssuerSource
	// CRLSource and OCSPSource provide external revocation data.
	CRLSource  source.RevocationSource
	OCSPSource source.RevocationSource
	// TrustAnchors decides which certificates are trusted. Required.
	TrustAnchors source.TrustAnchorProvider
	// Verifier checks raw signatures. Nil uses token.X509Verifier.
	Verifier token.SignatureVerifier
}

// Context is the trust-resolution engine of one validation run.
type Context struct {
	// runMu serializes Validate; mu guards the state below.
	runMu sync.Mutex
	mu    sync.RWMutex

	logger      *slog.Logger
	clock       clockwork.Clock
	currentTime time.Time
	concurrency int

	initialized bool
	provider    TrustProvider
	verifier    token.SignatureVerifier

	signatures      map[token.Identifier]Signature
	certificates    map[token.Identifier]*token.CertificateToken
	revocations     map[token.Identifier]*token.RevocationToken
	timestamps      map[token.Identifier]*token.TimestampToken
	evidenceRecords map[token.Identifier]*token.EvidenceRecordToken
	signatureOrder  []token.Identifier
	certOrder       []token.Identifier
	revocationOrder []token.Identifier
	timestampOrder  []token.Identifier
	recordOrder     []token.Identifier

	documentCertificates *source.ListCertificateSource
	documentCRLs         *source.ListRevocationSource
	documentOCSPs        *source.ListRevocationSource
	// known holds every processed certificate plus certificates obtained
	// during resolution (AIA, OCSP responders, timestamp tokens).
	known *source.CommonCertificateSource

	signatureExpanded map[token.Identifier]bool
	timestampExpanded map[token.Identifier]bool
	recordExpanded    map[token.Identifier]bool
	certResolved      map[token.Identifier]bool

	issuers            map[token.Identifier]token.Identifier
	revocationsByCert  map[token.Identifier][]token.Identifier
	revocationSigner   map[token.Identifier]token.Identifier
	revocationSigValid map[token.Identifier]bool

	timestampOwner    map[token.Identifier]token.Identifier
	timestampSigner   map[token.Identifier]token.Identifier
	timestampSigValid map[token.Identifier]bool
	timestampImprint  map[token.Identifier]bool
	timestampExpected map[token.Identifier][]byte

	recordOwner map[token.Identifier]token.Identifier
	recordValid map[token.Identifier]bool

	unavailable map[token.Identifier][]*ResolutionError
	poes        *poe.Registry
}

// Option configures a Context.
type Option func(*Context) error

// WithValidationTime fixes the validation time instead of reading the clock.
func WithValidationTime(t time.Time) Option {
	return func(c *Context) error {
		if t.IsZero() {
			return fmt.Errorf("%w: zero validation time", ErrInvalidConfiguration)
		}
		c.currentTime = t
		return nil
	}
}

// WithClock sets the clock the validation time is read from.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Context) error {
		if clock == nil {
			return fmt.Errorf("%w: nil clock", ErrInvalidConfiguration)
		}
		c.clock = clock
		return nil
	}
}

// WithLogger sets the logger used to report resolution progress and gaps.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithConcurrency limits how many certificates are resolved in parallel.
func WithConcurrency(n int) Option {
	return func(c *Context) error {
		if n < 1 {
			return fmt.Errorf("%w: concurrency must be positive, got %d", ErrInvalidConfiguration, n)
		}
		c.concurrency = n
		return nil
	}
}

// New creates an empty validation context.
func New(opts ...Option) (*Context, error) {
	c := &Context{
		logger:      slog.New(slog.DiscardHandler),
		clock:       clockwork.NewRealClock(),
		concurrency: runtime.GOMAXPROCS(0),

		signatures:      make(map[token.Identifier]Signature),
		certificates:    make(map[token.Identifier]*token.CertificateToken),
		revocations:     make(map[token.Identifier]*token.RevocationToken),
		timestamps:      make(map[token.Identifier]*token.TimestampToken),
		evidenceRecords: make(map[token.Identifier]*token.EvidenceRecordToken),

		documentCertificates: source.NewListCertificateSource(),
		documentCRLs:         source.NewListRevocationSource(token.RevocationCRL),
		documentOCSPs:        source.NewListRevocationSource(token.RevocationOCSP),
		known:                source.NewCommonCertificateSource(source.TypeOther),

		signatureExpanded: make(map[token.Identifier]bool),
		timestampExpanded: make(map[token.Identifier]bool),
		recordExpanded:    make(map[token.Identifier]bool),
		certResolved:      make(map[token.Identifier]bool),

		issuers:            make(map[token.Identifier]token.Identifier),
		revocationsByCert:  make(map[token.Identifier][]token.Identifier),
		revocationSigner:   make(map[token.Identifier]token.Identifier),
		revocationSigValid: make(map[token.Identifier]bool),

		timestampOwner:    make(map[token.Identifier]token.Identifier),
		timestampSigner:   make(map[token.Identifier]token.Identifier),
		timestampSigValid: make(map[token.Identifier]bool),
		timestampImprint:  make(map[token.Identifier]bool),
		timestampExpected: make(map[token.Identifier][]byte),

		recordOwner: make(map[token.Identifier]token.Identifier),
		recordValid: make(map[token.Identifier]bool),

		unavailable: make(map[token.Identifier][]*ResolutionError),
		poes:        poe.NewRegistry(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.currentTime.IsZero() {
		c.currentTime = c.clock.Now()
	}
	return c, nil
}

// Initialize binds the trust provider. It must be called exactly once, before Validate.
func (c *Context) Initialize(provider TrustProvider) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return ErrAlreadyInitialized
	}
	if provider.TrustAnchors == nil {
		return fmt.Errorf("%w: trust anchors are required", ErrInvalidConfiguration)
	}
	if provider.CRLSource != nil && provider.CRLSource.Kind() != token.RevocationCRL {
		return fmt.Errorf("%w: CRL source provides %s", ErrInvalidConfiguration, provider.CRLSource.Kind())
	}
	if provider.OCSPSource != nil && provider.OCSPSource.Kind() != token.RevocationOCSP {
		return fmt.Errorf("%w: OCSP source provides %s", ErrInvalidConfiguration, provider.OCSPSource.Kind())
	}
	c.provider = provider
	c.verifier = provider.Verifier
	if c.verifier == nil {
		c.verifier = token.X509Verifier{}
	}
	c.initialized = true
	return nil
}

// CurrentTime returns the validation time.
func (c *Context) CurrentTime() time.Time {
	return c.currentTime
}

// AddSignatureForVerification registers a signature. It returns false when a
// signature with the same identity is already registered.
func (c *Context) AddSignatureForVerification(sig Signature) bool {
	if sig == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.signatures[sig.ID()]; ok {
		return false
	}
	c.signatures[sig.ID()] = sig
	c.signatureOrder = append(c.signatureOrder, sig.ID())
	return true
}

// AddTimestampTokenForVerification registers a timestamp. It returns false when
// the timestamp is already registered.
func (c *Context) AddTimestampTokenForVerification(ts *token.TimestampToken) bool {
	if ts == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addTimestamp(ts, "")
}

// AddRevocationTokenForVerification registers revocation data. It returns false
// when the token is already registered.
func (c *Context) AddRevocationTokenForVerification(rev *token.RevocationToken) bool {
	if rev == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addRevocation(rev)
}

// AddCertificateTokenForVerification registers a certificate. It returns false
// when the certificate is already registered.
func (c *Context) AddCertificateTokenForVerification(cert *token.CertificateToken) bool {
	if cert == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addCertificate(cert)
}

// AddEvidenceRecordForVerification registers an evidence record. It returns
// false when the record is already registered.
func (c *Context) AddEvidenceRecordForVerification(er *token.EvidenceRecordToken) bool {
	if er == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addEvidenceRecord(er, "")
}

// AddDocumentCertificateSource registers certificates extracted from the validated object.
func (c *Context) AddDocumentCertificateSource(src source.CertificateSource) bool {
	if src == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.documentCertificates.Add(src) {
		return false
	}
	c.reopenIncomplete()
	return true
}

// AddDocumentCRLSource registers CRLs extracted from the validated object.
func (c *Context) AddDocumentCRLSource(src source.RevocationSource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.documentCRLs.Add(src) {
		return false
	}
	c.reopenIncomplete()
	return true
}

// AddDocumentOCSPSource registers OCSP responses extracted from the validated object.
func (c *Context) AddDocumentOCSPSource(src source.RevocationSource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.documentOCSPs.Add(src) {
		return false
	}
	c.reopenIncomplete()
	return true
}

// reopenIncomplete schedules certificates lacking an issuer or revocation data
// for another lookup. Callers hold mu.
func (c *Context) reopenIncomplete() {
	for _, id := range c.certOrder {
		if !c.certResolved[id] {
			continue
		}
		cert := c.certificates[id]
		_, hasIssuer := c.issuers[id]
		missingIssuer := !hasIssuer && !c.provider.TrustAnchors.IsTrusted(cert)
		if missingIssuer || (c.revocationRequired(cert) && len(c.revocationsByCert[id]) == 0) {
			c.certResolved[id] = false
		}
	}
}

func (c *Context) addCertificate(cert *token.CertificateToken) bool {
	if _, ok := c.certificates[cert.ID()]; ok {
		return false
	}
	c.certificates[cert.ID()] = cert
	c.certOrder = append(c.certOrder, cert.ID())
	c.known.Add(cert)
	return true
}

func (c *Context) addRevocation(rev *token.RevocationToken) bool {
	if _, ok := c.revocations[rev.ID()]; ok {
		return false
	}
	c.revocations[rev.ID()] = rev
	c.revocationOrder = append(c.revocationOrder, rev.ID())
	c.revocationsByCert[rev.CertificateID()] = append(c.revocationsByCert[rev.CertificateID()], rev.ID())
	for _, responder := range rev.ResponderCertificates() {
		c.addCertificate(responder)
	}
	return true
}

func (c *Context) addTimestamp(ts *token.TimestampToken, owner token.Identifier) bool {
	if owner != "" {
		if _, ok := c.timestampOwner[ts.ID()]; !ok {
			c.timestampOwner[ts.ID()] = owner
		}
	}
	if _, ok := c.timestamps[ts.ID()]; ok {
		return false
	}
	c.timestamps[ts.ID()] = ts
	c.timestampOrder = append(c.timestampOrder, ts.ID())
	return true
}

func (c *Context) addEvidenceRecord(er *token.EvidenceRecordToken, owner token.Identifier) bool {
	if owner != "" {
		if _, ok := c.recordOwner[er.ID()]; !ok {
			c.recordOwner[er.ID()] = owner
		}
	}
	if _, ok := c.evidenceRecords[er.ID()]; ok {
		return false
	}
	c.evidenceRecords[er.ID()] = er
	c.recordOrder = append(c.recordOrder, er.ID())
	return true
}

// clearGaps removes the gaps of one operation on a token once the missing data
// has been found. Callers hold mu.
func (c *Context) clearGaps(id token.Identifier, op string) {
	gaps := c.unavailable[id][:0]
	for _, gap := range c.unavailable[id] {
		if gap.Op != op {
			gaps = append(gaps, gap)
		}
	}
	if len(gaps) == 0 {
		delete(c.unavailable, id)
		return
	}
	c.unavailable[id] = gaps
}

// recordGap stores a resolution gap, ignoring exact repeats. Callers hold mu.
func (c *Context) recordGap(id token.Identifier, op string, err error) {
	for _, existing := range c.unavailable[id] {
		if existing.Op == op && existing.Err.Error() == err.Error() {
			return
		}
	}
	c.unavailable[id] = append(c.unavailable[id], &ResolutionError{TokenID: id, Op: op, Err: err})
	c.logger.Debug("Trust data unavailable", "token", id, "op", op, "error", err)
}
