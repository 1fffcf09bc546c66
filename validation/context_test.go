package validation_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/trustval/internal/testpki"
	"github.com/georgepadayatti/trustval/poe"
	"github.com/georgepadayatti/trustval/source"
	"github.com/georgepadayatti/trustval/token"
	"github.com/georgepadayatti/trustval/validation"
)

type pki struct {
	root  *testpki.Entity
	inter *testpki.Entity
	leaf  *testpki.Entity
	tsa   *testpki.Entity
	now   time.Time
}

func newPKI(t *testing.T) *pki {
	t.Helper()
	root := testpki.Root(t, "Test Root")
	inter := testpki.Intermediate(t, root, "Test Intermediate")
	return &pki{
		root:  root,
		inter: inter,
		leaf:  testpki.Leaf(t, inter, "Test Signer"),
		tsa:   testpki.TSA(t, inter, "Test TSA"),
		now:   time.Now(),
	}
}

// crls returns a CRL source covering the intermediate and its subjects, both
// issued at thisUpdate.
func (p *pki) crls(t *testing.T, thisUpdate time.Time, revoked ...*testpki.Entity) *source.OfflineCRLSource {
	t.Helper()
	src, err := source.NewOfflineCRLSource(
		p.inter.CRL(t, thisUpdate, p.now.Add(24*time.Hour), revoked...),
		p.root.CRL(t, thisUpdate, p.now.Add(24*time.Hour)),
	)
	if err != nil {
		t.Fatalf("NewOfflineCRLSource() error = %v", err)
	}
	return src
}

func (p *pki) signature(signatureValue string, crls source.RevocationSource) *validation.SignatureData {
	sig := validation.NewSignatureData([]byte(signatureValue), p.leaf.Token)
	sig.Certificates = source.NewCommonCertificateSource(source.TypeSignature, p.leaf.Token, p.inter.Token)
	sig.CRLs = crls
	return sig
}

func (p *pki) provider() validation.TrustProvider {
	return validation.TrustProvider{TrustAnchors: source.NewTrustedCertificateSource(p.root.Token)}
}

func newContext(t *testing.T, p *pki, provider validation.TrustProvider) *validation.Context {
	t.Helper()
	vctx, err := validation.New(validation.WithValidationTime(p.now))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := vctx.Initialize(provider); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return vctx
}

func validate(t *testing.T, vctx *validation.Context) {
	t.Helper()
	if err := vctx.Validate(context.Background()); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func certIDs(certs []*token.CertificateToken) []token.Identifier {
	out := make([]token.Identifier, 0, len(certs))
	for _, c := range certs {
		out = append(out, c.ID())
	}
	return out
}

type queryResults struct {
	RevocationPresent bool
	NotRevoked        bool
	TimestampsValid   bool
	Fresh             bool
	NotExpired        bool
	POECovered        bool
}

func queries(vctx *validation.Context) queryResults {
	return queryResults{
		RevocationPresent: vctx.CheckAllRequiredRevocationDataPresent(),
		NotRevoked:        vctx.CheckAllSignatureCertificatesNotRevoked(),
		TimestampsValid:   vctx.CheckAllTimestampsValid(),
		Fresh:             vctx.CheckAllSignatureCertificateHaveFreshRevocationData(),
		NotExpired:        vctx.CheckAllSignaturesNotExpired(),
		POECovered:        vctx.CheckAllPOECoveredByRevocationData(),
	}
}

func TestNewOptions(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	vctx, err := validation.New(validation.WithClock(clock))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !vctx.CurrentTime().Equal(clock.Now()) {
		t.Errorf("CurrentTime() = %v, want %v", vctx.CurrentTime(), clock.Now())
	}
	clock.Advance(time.Hour)
	if vctx.CurrentTime().Equal(clock.Now()) {
		t.Error("CurrentTime() must be fixed at creation")
	}

	fixed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	vctx, err = validation.New(validation.WithClock(clock), validation.WithValidationTime(fixed))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !vctx.CurrentTime().Equal(fixed) {
		t.Errorf("CurrentTime() = %v, want %v", vctx.CurrentTime(), fixed)
	}

	for name, opt := range map[string]validation.Option{
		"zero time":        validation.WithValidationTime(time.Time{}),
		"nil clock":        validation.WithClock(nil),
		"zero concurrency": validation.WithConcurrency(0),
	} {
		if _, err := validation.New(opt); !errors.Is(err, validation.ErrInvalidConfiguration) {
			t.Errorf("%s: New() error = %v, want ErrInvalidConfiguration", name, err)
		}
	}
}

func TestInitialize(t *testing.T) {
	p := newPKI(t)

	vctx, err := validation.New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := vctx.Validate(context.Background()); !errors.Is(err, validation.ErrNotInitialized) {
		t.Fatalf("Validate() before Initialize error = %v, want ErrNotInitialized", err)
	}
	if err := vctx.Initialize(validation.TrustProvider{}); !errors.Is(err, validation.ErrInvalidConfiguration) {
		t.Fatalf("Initialize() without anchors error = %v, want ErrInvalidConfiguration", err)
	}
	wrongKind := validation.TrustProvider{
		TrustAnchors: source.NewTrustedCertificateSource(p.root.Token),
		CRLSource:    source.NewListRevocationSource(token.RevocationOCSP),
	}
	if err := vctx.Initialize(wrongKind); !errors.Is(err, validation.ErrInvalidConfiguration) {
		t.Fatalf("Initialize() with OCSP as CRL source error = %v, want ErrInvalidConfiguration", err)
	}
	if err := vctx.Initialize(p.provider()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := vctx.Initialize(p.provider()); !errors.Is(err, validation.ErrAlreadyInitialized) {
		t.Fatalf("second Initialize() error = %v, want ErrAlreadyInitialized", err)
	}
	validate(t, vctx)
}

func TestRegistrationIsIdempotent(t *testing.T) {
	p := newPKI(t)
	vctx := newContext(t, p, p.provider())

	sig := p.signature("sig", nil)
	if !vctx.AddSignatureForVerification(sig) {
		t.Error("first AddSignatureForVerification() = false")
	}
	if vctx.AddSignatureForVerification(p.signature("sig", nil)) {
		t.Error("AddSignatureForVerification() accepted a signature with the same identity")
	}
	if !vctx.AddCertificateTokenForVerification(p.tsa.Token) || vctx.AddCertificateTokenForVerification(p.tsa.Token) {
		t.Error("AddCertificateTokenForVerification() is not idempotent")
	}
	ts := p.tsa.Timestamp(t, token.ContentTimestamp, p.now, []byte("data"))
	if !vctx.AddTimestampTokenForVerification(ts) || vctx.AddTimestampTokenForVerification(ts) {
		t.Error("AddTimestampTokenForVerification() is not idempotent")
	}
	rev, err := token.NewCRLToken(p.inter.CRL(t, p.now, p.now.Add(time.Hour)), p.leaf.Token, token.OriginExternal)
	if err != nil {
		t.Fatalf("NewCRLToken() error = %v", err)
	}
	if !vctx.AddRevocationTokenForVerification(rev) || vctx.AddRevocationTokenForVerification(rev) {
		t.Error("AddRevocationTokenForVerification() is not idempotent")
	}
	if vctx.AddSignatureForVerification(nil) || vctx.AddCertificateTokenForVerification(nil) {
		t.Error("nil tokens must be rejected")
	}
	if got := len(vctx.ProcessedSignatures()); got != 1 {
		t.Errorf("ProcessedSignatures() has %d entries, want 1", got)
	}
}

func TestEndToEnd(t *testing.T) {
	p := newPKI(t)
	vctx := newContext(t, p, p.provider())

	sig := p.signature("signature value", p.crls(t, p.now.Add(-time.Hour)))
	content := []byte("signed content")
	sig.AddTimestamp(p.tsa.Timestamp(t, token.ContentTimestamp, p.now.Add(-2*time.Hour), content), content)
	vctx.AddSignatureForVerification(sig)
	validate(t, vctx)

	if !vctx.CheckAllRequiredRevocationDataPresent() {
		t.Error("CheckAllRequiredRevocationDataPresent() = false")
	}
	if !vctx.CheckAllSignatureCertificatesNotRevoked() {
		t.Error("CheckAllSignatureCertificatesNotRevoked() = false")
	}
	if !vctx.CheckAllTimestampsValid() {
		t.Error("CheckAllTimestampsValid() = false")
	}
	if !vctx.CheckAllSignaturesNotExpired() {
		t.Error("CheckAllSignaturesNotExpired() = false")
	}

	chain, status := vctx.CertificateChain(p.leaf.Token.ID())
	if status != validation.ChainTrusted {
		t.Errorf("CertificateChain() status = %v, want trusted", status)
	}
	want := []token.Identifier{p.leaf.Token.ID(), p.inter.Token.ID(), p.root.Token.ID()}
	if diff := cmp.Diff(want, certIDs(chain)); diff != "" {
		t.Errorf("CertificateChain() mismatch (-want +got):\n%s", diff)
	}

	// A content timestamp does not prove the existence of the signature.
	if got := vctx.BestSignatureTime(sig); !got.Equal(p.now) {
		t.Errorf("BestSignatureTime() = %v, want validation time %v", got, p.now)
	}
	if got := len(vctx.RevocationsFor(p.tsa.Token.ID())); got != 1 {
		t.Errorf("RevocationsFor(tsa) has %d tokens, want 1", got)
	}

	data := vctx.ValidationData(sig)
	if len(data.Certificates) != 4 {
		t.Errorf("ValidationData() has %d certificates, want 4", len(data.Certificates))
	}
	if len(data.Revocations) != 3 {
		t.Errorf("ValidationData() has %d revocations, want 3", len(data.Revocations))
	}
	if len(data.Timestamps) != 1 {
		t.Errorf("ValidationData() has %d timestamps, want 1", len(data.Timestamps))
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	p := newPKI(t)
	vctx := newContext(t, p, p.provider())

	sig := p.signature("signature value", p.crls(t, p.now.Add(-time.Hour)))
	sig.AddTimestamp(p.tsa.Timestamp(t, token.SignatureTimestamp, p.now.Add(-2*time.Hour), []byte("signature value")), []byte("signature value"))
	vctx.AddSignatureForVerification(sig)

	validate(t, vctx)
	certs := certIDs(vctx.ProcessedCertificates())
	revocations := len(vctx.ProcessedRevocations())
	poes := vctx.POE().Len()
	first := queries(vctx)

	validate(t, vctx)
	if diff := cmp.Diff(certs, certIDs(vctx.ProcessedCertificates())); diff != "" {
		t.Errorf("processed certificates changed (-first +second):\n%s", diff)
	}
	if got := len(vctx.ProcessedRevocations()); got != revocations {
		t.Errorf("processed revocations = %d, want %d", got, revocations)
	}
	if got := vctx.POE().Len(); got != poes {
		t.Errorf("POE count = %d, want %d", got, poes)
	}
	if diff := cmp.Diff(first, queries(vctx)); diff != "" {
		t.Errorf("aggregate queries changed (-first +second):\n%s", diff)
	}
}

func TestValidateIsMonotonic(t *testing.T) {
	p := newPKI(t)
	vctx := newContext(t, p, p.provider())

	vctx.AddSignatureForVerification(p.signature("first", p.crls(t, p.now.Add(-time.Hour))))
	validate(t, vctx)
	before := certIDs(vctx.ProcessedCertificates())

	other := testpki.Leaf(t, p.inter, "Second Signer")
	second := validation.NewSignatureData([]byte("second"), other.Token)
	vctx.AddSignatureForVerification(second)
	validate(t, vctx)
	after := certIDs(vctx.ProcessedCertificates())

	if len(after) <= len(before) {
		t.Fatalf("processed certificates did not grow: %d -> %d", len(before), len(after))
	}
	if diff := cmp.Diff(before, after[:len(before)]); diff != "" {
		t.Errorf("earlier certificates were dropped (-before +after):\n%s", diff)
	}
	if _, status := vctx.CertificateChain(other.Token.ID()); status != validation.ChainTrusted {
		t.Errorf("second signer chain status = %v, want trusted", status)
	}
}

func TestCycleTerminates(t *testing.T) {
	p := newPKI(t)
	a, b := testpki.Cycle(t)
	vctx := newContext(t, p, p.provider())

	vctx.AddDocumentCertificateSource(source.NewCommonCertificateSource(source.TypeSignature, a.Token, b.Token))
	vctx.AddCertificateTokenForVerification(a.Token)

	done := make(chan error, 1)
	go func() { done <- vctx.Validate(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Validate() did not terminate on an issuer cycle")
	}

	got := certIDs(vctx.ProcessedCertificates())
	if diff := cmp.Diff([]token.Identifier{a.Token.ID(), b.Token.ID()}, got); diff != "" {
		t.Errorf("ProcessedCertificates() mismatch (-want +got):\n%s", diff)
	}
	chain, status := vctx.CertificateChain(a.Token.ID())
	if status != validation.ChainIncomplete {
		t.Errorf("CertificateChain() status = %v, want incomplete", status)
	}
	if len(chain) != 2 {
		t.Errorf("CertificateChain() has %d certificates, want 2", len(chain))
	}
}

func TestRevocationFreshness(t *testing.T) {
	tests := []struct {
		name       string
		thisUpdate time.Duration
		want       bool
	}{
		{"produced after best signature time", -time.Hour, true},
		{"produced at best signature time", -2 * time.Hour, false},
		{"produced before best signature time", -3 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPKI(t)
			// CRL times have second precision.
			p.now = p.now.Truncate(time.Second)
			vctx := newContext(t, p, p.provider())

			value := []byte("signature value")
			sig := p.signature(string(value), p.crls(t, p.now.Add(tt.thisUpdate)))
			tsTime := p.now.Add(-2 * time.Hour)
			sig.AddTimestamp(p.tsa.Timestamp(t, token.SignatureTimestamp, tsTime, value), value)
			vctx.AddSignatureForVerification(sig)
			validate(t, vctx)

			if got := vctx.BestSignatureTime(sig); !got.Equal(tsTime) {
				t.Fatalf("BestSignatureTime() = %v, want %v", got, tsTime)
			}
			if got := vctx.CheckAllSignatureCertificateHaveFreshRevocationData(); got != tt.want {
				t.Errorf("CheckAllSignatureCertificateHaveFreshRevocationData() = %v, want %v", got, tt.want)
			}
			if got := vctx.CheckAllPOECoveredByRevocationData(); got != tt.want {
				t.Errorf("CheckAllPOECoveredByRevocationData() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRevokedSigningCertificate(t *testing.T) {
	tests := []struct {
		name   string
		poeAgo time.Duration
		want   bool
	}{
		{"no proof of existence", 0, false},
		{"proof of existence before revocation", 3 * time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPKI(t)
			vctx := newContext(t, p, p.provider())

			value := []byte("signature value")
			sig := p.signature(string(value), p.crls(t, p.now.Add(-time.Hour), p.leaf))
			if tt.poeAgo > 0 {
				sig.AddTimestamp(p.tsa.Timestamp(t, token.SignatureTimestamp, p.now.Add(-tt.poeAgo), value), value)
			}
			vctx.AddSignatureForVerification(sig)
			validate(t, vctx)

			if got := vctx.CheckAllSignatureCertificatesNotRevoked(); got != tt.want {
				t.Errorf("CheckAllSignatureCertificatesNotRevoked() = %v, want %v", got, tt.want)
			}
			if vctx.CheckCertificateNotRevoked(p.leaf.Token) {
				t.Error("CheckCertificateNotRevoked(leaf) = true, want false")
			}
			if !vctx.CheckCertificateNotRevoked(p.inter.Token) {
				t.Error("CheckCertificateNotRevoked(intermediate) = false, want true")
			}
		})
	}
}

func TestExpiredSigningCertificate(t *testing.T) {
	p := newPKI(t)
	expired := testpki.New(t, p.inter, testpki.Options{
		CommonName: "Expired Signer",
		NotBefore:  p.now.Add(-48 * time.Hour),
		NotAfter:   p.now.Add(-time.Hour),
	})
	value := []byte("signature value")

	vctx := newContext(t, p, p.provider())
	sig := validation.NewSignatureData(value, expired.Token)
	vctx.AddSignatureForVerification(sig)
	validate(t, vctx)
	if vctx.CheckAllSignaturesNotExpired() {
		t.Error("CheckAllSignaturesNotExpired() = true for an expired certificate without POE")
	}

	vctx = newContext(t, p, p.provider())
	sig = validation.NewSignatureData(value, expired.Token)
	sig.AddTimestamp(p.tsa.Timestamp(t, token.SignatureTimestamp, p.now.Add(-2*time.Hour), value), value)
	vctx.AddSignatureForVerification(sig)
	validate(t, vctx)
	if !vctx.CheckAllSignaturesNotExpired() {
		t.Error("CheckAllSignaturesNotExpired() = false although a POE lies inside the validity window")
	}
}

func TestMissingIssuerIsRecorded(t *testing.T) {
	p := newPKI(t)
	vctx := newContext(t, p, p.provider())

	vctx.AddSignatureForVerification(validation.NewSignatureData([]byte("sig"), p.leaf.Token))
	validate(t, vctx)

	gaps := vctx.Unavailable(p.leaf.Token.ID())
	var ops []string
	for _, gap := range gaps {
		ops = append(ops, gap.Op)
	}
	if diff := cmp.Diff([]string{validation.OpIssuer, validation.OpRevocation}, ops); diff != "" {
		t.Errorf("Unavailable() ops mismatch (-want +got):\n%s", diff)
	}
	if _, status := vctx.CertificateChain(p.leaf.Token.ID()); status != validation.ChainIncomplete {
		t.Errorf("CertificateChain() status = %v, want incomplete", status)
	}
	if vctx.CheckAllRequiredRevocationDataPresent() {
		t.Error("CheckAllRequiredRevocationDataPresent() = true without revocation data")
	}

	// A late document source reopens the resolution.
	vctx.AddDocumentCertificateSource(source.NewCommonCertificateSource(source.TypeSignature, p.inter.Token))
	vctx.AddDocumentCRLSource(p.crls(t, p.now.Add(-time.Hour)))
	validate(t, vctx)
	if _, status := vctx.CertificateChain(p.leaf.Token.ID()); status != validation.ChainTrusted {
		t.Errorf("CertificateChain() status after new sources = %v, want trusted", status)
	}
	if !vctx.CheckAllRequiredRevocationDataPresent() {
		t.Error("CheckAllRequiredRevocationDataPresent() = false after adding CRLs")
	}
}

func TestLateIssuerRebindsRevocationData(t *testing.T) {
	p := newPKI(t)
	crls := p.crls(t, p.now.Add(-time.Hour))

	vctx := newContext(t, p, p.provider())
	sig := validation.NewSignatureData([]byte("late issuer"), p.leaf.Token)
	sig.CRLs = crls
	vctx.AddSignatureForVerification(sig)
	validate(t, vctx)
	if vctx.CheckAllRequiredRevocationDataPresent() {
		t.Fatal("CheckAllRequiredRevocationDataPresent() = true before the issuer is known")
	}

	vctx.AddDocumentCertificateSource(source.NewCommonCertificateSource(source.TypeSignature, p.inter.Token))
	validate(t, vctx)

	fresh := newContext(t, p, p.provider())
	fresh.AddSignatureForVerification(p.signature("late issuer", crls))
	validate(t, fresh)

	if diff := cmp.Diff(queries(fresh), queries(vctx)); diff != "" {
		t.Errorf("queries differ from a context given all data at once (-fresh +late):\n%s", diff)
	}
	facts, ok := vctx.CertificateFacts(p.leaf.Token)
	if !ok || len(facts.Revocations) != 1 {
		t.Fatalf("CertificateFacts(leaf) = %+v, %v; want one revocation", facts, ok)
	}
	rev := facts.Revocations[0]
	if rev.SignerID != p.inter.Token.ID() || !rev.SignatureValid {
		t.Errorf("revocation signer = %q valid = %v, want %q valid", rev.SignerID, rev.SignatureValid, p.inter.Token.ID())
	}
	if gaps := vctx.Unavailable(rev.Token.ID()); len(gaps) != 0 {
		t.Errorf("Unavailable(revocation) = %v, want none", gaps)
	}
	if gaps := vctx.Unavailable(p.leaf.Token.ID()); len(gaps) != 0 {
		t.Errorf("Unavailable(leaf) = %v, want none", gaps)
	}
}

type issuerSource struct {
	certs []*token.CertificateToken
	calls atomic.Int32
}

func (s *issuerSource) FetchIssuers(ctx context.Context, cert *token.CertificateToken) ([]*token.CertificateToken, error) {
	s.calls.Add(1)
	return s.certs, nil
}

type countingSource struct {
	kind  token.RevocationKind
	calls atomic.Int32
	src   source.RevocationSource
}

func (s *countingSource) Kind() token.RevocationKind { return s.kind }

func (s *countingSource) RevocationToken(ctx context.Context, cert, issuer *token.CertificateToken) (*token.RevocationToken, error) {
	s.calls.Add(1)
	if s.src == nil {
		return nil, errors.New("unreachable")
	}
	return s.src.RevocationToken(ctx, cert, issuer)
}

func TestExternalSources(t *testing.T) {
	p := newPKI(t)
	aia := &issuerSource{certs: []*token.CertificateToken{p.inter.Token}}
	ocspSource := &countingSource{kind: token.RevocationOCSP}
	crlSource := &countingSource{kind: token.RevocationCRL, src: p.crls(t, p.now.Add(-time.Hour))}

	provider := p.provider()
	provider.IssuerSource = aia
	provider.OCSPSource = ocspSource
	provider.CRLSource = crlSource
	vctx := newContext(t, p, provider)

	vctx.AddSignatureForVerification(validation.NewSignatureData([]byte("sig"), p.leaf.Token))
	validate(t, vctx)

	if _, status := vctx.CertificateChain(p.leaf.Token.ID()); status != validation.ChainTrusted {
		t.Errorf("CertificateChain() status = %v, want trusted", status)
	}
	if aia.calls.Load() == 0 {
		t.Error("issuer source was not consulted")
	}
	// leaf and intermediate each ask OCSP first, then fall back to CRL.
	if got := ocspSource.calls.Load(); got != 2 {
		t.Errorf("OCSP source calls = %d, want 2", got)
	}
	if got := crlSource.calls.Load(); got != 2 {
		t.Errorf("CRL source calls = %d, want 2", got)
	}
	if !vctx.CheckAllRequiredRevocationDataPresent() {
		t.Error("CheckAllRequiredRevocationDataPresent() = false")
	}
	var ops []string
	for _, gap := range vctx.Unavailable(p.leaf.Token.ID()) {
		ops = append(ops, gap.Op)
	}
	if diff := cmp.Diff([]string{validation.OpRevocation}, ops); diff != "" {
		t.Errorf("failed OCSP lookup not recorded (-want +got):\n%s", diff)
	}
}

func TestDocumentRevocationDataPreferred(t *testing.T) {
	p := newPKI(t)
	ocspSource := &countingSource{kind: token.RevocationOCSP}
	crlSource := &countingSource{kind: token.RevocationCRL}
	provider := p.provider()
	provider.OCSPSource = ocspSource
	provider.CRLSource = crlSource
	vctx := newContext(t, p, provider)

	vctx.AddSignatureForVerification(p.signature("sig", p.crls(t, p.now.Add(-time.Hour))))
	validate(t, vctx)

	if ocspSource.calls.Load() != 0 || crlSource.calls.Load() != 0 {
		t.Errorf("external sources consulted although the document holds revocation data: ocsp=%d crl=%d",
			ocspSource.calls.Load(), crlSource.calls.Load())
	}
}

func TestTimestampWithoutData(t *testing.T) {
	p := newPKI(t)
	vctx := newContext(t, p, p.provider())

	digest, err := token.SHA256.Sum([]byte("unknown"))
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	ts := p.tsa.TimestampDigest(t, token.ContentTimestamp, p.now, token.SHA256, digest, nil)
	vctx.AddTimestampTokenForVerification(ts)
	validate(t, vctx)

	if vctx.CheckAllTimestampsValid() {
		t.Error("CheckAllTimestampsValid() = true for a timestamp without known data")
	}
	gaps := vctx.Unavailable(ts.ID())
	if len(gaps) != 1 || gaps[0].Op != validation.OpTimestampData {
		t.Errorf("Unavailable() = %v, want one %s gap", gaps, validation.OpTimestampData)
	}
	facts, ok := vctx.TimestampFacts(ts)
	if !ok {
		t.Fatal("TimestampFacts() not found")
	}
	if !facts.SignatureValid || facts.ImprintFound {
		t.Errorf("TimestampFacts() = %+v, want valid signature and no imprint data", facts)
	}
	if facts.Signer == nil || facts.Signer.ID() != p.tsa.Token.ID() {
		t.Error("timestamp signer not resolved")
	}
}

func TestTimestampCoveringTokens(t *testing.T) {
	p := newPKI(t)
	vctx := newContext(t, p, p.provider())

	at := p.now.Add(-time.Hour)
	ts := p.tsa.Timestamp(t, token.ArchiveTimestampType, at, p.leaf.Token.Encoded(), p.leaf.Token.ID())
	vctx.AddTimestampTokenForVerification(ts)
	validate(t, vctx)

	got, ok := vctx.POE().Earliest(p.leaf.Token.ID())
	if !ok {
		t.Fatal("no POE for the covered certificate")
	}
	want := poe.POE{TokenID: p.leaf.Token.ID(), Time: at, Type: poe.FromTimestamp, SourceID: ts.ID()}
	if !got.Time.Equal(want.Time) || got.Type != want.Type || got.SourceID != want.SourceID {
		t.Errorf("Earliest() = %+v, want %+v", got, want)
	}
	if !vctx.CheckCertificateNotRevoked(p.leaf.Token) {
		t.Error("CheckCertificateNotRevoked() = false for an unknown certificate")
	}
}

func TestEvidenceRecordEstablishesPOE(t *testing.T) {
	p := newPKI(t)
	vctx := newContext(t, p, p.provider())

	data := []byte("archived document")
	digest, err := token.SHA256.Sum(data)
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	at := p.now.Add(-5 * time.Hour)
	ats := p.tsa.TimestampDigest(t, token.EvidenceRecordTimestamp, at, token.SHA256, digest, nil)
	sig := validation.NewSignatureData([]byte("archived signature"), p.leaf.Token)
	er, err := token.NewEvidenceRecordToken(token.EvidenceRecordParams{
		Chains: []token.ArchiveTimestampChain{{
			DigestAlgorithm: token.SHA256,
			Timestamps:      []token.ArchiveTimestamp{{Timestamp: ats}},
		}},
		ArchivedData: [][]byte{data},
	})
	if err != nil {
		t.Fatalf("NewEvidenceRecordToken() error = %v", err)
	}
	sig.Records = append(sig.Records, er)
	vctx.AddSignatureForVerification(sig)
	validate(t, vctx)

	if !vctx.CheckAllTimestampsValid() {
		t.Error("CheckAllTimestampsValid() = false for a matching archive timestamp")
	}
	if got := vctx.BestSignatureTime(sig); !got.Equal(at) {
		t.Errorf("BestSignatureTime() = %v, want %v", got, at)
	}
	facts, ok := vctx.SignatureFacts(sig)
	if !ok {
		t.Fatal("SignatureFacts() not found")
	}
	if len(facts.EvidenceRecords) != 1 || !facts.EvidenceRecords[0].Valid {
		t.Errorf("SignatureFacts().EvidenceRecords = %+v, want one valid record", facts.EvidenceRecords)
	}
	if got := len(vctx.ProcessedEvidenceRecords()); got != 1 {
		t.Errorf("ProcessedEvidenceRecords() has %d entries, want 1", got)
	}
}

func TestTamperedEvidenceRecord(t *testing.T) {
	p := newPKI(t)
	vctx := newContext(t, p, p.provider())

	digest, err := token.SHA256.Sum([]byte("original"))
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	ats := p.tsa.TimestampDigest(t, token.EvidenceRecordTimestamp, p.now.Add(-time.Hour), token.SHA256, digest, nil)
	target := token.SignatureIdentifier([]byte("target"))
	er, err := token.NewEvidenceRecordToken(token.EvidenceRecordParams{
		Chains: []token.ArchiveTimestampChain{{
			DigestAlgorithm: token.SHA256,
			Timestamps:      []token.ArchiveTimestamp{{Timestamp: ats}},
		}},
		ArchivedData: [][]byte{[]byte("tampered")},
		Covers:       []token.Identifier{target},
	})
	if err != nil {
		t.Fatalf("NewEvidenceRecordToken() error = %v", err)
	}
	vctx.AddEvidenceRecordForVerification(er)
	validate(t, vctx)

	if vctx.POE().Has(target) {
		t.Error("a tampered evidence record established POE")
	}
	if vctx.CheckAllTimestampsValid() {
		t.Error("CheckAllTimestampsValid() = true for a mismatching archive timestamp")
	}
	var ops []string
	for _, gap := range vctx.Unavailable(er.ID()) {
		ops = append(ops, gap.Op)
	}
	if diff := cmp.Diff([]string{validation.OpEvidenceRecord}, ops); diff != "" {
		t.Errorf("Unavailable() ops mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentResolution(t *testing.T) {
	p := newPKI(t)
	vctx, err := validation.New(validation.WithValidationTime(p.now), validation.WithConcurrency(4))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := vctx.Initialize(p.provider()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	crls := p.crls(t, p.now.Add(-time.Hour))
	vctx.AddDocumentCertificateSource(source.NewCommonCertificateSource(source.TypeSignature, p.inter.Token))
	vctx.AddDocumentCRLSource(crls)
	for i := range 10 {
		leaf := testpki.Leaf(t, p.inter, "Signer")
		vctx.AddSignatureForVerification(validation.NewSignatureData([]byte{byte(i)}, leaf.Token))
	}
	validate(t, vctx)

	if got := len(vctx.ProcessedCertificates()); got != 12 {
		t.Errorf("ProcessedCertificates() has %d entries, want 12", got)
	}
	if !vctx.CheckAllRequiredRevocationDataPresent() {
		t.Error("CheckAllRequiredRevocationDataPresent() = false")
	}
}
