package process

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/georgepadayatti/trustval/constraint"
	"github.com/georgepadayatti/trustval/internal/testpki"
	"github.com/georgepadayatti/trustval/policy"
	"github.com/georgepadayatti/trustval/source"
	"github.com/georgepadayatti/trustval/token"
	"github.com/georgepadayatti/trustval/validation"
)

type fixture struct {
	root  *testpki.Entity
	inter *testpki.Entity
	leaf  *testpki.Entity
	tsa   *testpki.Entity
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := testpki.Root(t, "Process Root")
	inter := testpki.Intermediate(t, root, "Process Intermediate")
	return &fixture{
		root:  root,
		inter: inter,
		leaf:  testpki.Leaf(t, inter, "Process Signer"),
		tsa:   testpki.TSA(t, inter, "Process TSA"),
		now:   time.Now(),
	}
}

func (f *fixture) context(t *testing.T, anchors ...*testpki.Entity) *validation.Context {
	t.Helper()
	if len(anchors) == 0 {
		anchors = []*testpki.Entity{f.root}
	}
	trusted := source.NewTrustedCertificateSource()
	for _, a := range anchors {
		trusted.Add(a.Token)
	}
	vctx, err := validation.New(validation.WithValidationTime(f.now))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := vctx.Initialize(validation.TrustProvider{TrustAnchors: trusted}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return vctx
}

// signature returns a signature by the leaf with a content timestamp and CRLs
// for the whole chain.
func (f *fixture) signature(t *testing.T, value string, revoked ...*testpki.Entity) *validation.SignatureData {
	t.Helper()
	thisUpdate := f.now.Add(-time.Hour)
	crls, err := source.NewOfflineCRLSource(
		f.inter.CRL(t, thisUpdate, f.now.Add(24*time.Hour), revoked...),
		f.root.CRL(t, thisUpdate, f.now.Add(24*time.Hour)),
	)
	if err != nil {
		t.Fatalf("NewOfflineCRLSource() error = %v", err)
	}
	sig := validation.NewSignatureData([]byte(value), f.leaf.Token)
	sig.Certificates = source.NewCommonCertificateSource(source.TypeSignature, f.leaf.Token, f.inter.Token)
	sig.CRLs = crls

	content := []byte("signed content of " + value)
	sig.AddTimestamp(f.tsa.Timestamp(t, token.ContentTimestamp, f.now.Add(-2*time.Hour), content), content)
	return sig
}

func validateAll(t *testing.T, v *Validator, vctx *validation.Context, sigs ...validation.Signature) []Report {
	t.Helper()
	reports, err := v.ValidateAll(context.Background(), vctx, sigs)
	if err != nil {
		t.Fatalf("ValidateAll() error = %v", err)
	}
	if len(reports) != len(sigs) {
		t.Fatalf("ValidateAll() returned %d reports, want %d", len(reports), len(sigs))
	}
	return reports
}

func TestEndToEndPassed(t *testing.T) {
	f := newFixture(t)
	vctx := f.context(t)
	sig := f.signature(t, "signature")

	var logs bytes.Buffer
	v := NewValidator(nil, WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	report := validateAll(t, v, vctx, sig)[0]

	if !vctx.CheckAllRequiredRevocationDataPresent() || !vctx.CheckAllSignatureCertificatesNotRevoked() || !vctx.CheckAllTimestampsValid() {
		t.Fatal("context queries failed on a complete signature")
	}
	c := report.Result.Conclusion
	if c.Indication != constraint.Passed || c.SubIndication != "" {
		t.Fatalf("Conclusion = %s/%s, errors %v, want PASSED", c.Indication, c.SubIndication, c.Errors)
	}
	// The content timestamp proves nothing about the signature, so the CRLs
	// issued before the validation time are not fresh.
	if len(c.Warnings) == 0 || c.Warnings[0].Tag != constraint.ErrRevocationNotFresh {
		t.Errorf("Warnings = %v, want a revocation freshness warning", c.Warnings)
	}
	if report.SignatureID != sig.ID() || report.Policy != "default" || report.ID == "" {
		t.Errorf("report header = %q %q %q", report.ID, report.SignatureID, report.Policy)
	}
	if !report.BestSignatureTime.Equal(f.now) {
		t.Errorf("BestSignatureTime = %v, want %v", report.BestSignatureTime, f.now)
	}

	if len(report.Timestamps) != 1 || report.Timestamps[0].Result.Conclusion.Indication != constraint.Passed {
		t.Errorf("timestamp reports = %+v, want one PASSED", report.Timestamps)
	}
	if len(report.Revocations) != 2 {
		t.Errorf("got %d revocation reports, want 2", len(report.Revocations))
	}
	for _, r := range report.Revocations {
		if r.Result.Conclusion.Indication != constraint.Passed || len(r.Result.Conclusion.Warnings) != 0 {
			t.Errorf("revocation %s conclusion = %+v", r.TokenID, r.Result.Conclusion)
		}
	}

	if !strings.Contains(logs.String(), `"msg":"Signature validated"`) {
		t.Errorf("missing report log line in %s", logs.String())
	}
	if _, err := json.Marshal(report); err != nil {
		t.Errorf("json.Marshal(report) error = %v", err)
	}
}

func TestRevokedSigningCertificate(t *testing.T) {
	f := newFixture(t)
	vctx := f.context(t)
	report := validateAll(t, NewValidator(policy.Default()), vctx, f.signature(t, "revoked", f.leaf))[0]

	c := report.Result.Conclusion
	if c.Indication != constraint.Indeterminate || c.SubIndication != constraint.RevokedNoPOE {
		t.Errorf("Conclusion = %s/%s, want INDETERMINATE/REVOKED_NO_POE", c.Indication, c.SubIndication)
	}
	last := report.Result.Outcomes[len(report.Result.Outcomes)-1]
	if last.Tag != constraint.MsgCertificateNotRevoked || last.Status != constraint.StatusNotOK {
		t.Errorf("last outcome = %+v, want the failed revocation check", last)
	}
}

func TestUntrustedChain(t *testing.T) {
	f := newFixture(t)
	other := testpki.Root(t, "Other Root")
	vctx := f.context(t, other)
	report := validateAll(t, NewValidator(nil), vctx, f.signature(t, "untrusted"))[0]

	c := report.Result.Conclusion
	if c.Indication != constraint.Indeterminate || c.SubIndication != constraint.NoCertificateChainFound {
		t.Errorf("Conclusion = %s/%s, want INDETERMINATE/NO_CERTIFICATE_CHAIN_FOUND", c.Indication, c.SubIndication)
	}
	if got := len(report.Result.Outcomes); got != 2 {
		t.Errorf("got %d outcomes, want the chain to stop after the trust check", got)
	}
}

func TestCounterSignaturePolicy(t *testing.T) {
	f := newFixture(t)
	other := testpki.Root(t, "Other Root")
	vctx := f.context(t, other)

	main := f.signature(t, "main")
	counter := f.signature(t, "counter")
	counter.Countersigned = main.ID()
	reports := validateAll(t, NewValidator(nil), vctx, main, counter)

	if got := reports[0].Indication(); got != constraint.Indeterminate {
		t.Errorf("main signature indication = %s, want INDETERMINATE", got)
	}
	c := reports[1].Result.Conclusion
	if c.Indication != constraint.Passed {
		t.Errorf("countersignature indication = %s, want PASSED", c.Indication)
	}
	if len(c.Warnings) == 0 || c.Warnings[0].Tag != constraint.ErrChainNotTrusted {
		t.Errorf("countersignature warnings = %v, want an untrusted chain warning", c.Warnings)
	}
}

func TestValidateAllNeverAborts(t *testing.T) {
	f := newFixture(t)
	vctx := f.context(t)

	orphan := validation.NewSignatureData([]byte("orphan"), nil)
	reports := validateAll(t, NewValidator(nil), vctx, nil, orphan, f.signature(t, "good"))

	want := []struct {
		indication constraint.Indication
		sub        constraint.SubIndication
	}{
		{constraint.Indeterminate, constraint.PolicyProcessingError},
		{constraint.Indeterminate, constraint.NoSigningCertificateFound},
		{constraint.Passed, ""},
	}
	for i, w := range want {
		c := reports[i].Result.Conclusion
		if c.Indication != w.indication || c.SubIndication != w.sub {
			t.Errorf("report %d conclusion = %s/%s, want %s/%s", i, c.Indication, c.SubIndication, w.indication, w.sub)
		}
	}
}

func TestUnregisteredTokens(t *testing.T) {
	f := newFixture(t)
	vctx := f.context(t)
	v := NewValidator(nil)

	report := v.ValidateSignature(vctx, f.signature(t, "unregistered"))
	if report.Result.Conclusion.SubIndication != constraint.PolicyProcessingError {
		t.Errorf("unregistered signature conclusion = %+v", report.Result.Conclusion)
	}
	ts := f.tsa.Timestamp(t, token.ContentTimestamp, f.now, []byte("data"))
	if got := v.ValidateTimestamp(vctx, ts); got.Result.Conclusion.SubIndication != constraint.PolicyProcessingError {
		t.Errorf("unregistered timestamp conclusion = %+v", got.Result.Conclusion)
	}
}

func TestValidateTimestamp(t *testing.T) {
	f := newFixture(t)
	vctx := f.context(t)
	sig := f.signature(t, "timestamped")
	validateAll(t, NewValidator(nil), vctx, sig)

	broken := f.tsa.TimestampDigest(t, token.ContentTimestamp, f.now, token.SHA256, make([]byte, 32), []byte("original"))
	vctx.AddTimestampTokenForVerification(broken)
	if err := vctx.Validate(context.Background()); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	v := NewValidator(nil)
	if got := v.ValidateTimestamp(vctx, sig.Timestamps()[0]); got.Result.Conclusion.Indication != constraint.Passed {
		t.Errorf("attached timestamp conclusion = %+v, want PASSED", got.Result.Conclusion)
	}
	got := v.ValidateTimestamp(vctx, broken).Result.Conclusion
	if got.Indication != constraint.Failed || got.SubIndication != constraint.HashFailure {
		t.Errorf("broken timestamp conclusion = %s/%s, want FAILED/HASH_FAILURE", got.Indication, got.SubIndication)
	}
}

func TestFormatCompliance(t *testing.T) {
	p, err := policy.Parse([]byte("name: pdfa\nsignature:\n  pdfa-compliance:\n    level: FAIL\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	f := newFixture(t)
	vctx := f.context(t)
	v := NewValidator(p, WithFormatCompliance(func(validation.Signature) bool { return false }))
	report := validateAll(t, v, vctx, f.signature(t, "pdf"))[0]

	c := report.Result.Conclusion
	if c.Indication != constraint.Failed || c.SubIndication != constraint.FormatFailure {
		t.Errorf("Conclusion = %s/%s, want FAILED/FORMAT_FAILURE", c.Indication, c.SubIndication)
	}
	if len(report.Result.Outcomes) != 1 {
		t.Errorf("got %d outcomes, want 1", len(report.Result.Outcomes))
	}
}
