// Package process turns the facts of a resolved validation context into
// policy verdicts, one report per signature.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/georgepadayatti/trustval/checks"
	"github.com/georgepadayatti/trustval/constraint"
	"github.com/georgepadayatti/trustval/policy"
	"github.com/georgepadayatti/trustval/token"
	"github.com/georgepadayatti/trustval/validation"
)

var (
	errNoSignature      = errors.New("no signature")
	errUnknownSignature = errors.New("signature is not registered in the validation context")
	errUnknownTimestamp = errors.New("timestamp is not registered in the validation context")
)

// TokenReport is the verdict on a timestamp or revocation token used by a
// signature.
type TokenReport struct {
	TokenID token.Identifier  `json:"token_id"`
	Result  constraint.Result `json:"result"`
}

// Report is the verdict on one signature.
type Report struct {
	ID                string            `json:"id"`
	SignatureID       token.Identifier  `json:"signature_id,omitempty"`
	Policy            string            `json:"policy"`
	ValidationTime    time.Time         `json:"validation_time"`
	BestSignatureTime time.Time         `json:"best_signature_time,omitempty"`
	Result            constraint.Result `json:"result"`
	Timestamps        []TokenReport     `json:"timestamps,omitempty"`
	Revocations       []TokenReport     `json:"revocations,omitempty"`
}

// Indication returns the conclusion indication of the signature.
func (r Report) Indication() constraint.Indication {
	return r.Result.Conclusion.Indication
}

// countersignature is implemented by signatures that know which signature
// they countersign.
type countersignature interface {
	CountersignedID() token.Identifier
}

// Validator evaluates signatures against a policy.
type Validator struct {
	policy     *policy.Policy
	logger     *slog.Logger
	compliance func(validation.Signature) bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger. Reports are logged at Info level.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithFormatCompliance supplies the format compliance verdict of each
// signature, such as PDF/A conformance of its container. Without it the
// format compliance check is not run.
func WithFormatCompliance(fn func(validation.Signature) bool) Option {
	return func(v *Validator) { v.compliance = fn }
}

// NewValidator creates a validator for p. A nil policy selects the built-in
// default policy.
func NewValidator(p *policy.Policy, opts ...Option) *Validator {
	if p == nil {
		p = policy.Default()
	}
	v := &Validator{
		policy: p,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateAll registers sigs in vctx, resolves it and evaluates every
// signature. A signature that cannot be evaluated gets an
// INDETERMINATE/POLICY_PROCESSING_ERROR report; the batch always yields one
// report per entry of sigs. Only a failure to resolve the context is returned
// as an error.
func ValidateAll(ctx context.Context, vctx *validation.Context, p *policy.Policy, sigs []validation.Signature) ([]Report, error) {
	return NewValidator(p).ValidateAll(ctx, vctx, sigs)
}

// ValidateAll is the method form of the package level ValidateAll.
func (v *Validator) ValidateAll(ctx context.Context, vctx *validation.Context, sigs []validation.Signature) ([]Report, error) {
	for _, sig := range sigs {
		if sig != nil {
			vctx.AddSignatureForVerification(sig)
		}
	}
	if err := vctx.Validate(ctx); err != nil {
		return nil, fmt.Errorf("failed to resolve validation data: %w", err)
	}
	reports := make([]Report, 0, len(sigs))
	for _, sig := range sigs {
		reports = append(reports, v.ValidateSignature(vctx, sig))
	}
	return reports, nil
}

// ValidateSignature evaluates one signature of a resolved context.
func (v *Validator) ValidateSignature(vctx *validation.Context, sig validation.Signature) (report Report) {
	report = Report{
		ID:             uuid.NewString(),
		Policy:         v.policy.Name,
		ValidationTime: vctx.CurrentTime(),
	}
	title := "signature"
	defer func() {
		if r := recover(); r != nil {
			report.Result = constraint.ProcessingFailure(title, fmt.Errorf("evaluation panicked: %v", r))
			v.logger.Error("Signature evaluation failed", "signature", report.SignatureID, "panic", r)
		}
	}()

	if sig == nil {
		report.Result = constraint.ProcessingFailure(title, errNoSignature)
		return report
	}
	report.SignatureID = sig.ID()
	title = "signature " + string(sig.ID())

	f, ok := vctx.SignatureFacts(sig)
	if !ok {
		report.Result = constraint.ProcessingFailure(title, errUnknownSignature)
		return report
	}
	report.BestSignatureTime = f.BestSignatureTime
	report.Result = v.signatureChain(title, sig, f).Execute()

	for _, ts := range f.Timestamps {
		report.Timestamps = append(report.Timestamps, TokenReport{
			TokenID: ts.Token.ID(),
			Result:  v.timestampChain(ts).Execute(),
		})
	}
	report.Revocations = v.revocationReports(vctx, f)

	c := report.Result.Conclusion
	v.logger.Info("Signature validated",
		"signature", report.SignatureID,
		"indication", c.Indication,
		"sub_indication", c.SubIndication,
		"warnings", len(c.Warnings),
	)
	return report
}

// ValidateTimestamp evaluates one timestamp of a resolved context.
func (v *Validator) ValidateTimestamp(vctx *validation.Context, ts *token.TimestampToken) TokenReport {
	if ts == nil {
		return TokenReport{Result: constraint.ProcessingFailure("timestamp", errUnknownTimestamp)}
	}
	f, ok := vctx.TimestampFacts(ts)
	if !ok {
		return TokenReport{TokenID: ts.ID(), Result: constraint.ProcessingFailure("timestamp "+string(ts.ID()), errUnknownTimestamp)}
	}
	return TokenReport{TokenID: ts.ID(), Result: v.timestampChain(f).Execute()}
}

func (v *Validator) signatureChain(title string, sig validation.Signature, f validation.SignatureFacts) *constraint.Chain {
	pctx := policy.ContextSignature
	if cs, ok := sig.(countersignature); ok && cs.CountersignedID() != "" {
		pctx = policy.ContextCounterSignature
	}
	cons := v.policy.Constraints(pctx)

	chain := constraint.NewChain(title)
	if v.compliance != nil {
		chain.Add(checks.FormatCompliance(cons.FormatCompliance, v.compliance(sig)))
	}
	chain.Add(
		checks.SigningCertificateFound(cons.SigningCertificateFound, f.SigningCertificate),
		checks.TrustedChain(cons.TrustedChain, f.ChainStatus),
	)
	if len(f.Chain) > 0 {
		poeTimes := f.POETimes()
		validity := append([]time.Time{f.CurrentTime}, poeTimes...)
		addCertificateChecks(chain, v.policy.CertificateConstraints(pctx, policy.SubContextSigningCert),
			f.Chain[0], f.BestSignatureTime, poeTimes, validity)
		for _, ca := range f.Chain[1:] {
			if ca.Trusted {
				continue
			}
			addCertificateChecks(chain, v.policy.CertificateConstraints(pctx, policy.SubContextCACert),
				ca, f.BestSignatureTime, poeTimes, validity)
		}
	}
	chain.Add(checks.TimestampsValid(cons.TimestampsValid, f.Timestamps))

	records := v.policy.Constraints(policy.ContextEvidenceRecord)
	for _, er := range f.EvidenceRecords {
		chain.Add(checks.EvidenceRecordIntact(records.MessageImprint, er))
	}
	return chain
}

func (v *Validator) timestampChain(f validation.TimestampFacts) *constraint.Chain {
	cons := v.policy.Constraints(policy.ContextTimestamp)
	chain := constraint.NewChain("timestamp " + string(f.Token.ID())).Add(
		checks.SigningCertificateFound(cons.SigningCertificateFound, f.Signer),
		checks.SignatureIntact(cons.SignatureIntact, f.SignatureValid),
		checks.TrustedChain(cons.TrustedChain, f.ChainStatus),
		checks.TimestampMessageImprint(cons.MessageImprint, f),
	)
	if len(f.Chain) > 0 {
		generation := f.Token.GenerationTime()
		addCertificateChecks(chain, v.policy.CertificateConstraints(policy.ContextTimestamp, policy.SubContextSigningCert),
			f.Chain[0], generation, nil, []time.Time{generation})
	}
	return chain
}

// revocationReports evaluates the revocation data of every certificate in the
// signing certificate chain.
func (v *Validator) revocationReports(vctx *validation.Context, f validation.SignatureFacts) []TokenReport {
	cons := v.policy.Constraints(policy.ContextRevocation)
	var reports []TokenReport
	for _, cert := range f.Chain {
		for _, rev := range cert.Revocations {
			_, status := vctx.CertificateChain(rev.SignerID)
			chain := constraint.NewChain("revocation "+string(rev.Token.ID())).Add(
				checks.SignatureIntact(cons.SignatureIntact, rev.SignatureValid),
				checks.TrustedChain(cons.TrustedChain, status),
			)
			reports = append(reports, TokenReport{TokenID: rev.Token.ID(), Result: chain.Execute()})
		}
	}
	return reports
}

func addCertificateChecks(chain *constraint.Chain, cc *policy.CertificateConstraints, f validation.CertificateFacts, best time.Time, poeTimes, validity []time.Time) {
	cert := f.Certificate
	chain.Add(
		checks.KeyUsage(cc.KeyUsage, cert),
		checks.ExtendedKeyUsage(cc.ExtendedKeyUsage, cert),
		checks.QCLegislation(cc.QCLegislation, cert),
		checks.Title(cc.Title, cert),
		checks.CertificateNotExpired(cc.NotExpired, f, validity...),
		checks.CertificateNotRevoked(cc.NotRevoked, f, poeTimes),
		checks.RevocationDataAvailable(cc.RevocationDataAvailable, f),
		checks.RevocationFresh(cc.RevocationFresh, f, best),
	)
}
