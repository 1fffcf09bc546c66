// Package checks holds the building-block checks evaluated by constraint
// chains. Every check is pure: it reads a snapshot taken from the validation
// context and never changes it.
package checks

import (
	"errors"
	"strings"
	"time"

	"github.com/georgepadayatti/trustval/constraint"
	"github.com/georgepadayatti/trustval/policy"
	"github.com/georgepadayatti/trustval/token"
	"github.com/georgepadayatti/trustval/validation"
)

// FormatCompliance checks an externally supplied compliance verdict, such as
// PDF/A conformance of the container.
func FormatCompliance(c *policy.LevelConstraint, compliant bool) *constraint.Check {
	return constraint.NewCheck(c, constraint.MsgFormatCompliant, constraint.ErrFormatNotCompliant,
		func() (bool, error) { return compliant, nil }).
		WithFailure(constraint.Failed, constraint.FormatFailure)
}

// SigningCertificateFound checks that the signing certificate is identified.
func SigningCertificateFound(c *policy.LevelConstraint, cert *token.CertificateToken) *constraint.Check {
	return constraint.NewCheck(c, constraint.MsgSigningCertificateFound, constraint.ErrSigningCertificateAbsent,
		func() (bool, error) { return cert != nil, nil }).
		WithFailure(constraint.Indeterminate, constraint.NoSigningCertificateFound)
}

// SignatureIntact checks a cryptographic signature verdict.
func SignatureIntact(c *policy.LevelConstraint, valid bool) *constraint.Check {
	return constraint.NewCheck(c, constraint.MsgSignatureIntact, constraint.ErrSignatureIntact,
		func() (bool, error) { return valid, nil }).
		WithFailure(constraint.Failed, constraint.SigCryptoFailure)
}

// TrustedChain checks that a certificate chain reaches a trust anchor.
func TrustedChain(c *policy.LevelConstraint, status validation.ChainStatus) *constraint.Check {
	return constraint.NewCheck(c, constraint.MsgTrustedChain, constraint.ErrChainNotTrusted,
		func() (bool, error) { return status == validation.ChainTrusted, nil }).
		WithFailure(constraint.Indeterminate, constraint.NoCertificateChainFound).
		WithInfo("chain: " + status.String())
}

// TimestampsValid checks that every timestamp has a valid signature and message imprint.
func TimestampsValid(c *policy.LevelConstraint, timestamps []validation.TimestampFacts) *constraint.Check {
	var invalid []string
	for _, ts := range timestamps {
		if !ts.Valid() {
			invalid = append(invalid, string(ts.Token.ID()))
		}
	}
	check := constraint.NewCheck(c, constraint.MsgTimestampsValid, constraint.ErrTimestampsInvalid,
		func() (bool, error) { return len(invalid) == 0, nil }).
		WithFailure(constraint.Indeterminate, constraint.SigConstraintsFailure)
	if len(invalid) > 0 {
		check.WithInfo("invalid: " + strings.Join(invalid, ", "))
	}
	return check
}

// TimestampMessageImprint checks that a timestamp imprint matches its data.
// A timestamp whose data could not be located fails with SIGNED_DATA_NOT_FOUND.
func TimestampMessageImprint(c *policy.LevelConstraint, f validation.TimestampFacts) *constraint.Check {
	check := constraint.NewCheck(c, constraint.MsgMessageImprint, constraint.ErrMessageImprint,
		func() (bool, error) { return f.ImprintValid, nil })
	if !f.ImprintFound {
		return check.WithFailure(constraint.Indeterminate, constraint.SignedDataNotFound)
	}
	return check.WithFailure(constraint.Failed, constraint.HashFailure)
}

// EvidenceRecordIntact checks that the hash trees of an evidence record cover
// the archived data and that its archive timestamps are valid.
func EvidenceRecordIntact(c *policy.LevelConstraint, f validation.EvidenceRecordFacts) *constraint.Check {
	return constraint.NewCheck(c, constraint.MsgMessageImprint, constraint.ErrMessageImprint,
		func() (bool, error) {
			if f.Token == nil {
				return false, errors.New("evidence record missing")
			}
			return f.Valid, nil
		}).
		WithFailure(constraint.Failed, constraint.HashFailure).
		WithInfo("evidence record: " + recordID(f))
}

func recordID(f validation.EvidenceRecordFacts) string {
	if f.Token == nil {
		return ""
	}
	return string(f.Token.ID())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
