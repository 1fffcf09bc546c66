package checks

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/georgepadayatti/trustval/constraint"
	"github.com/georgepadayatti/trustval/policy"
	"github.com/georgepadayatti/trustval/token"
	"github.com/georgepadayatti/trustval/validation"
)

// Certificate checks fail with INDETERMINATE/CHAIN_CONSTRAINTS_FAILURE unless
// stated otherwise. Callers adjust the codes with WithFailure where the
// context demands it.

// ExtendedKeyUsage checks that the certificate declares one of the accepted
// extended key usages, matched by name or dotted OID. A wildcard accepts any
// certificate, including one without the extension.
func ExtendedKeyUsage(c *policy.MultiValuesConstraint, cert *token.CertificateToken) *constraint.Check {
	var declared []string
	if cert != nil {
		for _, eku := range cert.ExtendedKeyUsages() {
			if eku.Name != "" {
				declared = append(declared, eku.Name)
			}
			declared = append(declared, eku.OID)
		}
	}
	return multiValues(c, constraint.MsgExtendedKeyUsage, constraint.ErrExtendedKeyUsage, cert,
		func() (bool, error) { return c.AcceptsAny() || c.ContainsAny(declared), nil }).
		WithInfo("extended key usages: " + strings.Join(declared, ", "))
}

// KeyUsage checks that the certificate asserts one of the accepted key usages.
// A wildcard accepts any certificate.
func KeyUsage(c *policy.MultiValuesConstraint, cert *token.CertificateToken) *constraint.Check {
	var declared []string
	if cert != nil {
		declared = cert.KeyUsages()
	}
	return multiValues(c, constraint.MsgKeyUsage, constraint.ErrKeyUsage, cert,
		func() (bool, error) { return c.AcceptsAny() || c.ContainsAny(declared), nil }).
		WithInfo("key usages: " + strings.Join(declared, ", "))
}

// QCLegislation checks the QcCClegislation statement of the certificate. A
// certificate declaring no legislation passes. Otherwise the policy has to
// accept any legislation or list one of the declared countries.
func QCLegislation(c *policy.MultiValuesConstraint, cert *token.CertificateToken) *constraint.Check {
	var declared []string
	if cert != nil {
		declared = cert.QCLegislation()
	}
	return multiValues(c, constraint.MsgQCLegislation, constraint.ErrQCLegislation, cert,
		func() (bool, error) {
			if len(declared) == 0 {
				return true, nil
			}
			return c.AcceptsAny() || c.ContainsAny(declared), nil
		}).
		WithInfo("legislation: " + strings.Join(declared, ", "))
}

// Title checks that the subject title is one of the accepted titles. Titles
// are compared after NFC normalization.
func Title(c *policy.MultiValuesConstraint, cert *token.CertificateToken) *constraint.Check {
	var title string
	if cert != nil {
		title = norm.NFC.String(cert.Title())
	}
	return multiValues(c, constraint.MsgTitle, constraint.ErrTitle, cert,
		func() (bool, error) {
			if c.AcceptsAny() {
				return true, nil
			}
			if title == "" {
				return false, nil
			}
			for _, v := range c.Values {
				if norm.NFC.String(v) == title {
					return true, nil
				}
			}
			return false, nil
		}).
		WithInfo("title: " + title)
}

func multiValues(c *policy.MultiValuesConstraint, tag, errTag constraint.MessageTag, cert *token.CertificateToken, predicate func() (bool, error)) *constraint.Check {
	return constraint.NewCheck(c.LevelConstraint(), tag, errTag, func() (bool, error) {
		if cert == nil {
			return false, fmt.Errorf("no certificate to check")
		}
		return predicate()
	}).WithFailure(constraint.Indeterminate, constraint.ChainConstraintsFailure)
}

// CertificateNotExpired checks that the certificate is valid at one of times,
// typically the validation time and the proofs of existence of the signature.
func CertificateNotExpired(c *policy.LevelConstraint, f validation.CertificateFacts, times ...time.Time) *constraint.Check {
	check := constraint.NewCheck(c, constraint.MsgCertificateNotExpired, constraint.ErrCertificateExpired,
		func() (bool, error) {
			if f.Certificate == nil {
				return false, fmt.Errorf("no certificate to check")
			}
			return f.ValidAtAny(times...), nil
		}).
		WithFailure(constraint.Indeterminate, constraint.OutOfBoundsNoPOE)
	if f.Certificate != nil {
		check.WithInfo(fmt.Sprintf("validity: %s - %s",
			formatTime(f.Certificate.NotBefore()), formatTime(f.Certificate.NotAfter())))
	}
	return check
}

// CertificateNotRevoked checks that no valid revocation data declares the
// certificate revoked before all of poeTimes. Revoked CA certificates report
// REVOKED_CA_NO_POE.
func CertificateNotRevoked(c *policy.LevelConstraint, f validation.CertificateFacts, poeTimes []time.Time) *constraint.Check {
	sub := constraint.RevokedNoPOE
	if f.Certificate != nil && f.Certificate.IsCA() {
		sub = constraint.RevokedCANoPOE
	}
	check := constraint.NewCheck(c, constraint.MsgCertificateNotRevoked, constraint.ErrCertificateRevoked,
		func() (bool, error) { return f.NotRevoked(poeTimes), nil }).
		WithFailure(constraint.Indeterminate, sub)
	if at, ok := f.RevokedAt(); ok {
		check.WithInfo("revoked at " + formatTime(at))
	}
	return check
}

// RevocationDataAvailable checks that a certificate needing revocation data
// has some with a valid signature.
func RevocationDataAvailable(c *policy.LevelConstraint, f validation.CertificateFacts) *constraint.Check {
	return constraint.NewCheck(c, constraint.MsgRevocationDataAvailable, constraint.ErrRevocationDataMissing,
		func() (bool, error) { return f.HasRevocationData(), nil }).
		WithFailure(constraint.Indeterminate, constraint.TryLater).
		WithInfo(certificateID(f))
}

// RevocationFresh checks that valid revocation data was produced strictly
// after the best signature time.
func RevocationFresh(c *policy.LevelConstraint, f validation.CertificateFacts, bestSignatureTime time.Time) *constraint.Check {
	return constraint.NewCheck(c, constraint.MsgRevocationFresh, constraint.ErrRevocationNotFresh,
		func() (bool, error) { return f.HasFreshRevocationData(bestSignatureTime), nil }).
		WithFailure(constraint.Indeterminate, constraint.TryLater).
		WithInfo("best signature time: " + formatTime(bestSignatureTime))
}

func certificateID(f validation.CertificateFacts) string {
	if f.Certificate == nil {
		return ""
	}
	return "certificate: " + string(f.Certificate.ID())
}
