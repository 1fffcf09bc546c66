// Package policy models validation policies: which constraints apply to
// signatures, timestamps and their certificates, and at which level.
package policy

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Common errors
var (
	ErrInvalidPolicy = errors.New("invalid validation policy")
	ErrUnknownLevel  = errors.New("unknown constraint level")
)

//go:embed default.yaml
var defaultPolicy []byte

// Context is the kind of token a set of constraints applies to.
type Context string

const (
	ContextSignature        Context = "signature"
	ContextCounterSignature Context = "counter-signature"
	ContextTimestamp        Context = "timestamp"
	ContextRevocation       Context = "revocation"
	ContextEvidenceRecord   Context = "evidence-record"
)

// SubContext selects the certificate a constraint set applies to.
type SubContext string

const (
	SubContextSigningCert SubContext = "signing-cert"
	SubContextCACert      SubContext = "ca-cert"
)

// CertificateConstraints are the constraints on one certificate of a chain.
type CertificateConstraints struct {
	ExtendedKeyUsage        *MultiValuesConstraint `yaml:"extended-key-usage,omitempty" json:"extended_key_usage,omitempty"`
	QCLegislation           *MultiValuesConstraint `yaml:"qc-legislation,omitempty" json:"qc_legislation,omitempty"`
	Title                   *MultiValuesConstraint `yaml:"title,omitempty" json:"title,omitempty"`
	KeyUsage                *MultiValuesConstraint `yaml:"key-usage,omitempty" json:"key_usage,omitempty"`
	NotExpired              *LevelConstraint       `yaml:"not-expired,omitempty" json:"not_expired,omitempty"`
	NotRevoked              *LevelConstraint       `yaml:"not-revoked,omitempty" json:"not_revoked,omitempty"`
	RevocationDataAvailable *LevelConstraint       `yaml:"revocation-data-available,omitempty" json:"revocation_data_available,omitempty"`
	RevocationFresh         *LevelConstraint       `yaml:"revocation-fresh,omitempty" json:"revocation_fresh,omitempty"`
}

// ContextConstraints are the constraints of one validation context.
type ContextConstraints struct {
	// SigningCertificateFound requires the signing certificate to be identified.
	SigningCertificateFound *LevelConstraint `yaml:"signing-certificate-found,omitempty" json:"signing_certificate_found,omitempty"`
	// TrustedChain requires the chain to reach a trust anchor.
	TrustedChain *LevelConstraint `yaml:"trusted-chain,omitempty" json:"trusted_chain,omitempty"`
	// TimestampsValid requires every attached timestamp to be valid.
	TimestampsValid *LevelConstraint `yaml:"timestamps-valid,omitempty" json:"timestamps_valid,omitempty"`
	// SignatureIntact requires the cryptographic signature to verify.
	SignatureIntact *LevelConstraint `yaml:"signature-intact,omitempty" json:"signature_intact,omitempty"`
	// MessageImprint requires a timestamp imprint to match its data.
	MessageImprint *LevelConstraint `yaml:"message-imprint,omitempty" json:"message_imprint,omitempty"`
	// FormatCompliance requires the container to be PDF/A compliant.
	FormatCompliance *LevelConstraint `yaml:"pdfa-compliance,omitempty" json:"pdfa_compliance,omitempty"`

	SigningCertificate *CertificateConstraints `yaml:"signing-certificate,omitempty" json:"signing_certificate,omitempty"`
	CACertificate      *CertificateConstraints `yaml:"ca-certificate,omitempty" json:"ca_certificate,omitempty"`
}

// Policy is a named validation policy.
type Policy struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Signature        *ContextConstraints `yaml:"signature,omitempty" json:"signature,omitempty"`
	CounterSignature *ContextConstraints `yaml:"counter-signature,omitempty" json:"counter_signature,omitempty"`
	Timestamp        *ContextConstraints `yaml:"timestamp,omitempty" json:"timestamp,omitempty"`
	Revocation       *ContextConstraints `yaml:"revocation,omitempty" json:"revocation,omitempty"`
	EvidenceRecord   *ContextConstraints `yaml:"evidence-record,omitempty" json:"evidence_record,omitempty"`
}

// Constraints returns the constraints of ctx. Absent sections yield an empty
// set, so every constraint reads as nil.
func (p *Policy) Constraints(ctx Context) *ContextConstraints {
	var c *ContextConstraints
	if p != nil {
		switch ctx {
		case ContextSignature:
			c = p.Signature
		case ContextCounterSignature:
			c = p.CounterSignature
		case ContextTimestamp:
			c = p.Timestamp
		case ContextRevocation:
			c = p.Revocation
		case ContextEvidenceRecord:
			c = p.EvidenceRecord
		}
	}
	if c == nil {
		return &ContextConstraints{}
	}
	return c
}

// CertificateConstraints returns the constraints on the certificate selected by
// sub in ctx. Absent sections yield an empty set.
func (p *Policy) CertificateConstraints(ctx Context, sub SubContext) *CertificateConstraints {
	c := p.Constraints(ctx)
	var cc *CertificateConstraints
	switch sub {
	case SubContextSigningCert:
		cc = c.SigningCertificate
	case SubContextCACert:
		cc = c.CACertificate
	}
	if cc == nil {
		return &CertificateConstraints{}
	}
	return cc
}

// Load reads a policy from a YAML file.
func Load(filename string) (*Policy, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML policy. Unknown fields and unknown levels are rejected.
func Parse(data []byte) (*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Policy
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	}
	return &p, nil
}

// Default returns a fresh copy of the built-in policy.
func Default() *Policy {
	p, err := Parse(defaultPolicy)
	if err != nil {
		panic(fmt.Sprintf("policy: built-in policy is invalid: %v", err))
	}
	return p
}

// Marshal encodes p as YAML.
func (p *Policy) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}
