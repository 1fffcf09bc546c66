// Package source provides the token sources consulted during validation:
// certificate pools, document-embedded revocation data and trust anchors.
package source

import (
	"crypto/x509/pkix"
	"fmt"
	"sync"

	"github.com/georgepadayatti/trustval/token"
)

// SourceType tells where the certificates of a source come from.
type SourceType int

const (
	TypeOther SourceType = iota
	TypeSignature
	TypeTimestamp
	TypeEvidenceRecord
	TypeOCSPResponse
	TypeAIA
	TypeTrustedStore
)

// String returns the string representation of a source type.
func (t SourceType) String() string {
	switch t {
	case TypeOther:
		return "other"
	case TypeSignature:
		return "signature"
	case TypeTimestamp:
		return "timestamp"
	case TypeEvidenceRecord:
		return "evidence_record"
	case TypeOCSPResponse:
		return "ocsp_response"
	case TypeAIA:
		return "aia"
	case TypeTrustedStore:
		return "trusted_store"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// CertificateSource is a read-only pool of certificate tokens.
type CertificateSource interface {
	// Type returns the origin of the certificates.
	Type() SourceType
	// Certificates returns every certificate in insertion order.
	Certificates() []*token.CertificateToken
	// FindBySubject returns the certificates whose subject equals name.
	FindBySubject(name pkix.Name) []*token.CertificateToken
	// FindBySubjectKeyIdentifier returns the certificates with the given SKI.
	FindBySubjectKeyIdentifier(ski []byte) []*token.CertificateToken
	// Contains reports whether cert is in the source.
	Contains(cert *token.CertificateToken) bool
}

// PotentialIssuers returns the certificates of src that could have issued cert.
func PotentialIssuers(src CertificateSource, cert *token.CertificateToken) []*token.CertificateToken {
	if src == nil || cert == nil {
		return nil
	}
	seen := make(map[token.Identifier]bool)
	var out []*token.CertificateToken
	add := func(candidates []*token.CertificateToken) {
		for _, c := range candidates {
			if seen[c.ID()] || c.ID() == cert.ID() || !cert.IsPotentialIssuer(c) {
				continue
			}
			seen[c.ID()] = true
			out = append(out, c)
		}
	}
	if aki := cert.AuthorityKeyIdentifier(); len(aki) > 0 {
		add(src.FindBySubjectKeyIdentifier(aki))
	}
	add(src.FindBySubject(cert.Issuer()))
	return out
}

// CommonCertificateSource is an in-memory certificate source indexed by
// identifier, subject name and subject key identifier.
type CommonCertificateSource struct {
	mu  sync.RWMutex
	typ SourceType

	order []*token.CertificateToken

	// Main storage keyed by token identifier
	byID map[token.Identifier]*token.CertificateToken

	// Index by subject name key for issuer lookups
	bySubject map[string][]*token.CertificateToken

	// Index by subject key identifier
	bySKI map[string][]*token.CertificateToken
}

// NewCommonCertificateSource creates an empty source of the given type.
func NewCommonCertificateSource(typ SourceType, certs ...*token.CertificateToken) *CommonCertificateSource {
	s := &CommonCertificateSource{
		typ:       typ,
		byID:      make(map[token.Identifier]*token.CertificateToken),
		bySubject: make(map[string][]*token.CertificateToken),
		bySKI:     make(map[string][]*token.CertificateToken),
	}
	s.AddAll(certs)
	return s
}

// Add registers a certificate. It returns false when the certificate is already present.
func (s *CommonCertificateSource) Add(cert *token.CertificateToken) bool {
	if cert == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[cert.ID()]; exists {
		return false
	}
	s.byID[cert.ID()] = cert
	s.order = append(s.order, cert)

	subjectKey := token.NameKey(cert.Subject())
	s.bySubject[subjectKey] = append(s.bySubject[subjectKey], cert)

	if ski := cert.SubjectKeyIdentifier(); len(ski) > 0 {
		s.bySKI[string(ski)] = append(s.bySKI[string(ski)], cert)
	}
	return true
}

// AddAll registers several certificates and returns how many were new.
func (s *CommonCertificateSource) AddAll(certs []*token.CertificateToken) int {
	n := 0
	for _, cert := range certs {
		if s.Add(cert) {
			n++
		}
	}
	return n
}

// Type returns the source type.
func (s *CommonCertificateSource) Type() SourceType { return s.typ }

// Certificates returns every certificate in insertion order.
func (s *CommonCertificateSource) Certificates() []*token.CertificateToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*token.CertificateToken(nil), s.order...)
}

// FindBySubject returns the certificates whose subject equals name.
func (s *CommonCertificateSource) FindBySubject(name pkix.Name) []*token.CertificateToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*token.CertificateToken(nil), s.bySubject[token.NameKey(name)]...)
}

// FindBySubjectKeyIdentifier returns the certificates with the given SKI.
func (s *CommonCertificateSource) FindBySubjectKeyIdentifier(ski []byte) []*token.CertificateToken {
	if len(ski) == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*token.CertificateToken(nil), s.bySKI[string(ski)]...)
}

// Contains reports whether cert is in the source.
func (s *CommonCertificateSource) Contains(cert *token.CertificateToken) bool {
	if cert == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[cert.ID()]
	return ok
}

// Len returns the number of certificates.
func (s *CommonCertificateSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// ListCertificateSource is a de-duplicated view over several sources.
type ListCertificateSource struct {
	mu      sync.RWMutex
	sources []CertificateSource
}

// NewListCertificateSource creates a view over sources.
func NewListCertificateSource(sources ...CertificateSource) *ListCertificateSource {
	l := &ListCertificateSource{}
	for _, src := range sources {
		l.Add(src)
	}
	return l
}

// Add appends a source. It returns false for nil or already listed sources.
func (l *ListCertificateSource) Add(src CertificateSource) bool {
	if src == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.sources {
		if existing == src {
			return false
		}
	}
	l.sources = append(l.sources, src)
	return true
}

// Sources returns the listed sources.
func (l *ListCertificateSource) Sources() []CertificateSource {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]CertificateSource(nil), l.sources...)
}

// Type returns TypeOther.
func (l *ListCertificateSource) Type() SourceType { return TypeOther }

// Certificates returns the certificates of every source, without duplicates.
func (l *ListCertificateSource) Certificates() []*token.CertificateToken {
	return l.collect(func(src CertificateSource) []*token.CertificateToken { return src.Certificates() })
}

// FindBySubject searches every source.
func (l *ListCertificateSource) FindBySubject(name pkix.Name) []*token.CertificateToken {
	return l.collect(func(src CertificateSource) []*token.CertificateToken { return src.FindBySubject(name) })
}

// FindBySubjectKeyIdentifier searches every source.
func (l *ListCertificateSource) FindBySubjectKeyIdentifier(ski []byte) []*token.CertificateToken {
	return l.collect(func(src CertificateSource) []*token.CertificateToken { return src.FindBySubjectKeyIdentifier(ski) })
}

// Contains reports whether any source contains cert.
func (l *ListCertificateSource) Contains(cert *token.CertificateToken) bool {
	for _, src := range l.Sources() {
		if src.Contains(cert) {
			return true
		}
	}
	return false
}

func (l *ListCertificateSource) collect(fn func(CertificateSource) []*token.CertificateToken) []*token.CertificateToken {
	seen := make(map[token.Identifier]bool)
	var out []*token.CertificateToken
	for _, src := range l.Sources() {
		for _, cert := range fn(src) {
			if !seen[cert.ID()] {
				seen[cert.ID()] = true
				out = append(out, cert)
			}
		}
	}
	return out
}
