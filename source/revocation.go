package source

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/trustval/token"
)

// RevocationSource provides revocation data about certificates.
type RevocationSource interface {
	// Kind returns the kind of revocation data the source provides.
	Kind() token.RevocationKind
	// RevocationToken returns the most recent revocation token about cert, or
	// nil, nil when the source has none. issuer may be nil when unknown; when
	// given, only data signed on the issuer's behalf is returned.
	RevocationToken(ctx context.Context, cert, issuer *token.CertificateToken) (*token.RevocationToken, error)
}

// OfflineCRLSource serves CRLs embedded in the validated object.
type OfflineCRLSource struct {
	mu   sync.RWMutex
	crls []*x509.RevocationList
	raw  [][]byte
}

// NewOfflineCRLSource creates a source from DER encoded CRLs.
func NewOfflineCRLSource(crls ...[]byte) (*OfflineCRLSource, error) {
	s := &OfflineCRLSource{}
	for _, raw := range crls {
		if _, err := s.Add(raw); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers a DER encoded CRL. It returns false when the CRL is already present.
func (s *OfflineCRLSource) Add(raw []byte) (bool, error) {
	crl, err := x509.ParseRevocationList(raw)
	if err != nil {
		return false, fmt.Errorf("failed to parse CRL: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.raw {
		if string(existing) == string(raw) {
			return false, nil
		}
	}
	s.crls = append(s.crls, crl)
	s.raw = append(s.raw, raw)
	return true, nil
}

// Len returns the number of CRLs.
func (s *OfflineCRLSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.raw)
}

// Kind returns RevocationCRL.
func (s *OfflineCRLSource) Kind() token.RevocationKind { return token.RevocationCRL }

// RevocationToken returns the token built from the most recent matching CRL.
func (s *OfflineCRLSource) RevocationToken(ctx context.Context, cert, issuer *token.CertificateToken) (*token.RevocationToken, error) {
	if cert == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *token.RevocationToken
	for i, crl := range s.crls {
		if !token.NamesEqual(crl.Issuer, cert.Issuer()) {
			continue
		}
		tok, err := token.NewCRLToken(s.raw[i], cert, token.OriginDocument)
		if err != nil {
			continue
		}
		if issuer != nil && !tok.IsSignedBy(issuer) {
			continue
		}
		if best == nil || tok.ThisUpdate().After(best.ThisUpdate()) {
			best = tok
		}
	}
	return best, nil
}

// OfflineOCSPSource serves OCSP responses embedded in the validated object.
type OfflineOCSPSource struct {
	mu        sync.RWMutex
	responses [][]byte
}

// NewOfflineOCSPSource creates a source from DER encoded OCSP responses.
func NewOfflineOCSPSource(responses ...[]byte) (*OfflineOCSPSource, error) {
	s := &OfflineOCSPSource{}
	for _, raw := range responses {
		if _, err := s.Add(raw); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers a DER encoded OCSP response. It returns false when the
// response is already present.
func (s *OfflineOCSPSource) Add(raw []byte) (bool, error) {
	if _, err := ocsp.ParseResponse(raw, nil); err != nil {
		return false, fmt.Errorf("failed to parse OCSP response: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.responses {
		if string(existing) == string(raw) {
			return false, nil
		}
	}
	s.responses = append(s.responses, raw)
	return true, nil
}

// Len returns the number of responses.
func (s *OfflineOCSPSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.responses)
}

// Kind returns RevocationOCSP.
func (s *OfflineOCSPSource) Kind() token.RevocationKind { return token.RevocationOCSP }

// RevocationToken returns the token built from the most recent matching response.
func (s *OfflineOCSPSource) RevocationToken(ctx context.Context, cert, issuer *token.CertificateToken) (*token.RevocationToken, error) {
	if cert == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *token.RevocationToken
	for _, raw := range s.responses {
		tok, err := token.NewOCSPToken(raw, cert, token.OriginDocument)
		if err != nil {
			continue
		}
		if issuer != nil && !SignedOnBehalfOf(tok, issuer) {
			continue
		}
		if best == nil || tok.ProducedAt().After(best.ProducedAt()) {
			best = tok
		}
	}
	return best, nil
}

// SignedOnBehalfOf reports whether tok was signed by issuer directly, or by an
// embedded responder certificate that issuer signed.
func SignedOnBehalfOf(tok *token.RevocationToken, issuer *token.CertificateToken) bool {
	if tok.IsSignedBy(issuer) {
		return true
	}
	for _, responder := range tok.ResponderCertificates() {
		if tok.IsSignedBy(responder) && responder.IsSignedBy(issuer, nil) {
			return true
		}
	}
	return false
}

// ListRevocationSource queries several sources of the same kind and keeps the
// most recent answer.
type ListRevocationSource struct {
	mu      sync.RWMutex
	kind    token.RevocationKind
	sources []RevocationSource
}

// NewListRevocationSource creates a list of sources of the given kind.
func NewListRevocationSource(kind token.RevocationKind, sources ...RevocationSource) *ListRevocationSource {
	l := &ListRevocationSource{kind: kind}
	for _, src := range sources {
		l.Add(src)
	}
	return l
}

// Add appends a source. Sources of another kind are rejected.
func (l *ListRevocationSource) Add(src RevocationSource) bool {
	if src == nil || src.Kind() != l.kind {
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

// Len returns the number of sources.
func (l *ListRevocationSource) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sources)
}

// Kind returns the kind of the listed sources.
func (l *ListRevocationSource) Kind() token.RevocationKind { return l.kind }

// RevocationToken asks every source and returns the most recent token. Errors are
// only reported when no source produced a token.
func (l *ListRevocationSource) RevocationToken(ctx context.Context, cert, issuer *token.CertificateToken) (*token.RevocationToken, error) {
	l.mu.RLock()
	sources := append([]RevocationSource(nil), l.sources...)
	l.mu.RUnlock()

	var best *token.RevocationToken
	var errs []error
	for _, src := range sources {
		tok, err := src.RevocationToken(ctx, cert, issuer)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if tok != nil && (best == nil || tok.ProducedAt().After(best.ProducedAt())) {
			best = tok
		}
	}
	if best == nil && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return best, nil
}
