package online

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/trustval/source"
	"github.com/georgepadayatti/trustval/token"
)

// Metric kinds.
const (
	KindCRL  = "crl"
	KindOCSP = "ocsp"
	KindAIA  = "aia"
)

// ErrIssuerRequired is returned when an OCSP request cannot be built without the issuer.
var ErrIssuerRequired = errors.New("issuer certificate required for OCSP request")

// CRLSource downloads CRLs from the distribution points of a certificate.
type CRLSource struct {
	fetcher *Fetcher
}

// NewCRLSource creates an online CRL source.
func NewCRLSource(f *Fetcher) *CRLSource {
	return &CRLSource{fetcher: f}
}

// Kind returns RevocationCRL.
func (s *CRLSource) Kind() token.RevocationKind { return token.RevocationCRL }

// RevocationToken fetches every HTTP distribution point and returns the most
// recent CRL signed by issuer. It returns nil, nil when cert lists no usable
// distribution point.
func (s *CRLSource) RevocationToken(ctx context.Context, cert, issuer *token.CertificateToken) (*token.RevocationToken, error) {
	var best *token.RevocationToken
	var errs []error
	for _, dp := range cert.CRLDistributionPoints() {
		if !validURL(dp) {
			continue
		}
		raw, err := s.fetcher.Get(ctx, KindCRL, dp)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tok, err := token.NewCRLToken(raw, cert, token.OriginExternal, token.WithSourceURL(dp))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dp, err))
			continue
		}
		if issuer != nil && !tok.IsSignedBy(issuer) {
			errs = append(errs, fmt.Errorf("%s: CRL not signed by %s", dp, issuer))
			continue
		}
		if best == nil || tok.ThisUpdate().After(best.ThisUpdate()) {
			best = tok
		}
	}
	if best == nil && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return best, nil
}

// OCSPSource queries the OCSP responders listed in a certificate.
type OCSPSource struct {
	fetcher *Fetcher
}

// NewOCSPSource creates an online OCSP source.
func NewOCSPSource(f *Fetcher) *OCSPSource {
	return &OCSPSource{fetcher: f}
}

// Kind returns RevocationOCSP.
func (s *OCSPSource) Kind() token.RevocationKind { return token.RevocationOCSP }

// RevocationToken asks each responder in turn, POST first with a GET fallback,
// and returns the first response signed on behalf of issuer.
func (s *OCSPSource) RevocationToken(ctx context.Context, cert, issuer *token.CertificateToken) (*token.RevocationToken, error) {
	servers := cert.OCSPServers()
	if len(servers) == 0 {
		return nil, nil
	}
	if issuer == nil {
		return nil, ErrIssuerRequired
	}
	req, err := ocsp.CreateRequest(cert.Certificate(), issuer.Certificate(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCSP request: %w", err)
	}

	var errs []error
	for _, server := range servers {
		if !validURL(server) {
			continue
		}
		raw, err := s.fetch(ctx, server, req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tok, err := token.NewOCSPToken(raw, cert, token.OriginExternal, token.WithSourceURL(server))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		if !source.SignedOnBehalfOf(tok, issuer) {
			errs = append(errs, fmt.Errorf("%s: response not signed on behalf of %s", server, issuer))
			continue
		}
		return tok, nil
	}
	return nil, errors.Join(errs...)
}

func (s *OCSPSource) fetch(ctx context.Context, server string, req []byte) ([]byte, error) {
	raw, err := s.fetcher.Post(ctx, KindOCSP, server, "application/ocsp-request", req)
	if err == nil {
		return raw, nil
	}
	getURL := strings.TrimSuffix(server, "/") + "/" + url.PathEscape(base64.StdEncoding.EncodeToString(req))
	raw, getErr := s.fetcher.Get(ctx, KindOCSP, getURL)
	if getErr != nil {
		return nil, errors.Join(err, getErr)
	}
	return raw, nil
}

// AIASource downloads issuer certificates from the AIA caIssuers URLs.
type AIASource struct {
	fetcher *Fetcher
}

// NewAIASource creates an online issuer source.
func NewAIASource(f *Fetcher) *AIASource {
	return &AIASource{fetcher: f}
}

// FetchIssuers returns the certificates published at the caIssuers URLs of cert.
func (s *AIASource) FetchIssuers(ctx context.Context, cert *token.CertificateToken) ([]*token.CertificateToken, error) {
	var issuers []*token.CertificateToken
	var errs []error
	for _, u := range cert.IssuingCertificateURLs() {
		if !validURL(u) {
			continue
		}
		data, err := s.fetcher.Get(ctx, KindAIA, u)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		certs, err := source.ParseCertificates(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		issuers = append(issuers, certs...)
	}
	if len(issuers) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return issuers, nil
}
