package source

import (
	"context"

	"github.com/georgepadayatti/trustval/token"
)

// IssuerSource fetches issuer certificates from outside the validated object,
// typically following the AIA caIssuers extension.
type IssuerSource interface {
	FetchIssuers(ctx context.Context, cert *token.CertificateToken) ([]*token.CertificateToken, error)
}

// TrustAnchorProvider decides which certificates are trust anchors.
type TrustAnchorProvider interface {
	IsTrusted(cert *token.CertificateToken) bool
	Anchors() []*token.CertificateToken
}

// TrustedCertificateSource is a certificate source whose content is trusted.
type TrustedCertificateSource struct {
	*CommonCertificateSource
}

// NewTrustedCertificateSource creates a trusted source holding anchors.
func NewTrustedCertificateSource(anchors ...*token.CertificateToken) *TrustedCertificateSource {
	return &TrustedCertificateSource{
		CommonCertificateSource: NewCommonCertificateSource(TypeTrustedStore, anchors...),
	}
}

// IsTrusted reports whether cert is a trust anchor.
func (s *TrustedCertificateSource) IsTrusted(cert *token.CertificateToken) bool {
	return s.Contains(cert)
}

// Anchors returns every trust anchor.
func (s *TrustedCertificateSource) Anchors() []*token.CertificateToken {
	return s.Certificates()
}
