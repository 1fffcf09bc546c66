package source_test

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/crypto/ocsp"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/georgepadayatti/trustval/internal/testpki"
	"github.com/georgepadayatti/trustval/source"
	"github.com/georgepadayatti/trustval/token"
)

func ids(certs []*token.CertificateToken) []token.Identifier {
	out := make([]token.Identifier, 0, len(certs))
	for _, c := range certs {
		out = append(out, c.ID())
	}
	return out
}

func TestCommonCertificateSource(t *testing.T) {
	root := testpki.Root(t, "Root")
	ca := testpki.Intermediate(t, root, "Intermediate")
	leaf := testpki.Leaf(t, ca, "Leaf")

	src := source.NewCommonCertificateSource(source.TypeSignature)
	if !src.Add(leaf.Token) || !src.Add(ca.Token) {
		t.Fatal("Add() should accept new certificates")
	}
	if src.Add(token.NewCertificateToken(leaf.Cert)) {
		t.Error("Add() should reject a certificate with the same identity")
	}
	if src.Len() != 2 || src.Type() != source.TypeSignature {
		t.Errorf("Len() = %d, Type() = %s", src.Len(), src.Type())
	}
	if diff := cmp.Diff([]token.Identifier{leaf.Token.ID(), ca.Token.ID()}, ids(src.Certificates())); diff != "" {
		t.Errorf("Certificates() mismatch (-want +got):\n%s", diff)
	}
	if got := src.FindBySubject(ca.Cert.Subject); len(got) != 1 || got[0].ID() != ca.Token.ID() {
		t.Errorf("FindBySubject() = %v", ids(got))
	}
	if got := src.FindBySubjectKeyIdentifier(ca.Cert.SubjectKeyId); len(got) != 1 {
		t.Errorf("FindBySubjectKeyIdentifier() = %v", ids(got))
	}
	if src.Contains(root.Token) {
		t.Error("root should not be in the source")
	}
	if got := source.PotentialIssuers(src, leaf.Token); len(got) != 1 || got[0].ID() != ca.Token.ID() {
		t.Errorf("PotentialIssuers() = %v", ids(got))
	}
	if got := source.PotentialIssuers(src, ca.Token); len(got) != 0 {
		t.Errorf("PotentialIssuers(ca) = %v, want none", ids(got))
	}
}

func TestListCertificateSource(t *testing.T) {
	root := testpki.Root(t, "Root")
	leaf := testpki.Leaf(t, root, "Leaf")

	a := source.NewCommonCertificateSource(source.TypeSignature, leaf.Token)
	b := source.NewCommonCertificateSource(source.TypeTimestamp, leaf.Token, root.Token)
	list := source.NewListCertificateSource(a, b)
	if list.Add(a) {
		t.Error("Add() should reject an already listed source")
	}
	if got := list.Certificates(); len(got) != 2 {
		t.Errorf("Certificates() returned %d, want 2 distinct", len(got))
	}
	if !list.Contains(root.Token) {
		t.Error("Contains() should search every source")
	}
	if got := list.FindBySubject(root.Cert.Subject); len(got) != 1 {
		t.Errorf("FindBySubject() returned %d", len(got))
	}
}

func TestTrustedCertificateSource(t *testing.T) {
	root := testpki.Root(t, "Root")
	other := testpki.Root(t, "Other")
	trusted := source.NewTrustedCertificateSource(root.Token)

	if !trusted.IsTrusted(root.Token) || trusted.IsTrusted(other.Token) {
		t.Error("IsTrusted() mismatch")
	}
	if len(trusted.Anchors()) != 1 || trusted.Type() != source.TypeTrustedStore {
		t.Error("unexpected anchors")
	}
}

func TestOfflineCRLSourcePicksLatest(t *testing.T) {
	ctx := context.Background()
	root := testpki.Root(t, "Root")
	leaf := testpki.Leaf(t, root, "Leaf")
	now := time.Now()

	older := root.CRL(t, now.Add(-48*time.Hour), now.Add(-24*time.Hour))
	newer := root.CRL(t, now.Add(-time.Hour), now.Add(time.Hour), leaf)
	src, err := source.NewOfflineCRLSource(older, newer)
	if err != nil {
		t.Fatal(err)
	}
	if added, _ := src.Add(older); added {
		t.Error("duplicate CRL should be ignored")
	}

	tok, err := src.RevocationToken(ctx, leaf.Token, root.Token)
	if err != nil || tok == nil {
		t.Fatalf("RevocationToken() = %v, %v", tok, err)
	}
	if !tok.IsRevoked() || tok.Origin() != token.OriginDocument {
		t.Errorf("expected the newer revoked document CRL, got %s", tok)
	}

	stranger := testpki.Root(t, "Stranger")
	if tok, _ := src.RevocationToken(ctx, leaf.Token, stranger.Token); tok != nil {
		t.Error("CRL not signed by the given issuer should be skipped")
	}
	if tok, _ := src.RevocationToken(ctx, testpki.Leaf(t, stranger, "Other").Token, nil); tok != nil {
		t.Error("CRL of another issuer should not match")
	}
	if _, err := source.NewOfflineCRLSource([]byte("garbage")); err == nil {
		t.Error("expected parse error")
	}
}

func TestOfflineOCSPSource(t *testing.T) {
	ctx := context.Background()
	root := testpki.Root(t, "Root")
	leaf := testpki.Leaf(t, root, "Leaf")
	other := testpki.Leaf(t, root, "Other")

	src, err := source.NewOfflineOCSPSource(root.OCSP(t, leaf, ocsp.Good, time.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	tok, err := src.RevocationToken(ctx, leaf.Token, root.Token)
	if err != nil || tok == nil {
		t.Fatalf("RevocationToken() = %v, %v", tok, err)
	}
	if tok.Status() != token.StatusGood || tok.Kind() != token.RevocationOCSP {
		t.Errorf("unexpected token %s", tok)
	}
	if tok, _ := src.RevocationToken(ctx, other.Token, root.Token); tok != nil {
		t.Error("response about another certificate should not match")
	}
	if !source.SignedOnBehalfOf(tok, root.Token) || source.SignedOnBehalfOf(tok, leaf.Token) {
		t.Error("SignedOnBehalfOf() mismatch")
	}
}

type failingSource struct{ kind token.RevocationKind }

func (f failingSource) Kind() token.RevocationKind { return f.kind }

func (f failingSource) RevocationToken(context.Context, *token.CertificateToken, *token.CertificateToken) (*token.RevocationToken, error) {
	return nil, errors.New("unreachable")
}

func TestListRevocationSource(t *testing.T) {
	ctx := context.Background()
	root := testpki.Root(t, "Root")
	leaf := testpki.Leaf(t, root, "Leaf")
	crls, err := source.NewOfflineCRLSource(root.CRL(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}

	list := source.NewListRevocationSource(token.RevocationCRL, failingSource{token.RevocationCRL})
	if list.Add(failingSource{token.RevocationOCSP}) {
		t.Error("sources of another kind should be rejected")
	}
	if _, err := list.RevocationToken(ctx, leaf.Token, root.Token); err == nil {
		t.Error("expected error when no source answers")
	}

	list.Add(crls)
	tok, err := list.RevocationToken(ctx, leaf.Token, root.Token)
	if err != nil || tok == nil {
		t.Fatalf("RevocationToken() = %v, %v", tok, err)
	}
}

func TestLoaders(t *testing.T) {
	root := testpki.Root(t, "Root")
	leaf := testpki.Leaf(t, root, "Leaf")
	dir := t.TempDir()

	pemData := append(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leaf.Cert.Raw}),
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Cert.Raw})...,
	)
	pemPath := filepath.Join(dir, "chain.pem")
	derPath := filepath.Join(dir, "root.der")
	if err := os.WriteFile(pemPath, pemData, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(derPath, root.Cert.Raw, 0o600); err != nil {
		t.Fatal(err)
	}

	certs, err := source.LoadCertificateFiles([]string{pemPath, derPath})
	if err != nil {
		t.Fatal(err)
	}
	want := []token.Identifier{leaf.Token.ID(), root.Token.ID(), root.Token.ID()}
	if diff := cmp.Diff(want, ids(certs)); diff != "" {
		t.Errorf("LoadCertificateFiles() mismatch (-want +got):\n%s", diff)
	}

	if _, err := source.ParseCertificates([]byte("-----BEGIN NOTHING-----\n-----END NOTHING-----\n")); !errors.Is(err, source.ErrNoCertFound) {
		t.Errorf("expected ErrNoCertFound, got %v", err)
	}
	if _, err := source.LoadCertificates(filepath.Join(dir, "missing.pem")); err == nil {
		t.Error("expected error for missing file")
	}

	crlPath := filepath.Join(dir, "root.crl")
	crl := root.CRL(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err := os.WriteFile(crlPath, pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: crl}), 0o600); err != nil {
		t.Fatal(err)
	}
	crls, err := source.LoadCRLSource([]string{crlPath})
	if err != nil || crls.Len() != 1 {
		t.Fatalf("LoadCRLSource() = %v, %v", crls, err)
	}
}

func TestLoadPKCS12TrustStore(t *testing.T) {
	root := testpki.Root(t, "Root")
	leaf := testpki.Leaf(t, root, "Leaf")
	dir := t.TempDir()

	store, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{root.Cert}, "changeit")
	if err != nil {
		t.Fatal(err)
	}
	storePath := filepath.Join(dir, "trust.p12")
	if err := os.WriteFile(storePath, store, 0o600); err != nil {
		t.Fatal(err)
	}
	certs, err := source.LoadPKCS12TrustStore(storePath, "changeit")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]token.Identifier{root.Token.ID()}, ids(certs)); diff != "" {
		t.Errorf("trust store mismatch (-want +got):\n%s", diff)
	}

	bundle, err := pkcs12.Modern.Encode(leaf.Key, leaf.Cert, []*x509.Certificate{root.Cert}, "secret")
	if err != nil {
		t.Fatal(err)
	}
	bundlePath := filepath.Join(dir, "bundle.p12")
	if err := os.WriteFile(bundlePath, bundle, 0o600); err != nil {
		t.Fatal(err)
	}
	certs, err = source.LoadPKCS12TrustStore(bundlePath, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]token.Identifier{leaf.Token.ID(), root.Token.ID()}, ids(certs)); diff != "" {
		t.Errorf("key store chain mismatch (-want +got):\n%s", diff)
	}

	if _, err := source.LoadPKCS12TrustStore(storePath, "wrong"); err == nil {
		t.Error("expected error for a wrong password")
	}
}
