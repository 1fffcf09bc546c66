package source

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/georgepadayatti/trustval/token"
)

// Loader errors
var (
	ErrNoCertFound = errors.New("no certificate found in data")
	ErrNoCRLFound  = errors.New("no CRL found in data")
)

// ParseCertificates parses PEM or DER encoded certificates.
func ParseCertificates(data []byte) ([]*token.CertificateToken, error) {
	var certs []*x509.Certificate

	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else {
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return token.NewCertificateTokens(certs), nil
}

// LoadCertificates loads certificates from a PEM or DER encoded file.
func LoadCertificates(filename string) ([]*token.CertificateToken, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return ParseCertificates(data)
}

// LoadCertificateFiles loads certificates from several files.
func LoadCertificateFiles(filenames []string) ([]*token.CertificateToken, error) {
	var all []*token.CertificateToken
	for _, filename := range filenames {
		certs, err := LoadCertificates(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load certs from %s: %w", filename, err)
		}
		all = append(all, certs...)
	}
	return all, nil
}

// LoadPKCS12TrustStore loads the certificates of a PKCS#12 file. Java-style
// trust stores are tried first, then key stores whose certificate chain is
// returned.
func LoadPKCS12TrustStore(filename, password string) ([]*token.CertificateToken, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	certs, err := pkcs12.DecodeTrustStore(data, password)
	if err == nil && len(certs) > 0 {
		return token.NewCertificateTokens(certs), nil
	}
	_, cert, caCerts, chainErr := pkcs12.DecodeChain(data, password)
	if chainErr != nil {
		if err == nil {
			err = ErrNoCertFound
		}
		return nil, fmt.Errorf("failed to decode PKCS#12 %s: %w", filename, errors.Join(err, chainErr))
	}
	return token.NewCertificateTokens(append([]*x509.Certificate{cert}, caCerts...)), nil
}

// ParseCRLs splits PEM or DER encoded data into DER CRLs.
func ParseCRLs(data []byte) ([][]byte, error) {
	var out [][]byte
	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type == "X509 CRL" {
				out = append(out, block.Bytes)
			}
		}
	} else if len(data) > 0 {
		out = append(out, data)
	}
	if len(out) == 0 {
		return nil, ErrNoCRLFound
	}
	return out, nil
}

// LoadCRLSource loads CRL files into an offline CRL source.
func LoadCRLSource(filenames []string) (*OfflineCRLSource, error) {
	src := &OfflineCRLSource{}
	for _, filename := range filenames {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
		}
		crls, err := ParseCRLs(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		for _, crl := range crls {
			if _, err := src.Add(crl); err != nil {
				return nil, fmt.Errorf("%s: %w", filename, err)
			}
		}
	}
	return src, nil
}

// LoadOCSPSource loads DER encoded OCSP response files into an offline OCSP source.
func LoadOCSPSource(filenames []string) (*OfflineOCSPSource, error) {
	src := &OfflineOCSPSource{}
	for _, filename := range filenames {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
		}
		if _, err := src.Add(data); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
	}
	return src, nil
}

func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}
