package token

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/sha3"
)

// DigestAlgorithm names a message digest algorithm.
type DigestAlgorithm string

// Supported digest algorithms.
const (
	SHA1     DigestAlgorithm = "SHA1"
	SHA224   DigestAlgorithm = "SHA224"
	SHA256   DigestAlgorithm = "SHA256"
	SHA384   DigestAlgorithm = "SHA384"
	SHA512   DigestAlgorithm = "SHA512"
	SHA3_256 DigestAlgorithm = "SHA3-256"
	SHA3_384 DigestAlgorithm = "SHA3-384"
	SHA3_512 DigestAlgorithm = "SHA3-512"
)

var digestOIDs = map[DigestAlgorithm]asn1.ObjectIdentifier{
	SHA1:     {1, 3, 14, 3, 2, 26},
	SHA224:   {2, 16, 840, 1, 101, 3, 4, 2, 4},
	SHA256:   {2, 16, 840, 1, 101, 3, 4, 2, 1},
	SHA384:   {2, 16, 840, 1, 101, 3, 4, 2, 2},
	SHA512:   {2, 16, 840, 1, 101, 3, 4, 2, 3},
	SHA3_256: {2, 16, 840, 1, 101, 3, 4, 2, 8},
	SHA3_384: {2, 16, 840, 1, 101, 3, 4, 2, 9},
	SHA3_512: {2, 16, 840, 1, 101, 3, 4, 2, 10},
}

// ParseDigestAlgorithm parses a digest algorithm name such as "SHA-256", "sha256" or "SHA3-384".
func ParseDigestAlgorithm(name string) (DigestAlgorithm, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrMissingDigestAlgorithm
	}
	n := strings.ToUpper(strings.TrimSpace(name))
	if strings.HasPrefix(n, "SHA3") {
		n = "SHA3-" + strings.TrimLeft(strings.TrimPrefix(n, "SHA3"), "-_")
	} else {
		n = strings.ReplaceAll(strings.ReplaceAll(n, "-", ""), "_", "")
	}
	alg := DigestAlgorithm(n)
	if _, ok := digestOIDs[alg]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDigest, name)
	}
	return alg, nil
}

// DigestAlgorithmFromOID returns the algorithm identified by oid.
func DigestAlgorithmFromOID(oid asn1.ObjectIdentifier) (DigestAlgorithm, error) {
	for alg, known := range digestOIDs {
		if known.Equal(oid) {
			return alg, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedDigest, oid)
}

// OID returns the algorithm object identifier.
func (a DigestAlgorithm) OID() asn1.ObjectIdentifier {
	return digestOIDs[a]
}

// New returns a fresh hash for the algorithm.
func (a DigestAlgorithm) New() (hash.Hash, error) {
	switch a {
	case SHA1:
		return sha1.New(), nil
	case SHA224:
		return sha256.New224(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	case SHA3_256:
		return sha3.New256(), nil
	case SHA3_384:
		return sha3.New384(), nil
	case SHA3_512:
		return sha3.New512(), nil
	case "":
		return nil, ErrMissingDigestAlgorithm
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDigest, string(a))
	}
}

// Sum digests data.
func (a DigestAlgorithm) Sum(data []byte) ([]byte, error) {
	h, err := a.New()
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

func digestOf(encoded []byte, alg DigestAlgorithm) ([]byte, error) {
	if len(encoded) == 0 {
		return nil, ErrEmptyEncoding
	}
	return alg.Sum(encoded)
}
