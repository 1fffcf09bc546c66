package token

import (
	"crypto/sha256"
	"crypto/x509/pkix"
	"fmt"
	"strings"
)

// NameKey returns a lookup key for a distinguished name. Attribute values are
// whitespace-normalized so equivalent encodings of the same name collide.
func NameKey(name pkix.Name) string {
	h := sha256.Sum256([]byte(canonicalName(name)))
	return string(h[:])
}

// NamesEqual reports whether two distinguished names are equivalent.
func NamesEqual(a, b pkix.Name) bool {
	return canonicalName(a) == canonicalName(b)
}

func canonicalName(name pkix.Name) string {
	atvs := name.Names
	if len(atvs) == 0 {
		for _, rdn := range name.ToRDNSequence() {
			atvs = append(atvs, rdn...)
		}
	}

	parts := make([]string, 0, len(atvs))
	for _, atv := range atvs {
		var value string
		if s, ok := atv.Value.(string); ok {
			value = strings.Join(strings.Fields(s), " ")
		} else {
			value = fmt.Sprint(atv.Value)
		}
		parts = append(parts, atv.Type.String()+"="+value)
	}
	return strings.Join(parts, ",")
}
