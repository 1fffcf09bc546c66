// Package poe keeps proofs of existence: evidence that a token existed at a given time.
package poe

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/georgepadayatti/trustval/token"
)

// Type represents the origin of a proof of existence.
type Type int

const (
	// FromTimestamp indicates POE established by a valid timestamp.
	FromTimestamp Type = iota
	// FromEvidenceRecord indicates POE established by a valid evidence record.
	FromEvidenceRecord
	// FromValidationTime indicates the implicit POE at validation time.
	FromValidationTime
	// External indicates externally provided POE.
	External
)

// String returns the string representation of a POE type.
func (t Type) String() string {
	switch t {
	case FromTimestamp:
		return "timestamp"
	case FromEvidenceRecord:
		return "evidence_record"
	case FromValidationTime:
		return "validation_time"
	case External:
		return "external"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// POE records that the token identified by TokenID existed at Time.
type POE struct {
	TokenID token.Identifier
	Time    time.Time
	Type    Type
	// SourceID identifies the token that established the proof, if any.
	SourceID token.Identifier
}

func (p POE) equal(o POE) bool {
	return p.TokenID == o.TokenID && p.Time.Equal(o.Time) && p.Type == o.Type && p.SourceID == o.SourceID
}

// Registry manages proofs of existence. It only ever grows.
type Registry struct {
	mu   sync.RWMutex
	poes map[token.Identifier][]POE
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		poes: make(map[token.Identifier][]POE),
	}
}

// Add records p. It returns false when an identical proof is already known.
func (r *Registry) Add(p POE) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.poes[p.TokenID] {
		if existing.equal(p) {
			return false
		}
	}
	r.poes[p.TokenID] = append(r.poes[p.TokenID], p)
	return true
}

// All returns every proof for id, earliest first.
func (r *Registry) All(id token.Identifier) []POE {
	r.mu.RLock()
	out := slices.Clone(r.poes[id])
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b POE) int { return a.Time.Compare(b.Time) })
	return out
}

// Earliest returns the earliest proof for id.
func (r *Registry) Earliest(id token.Identifier) (POE, bool) {
	all := r.All(id)
	if len(all) == 0 {
		return POE{}, false
	}
	return all[0], true
}

// Latest returns the latest proof for id.
func (r *Registry) Latest(id token.Identifier) (POE, bool) {
	all := r.All(id)
	if len(all) == 0 {
		return POE{}, false
	}
	return all[len(all)-1], true
}

// Before returns the proofs for id strictly before t.
func (r *Registry) Before(id token.Identifier, t time.Time) []POE {
	var out []POE
	for _, p := range r.All(id) {
		if p.Time.Before(t) {
			out = append(out, p)
		}
	}
	return out
}

// Has reports whether any proof exists for id.
func (r *Registry) Has(id token.Identifier) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.poes[id]) > 0
}

// Tokens returns the identifiers with at least one proof, sorted.
func (r *Registry) Tokens() []token.Identifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]token.Identifier, 0, len(r.poes))
	for id := range r.poes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the total number of proofs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, poes := range r.poes {
		n += len(poes)
	}
	return n
}
