package token

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
)

// ArchiveTimestamp is one archive timestamp of an evidence record together with
// its reduced hash tree. HashTree[i] holds the sibling hashes of level i.
type ArchiveTimestamp struct {
	Timestamp *TimestampToken
	HashTree  [][][]byte
}

// ArchiveTimestampChain is a sequence of archive timestamps sharing a digest
// algorithm. A new chain starts on hash-tree renewal.
type ArchiveTimestampChain struct {
	DigestAlgorithm DigestAlgorithm
	Timestamps      []ArchiveTimestamp
}

// EvidenceRecordParams carries the decoded content of an evidence record.
type EvidenceRecordParams struct {
	Chains []ArchiveTimestampChain
	// ArchivedData are the protected data objects.
	ArchivedData [][]byte
	// Covers lists tokens the record proves the existence of.
	Covers []Identifier
	// Encoded is the full record encoding.
	Encoded []byte
}

// EvidenceRecordToken is an immutable evidence record (RFC 4998 style).
type EvidenceRecordToken struct {
	p  EvidenceRecordParams
	id Identifier
}

// NewEvidenceRecordToken validates params and builds an evidence record token.
func NewEvidenceRecordToken(p EvidenceRecordParams) (*EvidenceRecordToken, error) {
	if len(p.Chains) == 0 {
		return nil, ErrNoArchiveTimestamp
	}
	for i, chain := range p.Chains {
		if chain.DigestAlgorithm == "" {
			return nil, fmt.Errorf("chain %d: %w", i, ErrMissingDigestAlgorithm)
		}
		if _, err := chain.DigestAlgorithm.New(); err != nil {
			return nil, fmt.Errorf("chain %d: %w", i, err)
		}
		if len(chain.Timestamps) == 0 {
			return nil, fmt.Errorf("chain %d: %w", i, ErrNoArchiveTimestamp)
		}
		for j, ats := range chain.Timestamps {
			if ats.Timestamp == nil {
				return nil, fmt.Errorf("chain %d timestamp %d: %w", i, j, ErrNoArchiveTimestamp)
			}
		}
	}
	if len(p.Encoded) == 0 {
		for _, chain := range p.Chains {
			for _, ats := range chain.Timestamps {
				p.Encoded = append(p.Encoded, ats.Timestamp.Encoded()...)
			}
		}
	}
	return &EvidenceRecordToken{
		p:  p,
		id: newIdentifier(prefixEvidenceRecord, p.Encoded),
	}, nil
}

// ID returns the evidence record identifier.
func (e *EvidenceRecordToken) ID() Identifier { return e.id }

// Encoded returns the record encoding.
func (e *EvidenceRecordToken) Encoded() []byte { return e.p.Encoded }

// Digest computes the digest of the record encoding.
func (e *EvidenceRecordToken) Digest(alg DigestAlgorithm) ([]byte, error) {
	return digestOf(e.p.Encoded, alg)
}

// Chains returns the archive timestamp chains.
func (e *EvidenceRecordToken) Chains() []ArchiveTimestampChain { return e.p.Chains }

// ArchivedData returns the protected data objects.
func (e *EvidenceRecordToken) ArchivedData() [][]byte { return e.p.ArchivedData }

// Covers returns the tokens the record proves the existence of.
func (e *EvidenceRecordToken) Covers() []Identifier { return e.p.Covers }

// Timestamps returns every archive timestamp in chain order.
func (e *EvidenceRecordToken) Timestamps() []*TimestampToken {
	var out []*TimestampToken
	for _, chain := range e.p.Chains {
		for _, ats := range chain.Timestamps {
			out = append(out, ats.Timestamp)
		}
	}
	return out
}

// FirstTimestamp returns the earliest archive timestamp of the record.
func (e *EvidenceRecordToken) FirstTimestamp() *TimestampToken {
	return e.p.Chains[0].Timestamps[0].Timestamp
}

// ExpectedImprints computes, for every archive timestamp, the digest its message
// imprint must carry.
//
// The first timestamp of the first chain covers the archived data objects. Every
// following timestamp in a chain covers the previous timestamp's encoding. The
// first timestamp of a renewed chain covers the archived data objects together
// with the last timestamp of the previous chain.
func (e *EvidenceRecordToken) ExpectedImprints() (map[Identifier][]byte, error) {
	out := make(map[Identifier][]byte)
	var previousChainLast *TimestampToken
	for i, chain := range e.p.Chains {
		alg := chain.DigestAlgorithm
		var previous *TimestampToken
		for j, ats := range chain.Timestamps {
			var leaves [][]byte
			if previous == nil {
				for _, data := range e.p.ArchivedData {
					h, err := alg.Sum(data)
					if err != nil {
						return nil, err
					}
					leaves = append(leaves, h)
				}
				if previousChainLast != nil {
					h, err := previousChainLast.Digest(alg)
					if err != nil {
						return nil, err
					}
					leaves = append(leaves, h)
				}
			} else {
				h, err := previous.Digest(alg)
				if err != nil {
					return nil, err
				}
				leaves = [][]byte{h}
			}
			if len(leaves) == 0 {
				return nil, fmt.Errorf("chain %d timestamp %d: %w", i, j, errors.New("nothing to cover"))
			}
			root, err := ReducedHashTreeRoot(alg, leaves, ats.HashTree)
			if err != nil {
				return nil, fmt.Errorf("chain %d timestamp %d: %w", i, j, err)
			}
			out[ats.Timestamp.ID()] = root
			previous = ats.Timestamp
		}
		previousChainLast = previous
	}
	return out, nil
}

// CheckIntegrity verifies that every archive timestamp imprint matches the hash tree.
func (e *EvidenceRecordToken) CheckIntegrity() error {
	expected, err := e.ExpectedImprints()
	if err != nil {
		return err
	}
	for _, ts := range e.Timestamps() {
		if !ts.MatchesDigest(expected[ts.ID()], false) {
			return fmt.Errorf("%w: %s", ErrHashTreeMismatch, ts.ID())
		}
	}
	return nil
}

// ReducedHashTreeRoot computes the root of a reduced hash tree. The first level
// groups leaves with tree[0]; every further level groups the running hash with
// its siblings. A group is hashed over the binary-sorted concatenation of its
// members; a single-member group is its own hash.
func ReducedHashTreeRoot(alg DigestAlgorithm, leaves [][]byte, tree [][][]byte) ([]byte, error) {
	if len(leaves) == 0 {
		return nil, errors.New("no leaves")
	}
	group := slices.Clone(leaves)
	if len(tree) > 0 {
		group = append(group, tree[0]...)
		tree = tree[1:]
	}
	current, err := hashGroup(alg, group)
	if err != nil {
		return nil, err
	}
	for _, siblings := range tree {
		current, err = hashGroup(alg, append([][]byte{current}, siblings...))
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func hashGroup(alg DigestAlgorithm, group [][]byte) ([]byte, error) {
	if len(group) == 1 {
		return group[0], nil
	}
	sorted := slices.Clone(group)
	slices.SortFunc(sorted, bytes.Compare)
	return alg.Sum(bytes.Join(sorted, nil))
}
