package types

import (
	"bytes"
	"sort"

	"github.com/tendergraph-io/node/common"
)

// ValidatorID is a validator's 32-byte Ed25519 public key. It is the single
// identity used across Proposal, Prevote, Commit and the validator set; it
// is never reused across validator sets.
type ValidatorID [32]byte

// Hex returns the 0X-prefixed uppercase hex representation, the canonical
// display form used for validator identities.
func (v ValidatorID) Hex() string {
	return common.EncodeToString(v[:])
}

// Bytes returns the identifier's raw bytes.
func (v ValidatorID) Bytes() []byte {
	return v[:]
}

// ValidatorIDFromBytes validates and wraps a 32-byte public key.
func ValidatorIDFromBytes(b []byte) (ValidatorID, bool) {
	var id ValidatorID
	if len(b) != len(id) {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// Validator is one member of a ValidatorSet: an identity plus a voting
// weight. Weights are taken per validator from the validator file, so they
// need not be uniform.
type Validator struct {
	ID     ValidatorID
	Weight int
}

// ValidatorSet is the ordered, queryable set of validators for a chain. The
// order is deterministic (lexicographic by ID) so that any two
// implementations iterating the set agree on leader rotation and quorum
// composition: a sorted slice plus an index for O(1) membership checks.
type ValidatorSet struct {
	Sorted []Validator
	byID   map[ValidatorID]int // ValidatorID -> index in Sorted

	totalWeight int
}

// NewValidatorSet builds a ValidatorSet from an unordered slice, sorting it
// into canonical (lexicographic-by-ID) order and precomputing the index and
// total weight.
func NewValidatorSet(validators []Validator) *ValidatorSet {
	sorted := make([]Validator, len(validators))
	copy(sorted, validators)

	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].ID[:], sorted[j].ID[:]) < 0
	})

	byID := make(map[ValidatorID]int, len(sorted))
	total := 0
	for i, v := range sorted {
		byID[v.ID] = i
		total += v.Weight
	}

	return &ValidatorSet{Sorted: sorted, byID: byID, totalWeight: total}
}

// Len returns the number of validators, n.
func (vs *ValidatorSet) Len() int {
	return len(vs.Sorted)
}

// TotalWeight returns W, the sum of all validator weights.
func (vs *ValidatorSet) TotalWeight() int {
	return vs.totalWeight
}

// Quorum returns Q = floor(2W/3) + 1, the minimum combined weight required
// for a prevote or commit set to finalize.
func (vs *ValidatorSet) Quorum() int {
	return 2*vs.totalWeight/3 + 1
}

// IndexOf returns the validator's position in canonical order and whether it
// is a member of the set.
func (vs *ValidatorSet) IndexOf(id ValidatorID) (int, bool) {
	i, ok := vs.byID[id]
	return i, ok
}

// Contains reports whether id is a member of the set.
func (vs *ValidatorSet) Contains(id ValidatorID) bool {
	_, ok := vs.byID[id]
	return ok
}

// WeightOf returns the voting weight of id, or 0 if it is not a member.
func (vs *ValidatorSet) WeightOf(id ValidatorID) int {
	if i, ok := vs.byID[id]; ok {
		return vs.Sorted[i].Weight
	}
	return 0
}

// Leader returns the deterministic leader for (height, round):
// validators[(height+round) mod n]. No election, no randomness.
func (vs *ValidatorSet) Leader(height uint64, round int) ValidatorID {
	n := uint64(len(vs.Sorted))
	idx := (height + uint64(round)) % n
	return vs.Sorted[idx].ID
}
