package types

import (
	"encoding/binary"

	"github.com/tendergraph-io/node/crypto"
)

// encodeHeightRound writes the (height, round) pair every consensus message
// starts with: height as 8-byte BE, round as 4-byte BE.
func encodeHeightRound(height uint64, round uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], height)
	binary.BigEndian.PutUint32(buf[8:12], round)
	return buf
}

func decodeHeightRound(buf []byte) (height uint64, round uint32) {
	height = binary.BigEndian.Uint64(buf[0:8])
	round = binary.BigEndian.Uint32(buf[8:12])
	return
}

// Proposal carries an executable block from the deterministic leader for
// (height, round). Signed by the proposer only — the block body carries
// no separate signature.
type Proposal struct {
	Height    uint64
	Round     uint32
	Block     Block
	Proposer  ValidatorID
	Signature [crypto.SignatureSize]byte
}

// SignBytes returns the canonical encoding the proposer's signature covers:
// every field except the signature itself.
func (p Proposal) SignBytes() []byte {
	blockBytes := p.Block.Encode()
	out := make([]byte, 0, 12+len(blockBytes)+32)
	out = append(out, encodeHeightRound(p.Height, p.Round)...)
	out = append(out, blockBytes...)
	out = append(out, p.Proposer.Bytes()...)
	return out
}

// Prevote is one validator's vote for a block hash (or nil) in a given
// round. At most one prevote per (validator, height, round) is admitted by
// the consensus engine; a second distinct one is equivocation evidence.
type Prevote struct {
	Height    uint64
	Round     uint32
	HasBlock  bool
	BlockHash Hash
	Validator ValidatorID
	Signature [crypto.SignatureSize]byte
}

// SignBytes returns the canonical encoding the vote signature covers.
func (v Prevote) SignBytes() []byte {
	out := make([]byte, 0, 12+1+32+32)
	out = append(out, encodeHeightRound(v.Height, v.Round)...)
	if v.HasBlock {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = append(out, v.BlockHash[:]...)
	out = append(out, v.Validator.Bytes()...)
	return out
}

// Commit is one validator's commit for a non-nil block hash, only ever
// emitted after observing a prevote quorum for that hash.
type Commit struct {
	Height    uint64
	Round     uint32
	BlockHash Hash
	Validator ValidatorID
	Signature [crypto.SignatureSize]byte
}

// SignBytes returns the canonical encoding the commit signature covers.
func (c Commit) SignBytes() []byte {
	out := make([]byte, 0, 12+32+32)
	out = append(out, encodeHeightRound(c.Height, c.Round)...)
	out = append(out, c.BlockHash[:]...)
	out = append(out, c.Validator.Bytes()...)
	return out
}

// FinalityCertificate is the irrevocable proof that a block reached
// commit-quorum at a height: an independently-valid Commit from each
// signer, combined weight >= Q.
type FinalityCertificate struct {
	Height    uint64
	BlockHash Hash
	Commits   []Commit
}

// CombinedWeight sums the weight of every distinct signer in the
// certificate under vs, counting each signer once. It does not check
// signatures, and store recovery does not call it.
func (fc FinalityCertificate) CombinedWeight(vs *ValidatorSet) int {
	seen := make(map[ValidatorID]bool, len(fc.Commits))
	total := 0
	for _, c := range fc.Commits {
		if seen[c.Validator] {
			continue
		}
		seen[c.Validator] = true
		total += vs.WeightOf(c.Validator)
	}
	return total
}
