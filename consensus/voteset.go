package consensus

import "github.com/tendergraph-io/node/types"

// voteRecord is one validator's recorded vote for a (height, round, phase):
// the block hash voted for (zero hash means nil/no-block) plus whether it
// ever voted for a second, different hash — the equivocation signal.
type voteRecord struct {
	hash         types.Hash
	hasBlock     bool
	equivocated  bool
}

// voteSet aggregates prevotes or commits for a single (height, round),
// tracking weight per candidate hash so the engine can detect a quorum
// without re-scanning every vote on each arrival: a plain map plus a
// derived total, no external synchronization (the engine serializes all
// access through its own single goroutine).
type voteSet struct {
	vs        *types.ValidatorSet
	byVoter   map[types.ValidatorID]voteRecord
	weightFor map[types.Hash]int
}

func newVoteSet(vs *types.ValidatorSet) *voteSet {
	return &voteSet{
		vs:        vs,
		byVoter:   make(map[types.ValidatorID]voteRecord),
		weightFor: make(map[types.Hash]int),
	}
}

// add records a vote from voter for hash (hasBlock false means a nil vote,
// which never contributes weight toward any concrete block). It returns
// whether this call is the validator's first vote at this (height, round,
// phase) — a false return with a different hash than the one on file is
// equivocation, reported at most once per validator by the caller.
func (s *voteSet) add(voter types.ValidatorID, hasBlock bool, hash types.Hash) (first bool, equivocation bool) {
	prev, seen := s.byVoter[voter]
	if !seen {
		s.byVoter[voter] = voteRecord{hash: hash, hasBlock: hasBlock}
		if hasBlock {
			s.weightFor[hash] += s.vs.WeightOf(voter)
		}
		return true, false
	}

	if prev.hasBlock == hasBlock && prev.hash == hash {
		return false, false
	}

	// Second, different vote: evidence, but the first vote already cast
	// stands — weight tracking is not retroactively altered.
	if !prev.equivocated {
		prev.equivocated = true
		s.byVoter[voter] = prev
		return false, true
	}
	return false, false
}

// weightOfHash returns the combined weight currently recorded for hash.
func (s *voteSet) weightOfHash(hash types.Hash) int {
	return s.weightFor[hash]
}

// highestWeightHash returns the candidate hash with the greatest combined
// weight, breaking ties by the lexicographically smallest hash (the fork
// choice tie-break rule).
func (s *voteSet) highestWeightHash() (types.Hash, int, bool) {
	var best types.Hash
	bestWeight := -1
	found := false
	for hash, w := range s.weightFor {
		if !found || w > bestWeight || (w == bestWeight && hash.Less(best)) {
			best, bestWeight, found = hash, w, true
		}
	}
	return best, bestWeight, found
}

// commitSet aggregates Commit messages for a single (height, round),
// keeping the signed messages themselves (not just their weight) so a
// commit quorum can be turned directly into a FinalityCertificate.
type commitSet struct {
	vs        *types.ValidatorSet
	byVoter   map[types.ValidatorID]types.Commit
	weightFor map[types.Hash]int
}

func newCommitSet(vs *types.ValidatorSet) *commitSet {
	return &commitSet{
		vs:        vs,
		byVoter:   make(map[types.ValidatorID]types.Commit),
		weightFor: make(map[types.Hash]int),
	}
}

// add records c from its signer. Returns whether this is the signer's
// first commit at this (height, round), and whether a differing second
// commit constitutes equivocation.
func (s *commitSet) add(c types.Commit) (first bool, equivocation bool) {
	prev, seen := s.byVoter[c.Validator]
	if !seen {
		s.byVoter[c.Validator] = c
		s.weightFor[c.BlockHash] += s.vs.WeightOf(c.Validator)
		return true, false
	}
	if prev.BlockHash == c.BlockHash {
		return false, false
	}
	return false, true
}

// certificateFor assembles a FinalityCertificate for a hash already chosen
// by the caller (typically the fork-choice winner from highestWeightHash),
// gathering every commit on file for that hash regardless of weight.
func (s *commitSet) certificateFor(height uint64, hash types.Hash) (types.FinalityCertificate, bool) {
	var commits []types.Commit
	for _, c := range s.byVoter {
		if c.BlockHash == hash {
			commits = append(commits, c)
		}
	}
	if len(commits) == 0 {
		return types.FinalityCertificate{}, false
	}
	return types.FinalityCertificate{Height: height, BlockHash: hash, Commits: commits}, true
}

// weightOfHash returns the combined commit weight currently recorded for hash.
func (s *commitSet) weightOfHash(hash types.Hash) int {
	return s.weightFor[hash]
}

// highestWeightHash is the fork-choice rule among this round's commit
// candidates: the hash with the greatest committed weight wins; a tie is
// broken by whichever candidate also carries the greater prevote weight in
// ps; a remaining tie is broken by the lexicographically smallest hash.
func (s *commitSet) highestWeightHash(ps *voteSet) (types.Hash, int, bool) {
	var best types.Hash
	bestWeight := -1
	found := false
	for hash, w := range s.weightFor {
		switch {
		case !found:
			best, bestWeight, found = hash, w, true
		case w > bestWeight:
			best, bestWeight = hash, w
		case w == bestWeight && (ps.weightOfHash(hash) > ps.weightOfHash(best) ||
			(ps.weightOfHash(hash) == ps.weightOfHash(best) && hash.Less(best))):
			best = hash
		}
	}
	return best, bestWeight, found
}
