package consensus

import (
	"testing"

	"github.com/tendergraph-io/node/types"
)

func mkID(b byte) types.ValidatorID {
	var id types.ValidatorID
	id[0] = b
	return id
}

func testValidatorSet() *types.ValidatorSet {
	return types.NewValidatorSet([]types.Validator{
		{ID: mkID(1), Weight: 1},
		{ID: mkID(2), Weight: 1},
		{ID: mkID(3), Weight: 1},
	})
}

func TestVoteSetReachesQuorum(t *testing.T) {
	vs := testValidatorSet()
	s := newVoteSet(vs)
	hash := types.Hash{0x01}

	if _, w, _ := s.highestWeightHash(); w >= vs.Quorum() {
		t.Fatalf("expected no quorum before any votes")
	}

	s.add(mkID(1), true, hash)
	s.add(mkID(2), true, hash)
	s.add(mkID(3), true, hash)
	got, weight, ok := s.highestWeightHash()
	if !ok || got != hash || weight < vs.Quorum() {
		t.Fatalf("expected quorum on %x after 3 of 3 weight, got ok=%v hash=%x weight=%d", hash, ok, got, weight)
	}
}

func TestVoteSetDetectsEquivocation(t *testing.T) {
	vs := testValidatorSet()
	s := newVoteSet(vs)

	first, equiv := s.add(mkID(1), true, types.Hash{0x01})
	if !first || equiv {
		t.Fatalf("expected the first vote to report first=true, equivocation=false")
	}

	first, equiv = s.add(mkID(1), true, types.Hash{0x02})
	if first || !equiv {
		t.Fatalf("expected a differing second vote to report equivocation")
	}

	// A third vote from the same validator, even repeating the second
	// hash, must not re-report equivocation.
	_, equiv = s.add(mkID(1), true, types.Hash{0x02})
	if equiv {
		t.Fatalf("expected equivocation to be reported only once per validator")
	}
}

func TestVoteSetHighestWeightTieBreak(t *testing.T) {
	vs := testValidatorSet()
	s := newVoteSet(vs)

	lower := types.Hash{0x01}
	higher := types.Hash{0x02}

	s.add(mkID(1), true, higher)
	s.add(mkID(2), true, lower)

	// Equal weight (1 each): tie-break picks the lexicographically
	// smallest hash.
	best, weight, found := s.highestWeightHash()
	if !found || best != lower || weight != 1 {
		t.Fatalf("expected tie-break to prefer %x, got %x (weight %d)", lower, best, weight)
	}

	s.add(mkID(3), true, higher)
	best, weight, found = s.highestWeightHash()
	if !found || best != higher || weight != 2 {
		t.Fatalf("expected %x to win outright with weight 2, got %x (weight %d)", higher, best, weight)
	}
}

func TestVoteSetNilVoteCarriesNoWeight(t *testing.T) {
	vs := testValidatorSet()
	s := newVoteSet(vs)
	s.add(mkID(1), false, types.ZeroHash)
	if w := s.weightOfHash(types.ZeroHash); w != 0 {
		t.Fatalf("expected a nil vote to contribute no weight, got %d", w)
	}
}

func TestCommitSetProducesCertificateAtQuorum(t *testing.T) {
	vs := testValidatorSet()
	s := newCommitSet(vs)
	hash := types.Hash{0x03}

	ps := newVoteSet(vs)

	s.add(types.Commit{Height: 5, BlockHash: hash, Validator: mkID(1)})
	if _, w, _ := s.highestWeightHash(ps); w >= vs.Quorum() {
		t.Fatalf("expected no quorum weight after a single commit")
	}

	s.add(types.Commit{Height: 5, BlockHash: hash, Validator: mkID(2)})
	s.add(types.Commit{Height: 5, BlockHash: hash, Validator: mkID(3)})
	winner, weight, found := s.highestWeightHash(ps)
	if !found || winner != hash || weight < vs.Quorum() {
		t.Fatalf("expected %x to reach quorum weight, got found=%v hash=%x weight=%d", hash, found, winner, weight)
	}
	cert, ok := s.certificateFor(5, winner)
	if !ok {
		t.Fatalf("expected a certificate once quorum weight is reached")
	}
	if cert.Height != 5 || cert.BlockHash != hash || len(cert.Commits) != 3 {
		t.Fatalf("unexpected certificate: %+v", cert)
	}
}

func TestCommitSetHighestWeightFallsBackToPrevoteWeightThenHash(t *testing.T) {
	vs := testValidatorSet()
	cs := newCommitSet(vs)
	ps := newVoteSet(vs)

	lower := types.Hash{0x01}
	higher := types.Hash{0x02}

	// Equal commit weight (1 each) but no prevotes recorded for either:
	// falls through to the lexicographically smallest hash.
	cs.add(types.Commit{Height: 9, BlockHash: higher, Validator: mkID(1)})
	cs.add(types.Commit{Height: 9, BlockHash: lower, Validator: mkID(2)})
	best, weight, found := cs.highestWeightHash(ps)
	if !found || best != lower || weight != 1 {
		t.Fatalf("expected hash tie-break to prefer %x, got %x (weight %d)", lower, best, weight)
	}

	// Give "higher" more prevote backing than "lower": the prevote-weight
	// tier now decides the tie instead of falling through to hash order.
	ps.add(mkID(1), true, higher)
	ps.add(mkID(2), true, higher)
	ps.add(mkID(3), true, lower)
	best, weight, found = cs.highestWeightHash(ps)
	if !found || best != higher || weight != 1 {
		t.Fatalf("expected prevote weight to break the commit-weight tie in favor of %x, got %x (weight %d)", higher, best, weight)
	}
}

func TestCommitSetEquivocation(t *testing.T) {
	vs := testValidatorSet()
	s := newCommitSet(vs)

	_, equiv := s.add(types.Commit{Height: 1, BlockHash: types.Hash{0x01}, Validator: mkID(1)})
	if equiv {
		t.Fatalf("expected the first commit not to report equivocation")
	}
	_, equiv = s.add(types.Commit{Height: 1, BlockHash: types.Hash{0x02}, Validator: mkID(1)})
	if !equiv {
		t.Fatalf("expected a differing second commit to report equivocation")
	}
}
