package node

import (
	"github.com/sirupsen/logrus"

	"github.com/tendergraph-io/node/consensus"
	"github.com/tendergraph-io/node/net"
	"github.com/tendergraph-io/node/runtime"
	"github.com/tendergraph-io/node/store"
	"github.com/tendergraph-io/node/types"
)

// finalityStore adapts runtime.Runtime and store.Store to
// consensus.FinalityStore. The engine only ever hands it a finalized block
// plus its certificate; finalityStore is the one place that knows Store's
// Commit also needs a state snapshot, so the engine itself never depends
// on Runtime beyond the BlockApplier interface it already has.
type finalityStore struct {
	store   *store.Store
	runtime *runtime.Runtime
}

func (f *finalityStore) Commit(block types.Block, cert types.FinalityCertificate) error {
	return f.store.Commit(block, f.runtime.StateSnapshot(), cert)
}

func (f *finalityStore) FastForward(height uint64, state *types.State, cert types.FinalityCertificate) error {
	return f.store.FastForward(height, state, cert)
}

func (f *finalityStore) WriteRoundState(rs consensus.RoundState) error {
	return f.store.WriteRoundState(store.RoundState{
		Height:      rs.Height,
		Round:       rs.Round,
		LockedRound: rs.LockedRound,
		LockedHash:  rs.LockedHash,
	})
}

// broadcaster adapts net.Transport to consensus.Broadcaster, fanning a
// locally-produced message out to every other validator in the set. Errors
// from individual peers are logged and otherwise ignored: the gossip
// itself is the liveness mechanism — a dropped send is not resent; the
// next phase timeout moves the round on and validators send fresh messages
// for it.
type broadcaster struct {
	transport net.Transport
	vs        *types.ValidatorSet
	self      types.ValidatorID
	addrBook  map[types.ValidatorID]string
	logger    *logrus.Entry
}

func (b *broadcaster) peers() []types.ValidatorID {
	out := make([]types.ValidatorID, 0, b.vs.Len())
	for _, v := range b.vs.Sorted {
		if v.ID == b.self {
			continue
		}
		out = append(out, v.ID)
	}
	return out
}

func (b *broadcaster) BroadcastProposal(p types.Proposal) {
	req := &net.ProposalRequest{FromID: b.self, Proposal: p}
	for _, id := range b.peers() {
		addr, ok := b.addrBook[id]
		if !ok {
			continue
		}
		var resp net.ProposalResponse
		if err := b.transport.Proposal(addr, req, &resp); err != nil {
			b.logger.WithError(err).WithField("peer", id.Hex()).Debug("proposal send failed")
		}
	}
}

func (b *broadcaster) BroadcastPrevote(v types.Prevote) {
	req := &net.PrevoteRequest{FromID: b.self, Prevote: v}
	for _, id := range b.peers() {
		addr, ok := b.addrBook[id]
		if !ok {
			continue
		}
		var resp net.PrevoteResponse
		if err := b.transport.Prevote(addr, req, &resp); err != nil {
			b.logger.WithError(err).WithField("peer", id.Hex()).Debug("prevote send failed")
		}
	}
}

func (b *broadcaster) BroadcastCommit(c types.Commit) {
	req := &net.CommitRequest{FromID: b.self, Commit: c}
	for _, id := range b.peers() {
		addr, ok := b.addrBook[id]
		if !ok {
			continue
		}
		var resp net.CommitResponse
		if err := b.transport.Commit(addr, req, &resp); err != nil {
			b.logger.WithError(err).WithField("peer", id.Hex()).Debug("commit send failed")
		}
	}
}
