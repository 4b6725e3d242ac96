package consensus

import "github.com/tendergraph-io/node/types"

// Broadcaster sends an outbound consensus message to every other validator.
// Engine never dials peers itself; a concrete net.Transport-backed
// implementation lives in the node package, kept behind an interface the
// engine never constructs directly.
type Broadcaster interface {
	BroadcastProposal(types.Proposal)
	BroadcastPrevote(types.Prevote)
	BroadcastCommit(types.Commit)
}

// BlockApplier is the subset of runtime.Runtime the engine needs: it never
// imports the runtime package directly, so alternative state machines can
// be substituted in tests.
type BlockApplier interface {
	ProduceBlock(height uint64, prevHash types.Hash, producer types.ValidatorID) types.Block
	ValidateBlock(block types.Block) error
	ApplyBlock(block types.Block)
	LatestHash() types.Hash
	LoadState(state *types.State)
}

// RoundState is the in-flight round position the engine asks FinalityStore
// to persist after every mutation — height, round, and whatever this
// validator is locked on — so a restarted node can resume consensus at its
// current round instead of always restarting at round 0.
type RoundState struct {
	Height      uint64
	Round       uint32
	LockedRound int32
	LockedHash  *types.Hash
}

// FinalityStore is the subset of the store package the engine needs to
// persist a committed height. A concrete implementation lives in the store
// package.
type FinalityStore interface {
	Commit(block types.Block, cert types.FinalityCertificate) error
	FastForward(height uint64, state *types.State, cert types.FinalityCertificate) error
	WriteRoundState(rs RoundState) error
}
