package net

import "github.com/tendergraph-io/node/types"

// ProposalRequest carries a leader's Proposal to a peer.
type ProposalRequest struct {
	FromID   types.ValidatorID
	Proposal types.Proposal
}

// ProposalResponse acknowledges receipt of a ProposalRequest.
type ProposalResponse struct {
	FromID types.ValidatorID
}

// PrevoteRequest carries a Prevote to a peer.
type PrevoteRequest struct {
	FromID  types.ValidatorID
	Prevote types.Prevote
}

// PrevoteResponse acknowledges receipt of a PrevoteRequest.
type PrevoteResponse struct {
	FromID types.ValidatorID
}

// CommitRequest carries a Commit to a peer.
type CommitRequest struct {
	FromID types.ValidatorID
	Commit types.Commit
}

// CommitResponse acknowledges receipt of a CommitRequest.
type CommitResponse struct {
	FromID types.ValidatorID
}

// SubmitTxRequest carries a raw transaction wire payload — the exact bytes
// verifier.VerifyTransaction expects — from a client or peer into the
// mempool.
type SubmitTxRequest struct {
	Payload []byte
}

// SubmitTxResponse reports whether the submitted transaction was admitted.
type SubmitTxResponse struct {
	Accepted bool
	Error    string
}

// StateSyncRequest asks a peer for its latest finalized state and
// certificate, so a node that fell far behind can fast-forward instead of
// replaying every intervening block.
type StateSyncRequest struct {
	FromID types.ValidatorID
}

// StateSyncResponse carries the encoded state and finality certificate for
// the peer's latest finalized height.
type StateSyncResponse struct {
	Height    uint64
	State     []byte
	Cert      types.FinalityCertificate
	Available bool
}
