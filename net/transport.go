package net

// Transport lets a node exchange consensus messages and transactions with
// other nodes, independent of the underlying stream technology. The node
// package constructs one concrete implementation (TCP or Inmem) and only
// ever programs against this interface.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to
	// consume and respond to RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Proposal, Prevote, Commit and SubmitTx send the appropriate RPC to
	// the target node.

	Proposal(target string, args *ProposalRequest, resp *ProposalResponse) error

	Prevote(target string, args *PrevoteRequest, resp *PrevoteResponse) error

	Commit(target string, args *CommitRequest, resp *CommitResponse) error

	SubmitTx(target string, args *SubmitTxRequest, resp *SubmitTxResponse) error

	StateSync(target string, args *StateSyncRequest, resp *StateSyncResponse) error

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
