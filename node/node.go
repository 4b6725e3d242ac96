// Package node wires together the Verifier, Runtime, Consensus and Store
// layers behind a single TCP (or Inmem) Transport. Node owns the process
// lifecycle: Init loads the validator set and key, opens the store and
// recovers from a crash, Run starts the consensus engine and the inbound-message
// pump, and Shutdown tears both down in order.
package node

import (
	"crypto/ed25519"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tendergraph-io/node/config"
	"github.com/tendergraph-io/node/consensus"
	"github.com/tendergraph-io/node/crypto"
	"github.com/tendergraph-io/node/net"
	"github.com/tendergraph-io/node/runtime"
	"github.com/tendergraph-io/node/store"
	"github.com/tendergraph-io/node/types"
	"github.com/tendergraph-io/node/verifier"
)

// Node is the top-level assembly of one validator process.
type Node struct {
	Config *config.Config
	Logger *logrus.Entry

	Transport net.Transport
	Store     *store.Store
	Runtime   *runtime.Runtime
	Engine    *consensus.Engine

	ValidatorSet *types.ValidatorSet
	Self         types.ValidatorID
	PrivKey      ed25519.PrivateKey

	addrBook map[types.ValidatorID]string

	shutdownCh chan struct{}
}

// New assembles a Node from cfg without starting any goroutines. Callers
// must call Init before Run.
func New(cfg *config.Config) *Node {
	return &Node{
		Config:     cfg,
		Logger:     cfg.Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Init performs every step needed before Run can be called: load the
// validator set, load the private key (failing if none exists yet; the
// keygen command creates it), open the transport and
// the store, recover from whatever is already on disk, and build the
// Runtime and Engine from the recovered state.
func (n *Node) Init() error {
	if err := n.initValidators(); err != nil {
		return err
	}
	if err := n.initKey(); err != nil {
		return err
	}
	if err := n.initTransport(); err != nil {
		return err
	}
	if err := n.initStore(); err != nil {
		return err
	}
	if err := n.initRuntimeAndEngine(); err != nil {
		return err
	}
	return nil
}

func (n *Node) initValidators() error {
	vs, addrs, err := config.LoadValidatorSet(n.Config.ValidatorsPath())
	if err != nil {
		return fmt.Errorf("loading validator set: %w", err)
	}
	n.ValidatorSet = vs
	n.addrBook = addrs
	return nil
}

func (n *Node) initKey() error {
	kf := crypto.NewKeyFile(n.Config.Keyfile())

	priv, err := kf.ReadKey()
	if err != nil {
		return fmt.Errorf("reading private key: %w", err)
	}
	if priv == nil {
		return fmt.Errorf("no private key at %s; run keygen first", n.Config.Keyfile())
	}

	pub := priv.Public().(ed25519.PublicKey)
	self, ok := types.ValidatorIDFromBytes(pub)
	if !ok {
		return fmt.Errorf("malformed public key derived from %s", n.Config.Keyfile())
	}
	if !n.ValidatorSet.Contains(self) {
		return fmt.Errorf("this node's key (%s) is not a member of the validator set", self.Hex())
	}

	n.PrivKey = priv
	n.Self = self
	return nil
}

func (n *Node) initTransport() error {
	transport, err := net.NewTCPTransport(
		n.Config.BindAddr,
		n.Config.AdvertiseAddr,
		n.Config.MaxPool,
		n.Config.TCPTimeout,
		n.Logger,
	)
	if err != nil {
		return fmt.Errorf("initializing transport: %w", err)
	}
	n.Transport = transport
	return nil
}

func (n *Node) initStore() error {
	s, err := store.Open(n.Config.DataDir, n.Config.SnapshotInterval, n.Logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	n.Store = s
	return nil
}

func (n *Node) initRuntimeAndEngine() error {
	rt := runtime.New(types.NewGenesisState(), runtime.Config{
		MaxTxsPerBlock: n.Config.MaxTxsPerBlock,
		Logger:         n.Logger,
	})

	result, err := n.Store.Recover(rt)
	if err != nil {
		return fmt.Errorf("recovering store: %w", err)
	}
	if result.Height == 0 {
		if err := n.Store.InitChainMeta(n.Config.ChainID, types.ZeroHash); err != nil {
			return fmt.Errorf("initializing chain metadata: %w", err)
		}
	}

	n.Runtime = rt

	timeouts := consensus.Timeouts{
		ProposeBase: n.Config.ProposeTimeoutBase, ProposeDelta: n.Config.TimeoutDelta,
		PrevoteBase: n.Config.PrevoteTimeoutBase, PrevoteDelta: n.Config.TimeoutDelta,
		CommitBase: n.Config.CommitTimeoutBase, CommitDelta: n.Config.TimeoutDelta,
	}

	fs := &finalityStore{store: n.Store, runtime: rt}
	bc := &broadcaster{transport: n.Transport, vs: n.ValidatorSet, self: n.Self, addrBook: n.addrBook, logger: n.Logger}

	// Recover reports the highest height already finalized on disk (0 at
	// genesis, which is never itself run through consensus); the engine
	// always starts at the next height to finalize.
	n.Engine = consensus.New(n.ValidatorSet, n.Self, n.PrivKey, result.Height+1, rt, fs, bc, timeouts, n.Config.SuspendLimit, n.Logger)

	if result.RoundState != nil {
		n.Engine.Resume(consensus.RoundState{
			Height:      result.RoundState.Height,
			Round:       result.RoundState.Round,
			LockedRound: result.RoundState.LockedRound,
			LockedHash:  result.RoundState.LockedHash,
		})
	}

	return nil
}

// Run starts the transport listener, the inbound-RPC pump, and the
// consensus engine, and blocks until Shutdown is called.
func (n *Node) Run() {
	go n.Transport.Listen()
	go n.pumpInbound()
	go n.Engine.Run()

	<-n.shutdownCh
}

// Shutdown stops the engine and closes the transport and store.
func (n *Node) Shutdown() {
	n.Engine.Shutdown()
	n.Transport.Close()
	n.Store.Close()
	close(n.shutdownCh)
}

// pumpInbound drains the transport's RPC channel, verifies each inbound
// message through the verifier package, and feeds accepted ones to the
// engine or runtime. The only state the consumer itself owns is the
// verification gate; everything else belongs to Engine or Runtime.
func (n *Node) pumpInbound() {
	for rpc := range n.Transport.Consumer() {
		switch cmd := rpc.Command.(type) {
		case *net.ProposalRequest:
			n.handleProposal(cmd, rpc)
		case *net.PrevoteRequest:
			n.handlePrevote(cmd, rpc)
		case *net.CommitRequest:
			n.handleCommit(cmd, rpc)
		case *net.SubmitTxRequest:
			n.handleSubmitTx(cmd, rpc)
		case *net.StateSyncRequest:
			n.handleStateSync(cmd, rpc)
		default:
			rpc.Respond(nil, fmt.Errorf("unknown rpc command %T", cmd))
		}
	}
}

func (n *Node) handleProposal(req *net.ProposalRequest, rpc net.RPC) {
	vp, err := verifier.VerifyProposal(req.Proposal, n.ValidatorSet)
	if err != nil {
		n.Logger.WithError(err).Warn("rejected proposal")
		rpc.Respond(nil, err)
		return
	}
	n.Engine.SubmitProposal(vp)
	rpc.Respond(&net.ProposalResponse{FromID: n.Self}, nil)
}

func (n *Node) handlePrevote(req *net.PrevoteRequest, rpc net.RPC) {
	vv, err := verifier.VerifyPrevote(req.Prevote, n.ValidatorSet)
	if err != nil {
		n.Logger.WithError(err).Warn("rejected prevote")
		rpc.Respond(nil, err)
		return
	}
	n.Engine.SubmitPrevote(vv)
	rpc.Respond(&net.PrevoteResponse{FromID: n.Self}, nil)
}

func (n *Node) handleCommit(req *net.CommitRequest, rpc net.RPC) {
	vc, err := verifier.VerifyCommit(req.Commit, n.ValidatorSet)
	if err != nil {
		n.Logger.WithError(err).Warn("rejected commit")
		rpc.Respond(nil, err)
		return
	}
	n.Engine.SubmitCommit(vc)
	rpc.Respond(&net.CommitResponse{FromID: n.Self}, nil)
}

func (n *Node) handleSubmitTx(req *net.SubmitTxRequest, rpc net.RPC) {
	vtx, err := verifier.VerifyTransaction(req.Payload)
	if err != nil {
		rpc.Respond(&net.SubmitTxResponse{Accepted: false, Error: err.Error()}, nil)
		return
	}
	if err := n.Runtime.SubmitTransaction(vtx); err != nil {
		rpc.Respond(&net.SubmitTxResponse{Accepted: false, Error: err.Error()}, nil)
		return
	}
	rpc.Respond(&net.SubmitTxResponse{Accepted: true}, nil)
}

func (n *Node) handleStateSync(req *net.StateSyncRequest, rpc net.RPC) {
	height := n.Engine.Height()
	if height == 0 {
		rpc.Respond(&net.StateSyncResponse{Available: false}, nil)
		return
	}
	finalized := height - 1
	cert, err := n.Store.ReadFinality(finalized)
	if err != nil {
		rpc.Respond(&net.StateSyncResponse{Available: false}, nil)
		return
	}
	state, err := n.Store.ReadLatestState()
	if err != nil {
		rpc.Respond(&net.StateSyncResponse{Available: false}, nil)
		return
	}
	rpc.Respond(&net.StateSyncResponse{
		Height:    finalized,
		State:     state.Encode(),
		Cert:      cert,
		Available: true,
	}, nil)
}

// RequestStateSync asks peerAddr for its latest finalized state and
// certificate and, if every commit in the certificate verifies and their
// combined weight meets quorum, fast-forwards the engine to it. Used to
// bootstrap a node that fell far behind rather than replaying every
// intervening block. A peer cannot forge weight by naming validators in
// the certificate without their signatures: each commit is independently
// verified here exactly as it would be coming off the wire during normal
// consensus.
func (n *Node) RequestStateSync(peerAddr string) error {
	var resp net.StateSyncResponse
	if err := n.Transport.StateSync(peerAddr, &net.StateSyncRequest{FromID: n.Self}, &resp); err != nil {
		return fmt.Errorf("requesting state sync from %s: %w", peerAddr, err)
	}
	if !resp.Available {
		return fmt.Errorf("peer %s has no finalized state to share", peerAddr)
	}
	if err := n.verifyFinalityCertificate(resp.Cert); err != nil {
		return fmt.Errorf("state sync certificate from %s: %w", peerAddr, err)
	}

	state, err := types.DecodeState(resp.State)
	if err != nil {
		return fmt.Errorf("decoding state from %s: %w", peerAddr, err)
	}

	return n.Engine.FastForward(resp.Cert, state)
}

// verifyFinalityCertificate checks that every commit in cert is a
// correctly signed vote from a distinct validator for cert's own height
// and block hash, and that their combined weight meets quorum.
func (n *Node) verifyFinalityCertificate(cert types.FinalityCertificate) error {
	seen := make(map[types.ValidatorID]bool, len(cert.Commits))
	weight := 0
	for _, c := range cert.Commits {
		if c.Height != cert.Height || c.BlockHash != cert.BlockHash {
			return fmt.Errorf("commit from %s does not match certificate height/hash", c.Validator.Hex())
		}
		vc, err := verifier.VerifyCommit(c, n.ValidatorSet)
		if err != nil {
			return fmt.Errorf("commit from %s: %w", c.Validator.Hex(), err)
		}
		v := vc.Commit().Validator
		if seen[v] {
			continue
		}
		seen[v] = true
		weight += n.ValidatorSet.WeightOf(v)
	}
	if weight < n.ValidatorSet.Quorum() {
		return fmt.Errorf("combined weight %d below quorum %d", weight, n.ValidatorSet.Quorum())
	}
	return nil
}
