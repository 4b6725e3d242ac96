package node

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tendergraph-io/node/common"
	"github.com/tendergraph-io/node/config"
	"github.com/tendergraph-io/node/consensus"
	"github.com/tendergraph-io/node/crypto"
	"github.com/tendergraph-io/node/net"
	"github.com/tendergraph-io/node/runtime"
	"github.com/tendergraph-io/node/store"
	"github.com/tendergraph-io/node/types"
)

type fixtureValidator struct {
	id   types.ValidatorID
	pub  []byte
	priv ed25519.PrivateKey
}

func newFixtureValidator(t *testing.T) fixtureValidator {
	t.Helper()
	pub, priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("unexpected error generating key: %v", err)
	}
	id, ok := types.ValidatorIDFromBytes(pub)
	if !ok {
		t.Fatalf("unexpected error building validator id")
	}
	return fixtureValidator{id: id, pub: pub, priv: priv}
}

func (v fixtureValidator) sign(b []byte) []byte {
	return crypto.Sign(v.priv, b)
}

func (v fixtureValidator) commit(height uint64, hash types.Hash) types.Commit {
	c := types.Commit{Height: height, BlockHash: hash, Validator: v.id}
	sig := v.sign(c.SignBytes())
	copy(c.Signature[:], sig)
	return c
}

func fastTestTimeouts() consensus.Timeouts {
	return consensus.Timeouts{
		ProposeBase: 20 * time.Millisecond, ProposeDelta: 5 * time.Millisecond,
		PrevoteBase: 20 * time.Millisecond, PrevoteDelta: 5 * time.Millisecond,
		CommitBase: 20 * time.Millisecond, CommitDelta: 5 * time.Millisecond,
	}
}

// newFixtureNode assembles a Node the way Init would, against a single
// fixture validator, without touching the filesystem for keys or the
// validator set file.
func newFixtureNode(t *testing.T, self fixtureValidator, vs *types.ValidatorSet, startHeight uint64) *Node {
	t.Helper()
	logger := logrus.NewEntry(common.NewTestLogger(t))

	s, err := store.Open(t.TempDir(), 0, logger)
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	rt := runtime.New(types.NewGenesisState(), runtime.Config{Logger: logger})
	fs := &finalityStore{store: s, runtime: rt}

	_, trans := net.NewInmemTransport("")
	t.Cleanup(func() { trans.Close() })

	bc := &broadcaster{transport: trans, vs: vs, self: self.id, addrBook: map[types.ValidatorID]string{}, logger: logger}

	engine := consensus.New(vs, self.id, self.priv, startHeight, rt, fs, bc, fastTestTimeouts(), 0, logger)

	return &Node{
		Config:       config.NewDefaultConfig(),
		Logger:       logger,
		Transport:    trans,
		Store:        s,
		Runtime:      rt,
		Engine:       engine,
		ValidatorSet: vs,
		Self:         self.id,
		PrivKey:      self.priv,
		shutdownCh:   make(chan struct{}),
	}
}

func TestHandleSubmitTxAcceptsValidTransaction(t *testing.T) {
	self := newFixtureValidator(t)
	recipient := newFixtureValidator(t)
	vs := types.NewValidatorSet([]types.Validator{{ID: self.id, Weight: 1}})
	n := newFixtureNode(t, self, vs, 1)
	n.Runtime.LoadState(func() *types.State {
		st := types.NewGenesisState()
		st.Accounts[self.id] = types.Account{Balance: 100}
		return st
	}())

	body := types.EncodeBody(recipient.id, 10, 1)
	payload := append(append([]byte{}, body...), self.pub...)
	payload = append(payload, self.sign(payload)...)

	respCh := make(chan net.RPCResponse, 1)
	n.handleSubmitTx(&net.SubmitTxRequest{Payload: payload}, net.RPC{RespChan: respCh})

	resp := <-respCh
	sr := resp.Response.(*net.SubmitTxResponse)
	if !sr.Accepted {
		t.Fatalf("expected transaction to be accepted, got error %q", sr.Error)
	}
}

func TestHandleSubmitTxRejectsBadSignature(t *testing.T) {
	self := newFixtureValidator(t)
	recipient := newFixtureValidator(t)
	vs := types.NewValidatorSet([]types.Validator{{ID: self.id, Weight: 1}})
	n := newFixtureNode(t, self, vs, 1)

	body := types.EncodeBody(recipient.id, 10, 1)
	payload := append(append([]byte{}, body...), self.pub...)
	payload = append(payload, make([]byte, 64)...) // garbage signature

	respCh := make(chan net.RPCResponse, 1)
	n.handleSubmitTx(&net.SubmitTxRequest{Payload: payload}, net.RPC{RespChan: respCh})

	resp := <-respCh
	sr := resp.Response.(*net.SubmitTxResponse)
	if sr.Accepted {
		t.Fatalf("expected a garbage signature to be rejected")
	}
}

func TestHandleStateSyncUnavailableAtGenesis(t *testing.T) {
	self := newFixtureValidator(t)
	vs := types.NewValidatorSet([]types.Validator{{ID: self.id, Weight: 1}})
	n := newFixtureNode(t, self, vs, 1)

	respCh := make(chan net.RPCResponse, 1)
	n.handleStateSync(&net.StateSyncRequest{FromID: self.id}, net.RPC{RespChan: respCh})

	resp := <-respCh
	sr := resp.Response.(*net.StateSyncResponse)
	if sr.Available {
		t.Fatalf("expected no finalized state to share before any height is committed")
	}
}

func TestHandleStateSyncAvailableAfterCommit(t *testing.T) {
	self := newFixtureValidator(t)
	vs := types.NewValidatorSet([]types.Validator{{ID: self.id, Weight: 1}})
	// Build the node already past height 1, the way Node.initRuntimeAndEngine
	// would after a recovery that found height 1 on disk.
	n := newFixtureNode(t, self, vs, 2)

	block := types.Block{Height: 1, PrevHash: types.ZeroHash}
	state := types.NewGenesisState()
	state.ApplyBlock(block)
	cert := types.FinalityCertificate{Height: 1, BlockHash: block.Hash(), Commits: []types.Commit{self.commit(1, block.Hash())}}
	if err := n.Store.Commit(block, state, cert); err != nil {
		t.Fatalf("unexpected error committing fixture block: %v", err)
	}

	respCh := make(chan net.RPCResponse, 1)
	n.handleStateSync(&net.StateSyncRequest{FromID: self.id}, net.RPC{RespChan: respCh})

	resp := <-respCh
	sr := resp.Response.(*net.StateSyncResponse)
	if !sr.Available || sr.Height != 1 {
		t.Fatalf("unexpected state sync response: %+v", sr)
	}
}

func TestVerifyFinalityCertificateRejectsBelowQuorum(t *testing.T) {
	self := newFixtureValidator(t)
	other := newFixtureValidator(t)
	vs := types.NewValidatorSet([]types.Validator{{ID: self.id, Weight: 1}, {ID: other.id, Weight: 1}})
	n := newFixtureNode(t, self, vs, 1)

	hash := types.Hash{0x09}
	cert := types.FinalityCertificate{Height: 5, BlockHash: hash, Commits: []types.Commit{self.commit(5, hash)}}
	if err := n.verifyFinalityCertificate(cert); err == nil {
		t.Fatalf("expected a single signer's weight to fall below quorum of 2")
	}
}

func TestVerifyFinalityCertificateAcceptsQuorum(t *testing.T) {
	self := newFixtureValidator(t)
	other := newFixtureValidator(t)
	vs := types.NewValidatorSet([]types.Validator{{ID: self.id, Weight: 1}, {ID: other.id, Weight: 1}})
	n := newFixtureNode(t, self, vs, 1)

	hash := types.Hash{0x09}
	cert := types.FinalityCertificate{Height: 5, BlockHash: hash, Commits: []types.Commit{
		self.commit(5, hash), other.commit(5, hash),
	}}
	if err := n.verifyFinalityCertificate(cert); err != nil {
		t.Fatalf("unexpected error verifying a quorum certificate: %v", err)
	}
}

func TestVerifyFinalityCertificateRejectsForgedSignature(t *testing.T) {
	self := newFixtureValidator(t)
	other := newFixtureValidator(t)
	vs := types.NewValidatorSet([]types.Validator{{ID: self.id, Weight: 1}, {ID: other.id, Weight: 1}})
	n := newFixtureNode(t, self, vs, 1)

	hash := types.Hash{0x09}
	forged := types.Commit{Height: 5, BlockHash: hash, Validator: other.id} // zero signature
	cert := types.FinalityCertificate{Height: 5, BlockHash: hash, Commits: []types.Commit{
		self.commit(5, hash), forged,
	}}
	if err := n.verifyFinalityCertificate(cert); err == nil {
		t.Fatalf("expected a forged/unsigned commit to be rejected even though named weight would meet quorum")
	}
}
