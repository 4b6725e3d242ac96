package runtime

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/tendergraph-io/node/common"
	"github.com/tendergraph-io/node/crypto"
	"github.com/tendergraph-io/node/types"
	"github.com/tendergraph-io/node/verifier"
)

type signer struct {
	id   types.ValidatorID
	priv func([]byte) []byte
	pub  []byte
}

func newSigner(t *testing.T) signer {
	t.Helper()
	pub, priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("unexpected error generating key: %v", err)
	}
	id, ok := types.ValidatorIDFromBytes(pub)
	if !ok {
		t.Fatalf("unexpected error building validator id")
	}
	return signer{id: id, pub: pub, priv: func(b []byte) []byte { return crypto.Sign(priv, b) }}
}

func (s signer) verifiedTx(t *testing.T, recipient types.ValidatorID, amount, nonce uint64) verifier.VerifiedTransaction {
	t.Helper()
	body := types.EncodeBody(recipient, amount, nonce)
	payload := append(append([]byte{}, body...), s.pub...)
	payload = append(payload, s.priv(payload)...)
	vtx, err := verifier.VerifyTransaction(payload)
	if err != nil {
		t.Fatalf("unexpected error verifying constructed transaction: %v", err)
	}
	return vtx
}

func newTestRuntime(t *testing.T, genesis *types.State) *Runtime {
	t.Helper()
	return New(genesis, Config{Logger: logrus.NewEntry(common.NewTestLogger(t))})
}

func TestSubmitTransactionAdmitsValidTx(t *testing.T) {
	sender := newSigner(t)
	recipient := newSigner(t)

	genesis := types.NewGenesisState()
	genesis.Accounts[sender.id] = types.Account{Balance: 100}
	rt := newTestRuntime(t, genesis)

	vtx := sender.verifiedTx(t, recipient.id, 10, 1)
	if err := rt.SubmitTransaction(vtx); err != nil {
		t.Fatalf("unexpected error admitting valid transaction: %v", err)
	}
	if rt.MempoolLen() != 1 {
		t.Fatalf("expected mempool length 1, got %d", rt.MempoolLen())
	}
}

func TestSubmitTransactionRejectsWrongNonce(t *testing.T) {
	sender := newSigner(t)
	recipient := newSigner(t)

	genesis := types.NewGenesisState()
	genesis.Accounts[sender.id] = types.Account{Balance: 100}
	rt := newTestRuntime(t, genesis)

	vtx := sender.verifiedTx(t, recipient.id, 10, 2) // should be 1
	err := rt.SubmitTransaction(vtx)
	if !common.Is(err, common.InvalidNonce) {
		t.Fatalf("expected InvalidNonce, got %v", err)
	}
}

func TestSubmitTransactionRejectsInsufficientFunds(t *testing.T) {
	sender := newSigner(t)
	recipient := newSigner(t)

	genesis := types.NewGenesisState()
	genesis.Accounts[sender.id] = types.Account{Balance: 5}
	rt := newTestRuntime(t, genesis)

	vtx := sender.verifiedTx(t, recipient.id, 10, 1)
	err := rt.SubmitTransaction(vtx)
	if !common.Is(err, common.InsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
}

func TestSubmitTransactionRejectsDuplicate(t *testing.T) {
	sender := newSigner(t)
	recipient := newSigner(t)

	genesis := types.NewGenesisState()
	genesis.Accounts[sender.id] = types.Account{Balance: 100}
	rt := newTestRuntime(t, genesis)

	vtx := sender.verifiedTx(t, recipient.id, 10, 1)
	if err := rt.SubmitTransaction(vtx); err != nil {
		t.Fatalf("unexpected error on first submission: %v", err)
	}
	if err := rt.SubmitTransaction(vtx); !common.Is(err, common.DuplicateTx) {
		t.Fatalf("expected DuplicateTx on resubmission, got %v", err)
	}
}

func TestProduceBlockAndValidateAndApply(t *testing.T) {
	sender := newSigner(t)
	recipient := newSigner(t)

	genesis := types.NewGenesisState()
	genesis.Accounts[sender.id] = types.Account{Balance: 100}
	rt := newTestRuntime(t, genesis)

	vtx := sender.verifiedTx(t, recipient.id, 30, 1)
	if err := rt.SubmitTransaction(vtx); err != nil {
		t.Fatalf("unexpected error admitting transaction: %v", err)
	}

	block := rt.ProduceBlock(1, rt.LatestHash(), sender.id)
	if len(block.Txs) != 1 {
		t.Fatalf("expected produced block to carry 1 tx, got %d", len(block.Txs))
	}

	if err := rt.ValidateBlock(block); err != nil {
		t.Fatalf("unexpected error validating a self-produced block: %v", err)
	}

	rt.ApplyBlock(block)

	if rt.Height() != 1 {
		t.Fatalf("expected height 1 after applying block, got %d", rt.Height())
	}
	if rt.MempoolLen() != 0 {
		t.Fatalf("expected mempool to be drained after applying the block, got %d pending", rt.MempoolLen())
	}
}

func TestValidateBlockRejectsPrevHashMismatch(t *testing.T) {
	rt := newTestRuntime(t, types.NewGenesisState())
	block := types.Block{Height: 1, PrevHash: types.Hash{0x01}}
	err := rt.ValidateBlock(block)
	if !common.Is(err, common.PrevHashMismatch) {
		t.Fatalf("expected PrevHashMismatch, got %v", err)
	}
}

func TestValidateBlockRejectsHeightMismatch(t *testing.T) {
	rt := newTestRuntime(t, types.NewGenesisState())
	block := types.Block{Height: 5, PrevHash: types.ZeroHash}
	err := rt.ValidateBlock(block)
	if !common.Is(err, common.HeightMismatch) {
		t.Fatalf("expected HeightMismatch, got %v", err)
	}
}

func TestValidateBlockRejectsStateRootMismatch(t *testing.T) {
	rt := newTestRuntime(t, types.NewGenesisState())
	block := types.Block{Height: 1, PrevHash: types.ZeroHash, StateRoot: types.Hash{0xFF}}
	err := rt.ValidateBlock(block)
	if !common.Is(err, common.StateRootMismatch) {
		t.Fatalf("expected StateRootMismatch, got %v", err)
	}
}

func TestLoadStateAndStateSnapshot(t *testing.T) {
	rt := newTestRuntime(t, types.NewGenesisState())

	other := types.NewGenesisState()
	other.Height = 9
	rt.LoadState(other)

	if rt.Height() != 9 {
		t.Fatalf("expected LoadState to replace the runtime's height, got %d", rt.Height())
	}

	snap := rt.StateSnapshot()
	snap.Height = 100
	if rt.Height() != 9 {
		t.Fatalf("mutating the returned snapshot must not affect the live runtime state")
	}
}
