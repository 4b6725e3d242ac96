package service

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tendergraph-io/node/common"
	"github.com/tendergraph-io/node/consensus"
	"github.com/tendergraph-io/node/crypto"
	"github.com/tendergraph-io/node/net"
	"github.com/tendergraph-io/node/node"
	"github.com/tendergraph-io/node/runtime"
	"github.com/tendergraph-io/node/store"
	"github.com/tendergraph-io/node/types"
)

// newFixtureService builds a Service against a fully-assembled Node
// without going through Node.Init (which expects on-disk key and
// validator-set files) and without calling NewService, which registers
// handlers on the global http.DefaultServeMux and would panic if invoked
// more than once per test binary.
func newFixtureService(t *testing.T) *Service {
	t.Helper()
	logger := logrus.NewEntry(common.NewTestLogger(t))

	pub, priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("unexpected error generating key: %v", err)
	}
	self, ok := types.ValidatorIDFromBytes(pub)
	if !ok {
		t.Fatalf("unexpected error building validator id")
	}
	vs := types.NewValidatorSet([]types.Validator{{ID: self, Weight: 1}})

	s, err := store.Open(t.TempDir(), 0, logger)
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	rt := runtime.New(types.NewGenesisState(), runtime.Config{Logger: logger})

	_, trans := net.NewInmemTransport("")
	t.Cleanup(func() { trans.Close() })

	timeouts := consensus.Timeouts{
		ProposeBase: 20 * time.Millisecond, ProposeDelta: 5 * time.Millisecond,
		PrevoteBase: 20 * time.Millisecond, PrevoteDelta: 5 * time.Millisecond,
		CommitBase: 20 * time.Millisecond, CommitDelta: 5 * time.Millisecond,
	}
	engine := consensus.New(vs, self, priv, 1, rt, noopFinalityStore{}, noopBroadcaster{}, timeouts, 0, logger)

	n := &node.Node{
		Logger:       logger,
		Transport:    trans,
		Store:        s,
		Runtime:      rt,
		Engine:       engine,
		ValidatorSet: vs,
		Self:         self,
		PrivKey:      priv,
	}

	return &Service{bindAddress: "unused", node: n, logger: logger}
}

type noopFinalityStore struct{}

func (noopFinalityStore) Commit(types.Block, types.FinalityCertificate) error { return nil }
func (noopFinalityStore) FastForward(uint64, *types.State, types.FinalityCertificate) error {
	return nil
}
func (noopFinalityStore) WriteRoundState(consensus.RoundState) error { return nil }

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastProposal(types.Proposal) {}
func (noopBroadcaster) BroadcastPrevote(types.Prevote)   {}
func (noopBroadcaster) BroadcastCommit(types.Commit)     {}

func TestGetStats(t *testing.T) {
	svc := newFixtureService(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/stats", nil)
	svc.GetStats(rec, req)

	var payload statsPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unexpected error decoding response: %v", err)
	}
	if payload.Phase != "propose" {
		t.Fatalf("expected a freshly-built engine to report phase propose, got %q", payload.Phase)
	}
	if payload.Suspended {
		t.Fatalf("did not expect a freshly-built engine to be suspended")
	}
}

func TestGetBlockFound(t *testing.T) {
	svc := newFixtureService(t)

	block := types.Block{Height: 1, PrevHash: types.ZeroHash}
	state := types.NewGenesisState()
	state.ApplyBlock(block)
	cert := types.FinalityCertificate{Height: 1, BlockHash: block.Hash()}
	if err := svc.node.Store.Commit(block, state, cert); err != nil {
		t.Fatalf("unexpected error committing fixture block: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/block/1", nil)
	svc.GetBlock(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got types.Block
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unexpected error decoding response: %v", err)
	}
	if got.Height != 1 {
		t.Fatalf("unexpected block height in response: %d", got.Height)
	}
}

func TestGetBlockNotFound(t *testing.T) {
	svc := newFixtureService(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/block/99", nil)
	svc.GetBlock(rec, req)

	if rec.Code != 404 {
		t.Fatalf("expected 404 for a missing block, got %d", rec.Code)
	}
}

func TestGetBlockRejectsMalformedHeight(t *testing.T) {
	svc := newFixtureService(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/block/not-a-number", nil)
	svc.GetBlock(rec, req)

	if rec.Code != 400 {
		t.Fatalf("expected 400 for a malformed height, got %d", rec.Code)
	}
}

func TestGetValidators(t *testing.T) {
	svc := newFixtureService(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/validators", nil)
	svc.GetValidators(rec, req)

	var payload []validatorPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unexpected error decoding response: %v", err)
	}
	if len(payload) != 1 || payload[0].Weight != 1 {
		t.Fatalf("unexpected validators payload: %+v", payload)
	}
}
