package net

import (
	"testing"
	"time"

	"github.com/tendergraph-io/node/types"
)

// serveOne answers exactly one RPC arriving on trans's consumer channel
// with resp, simulating what node.Node's dispatch loop would do.
func serveOne(t *testing.T, trans *InmemTransport, resp interface{}) {
	t.Helper()
	go func() {
		rpc := <-trans.Consumer()
		rpc.Respond(resp, nil)
	}()
}

func TestInmemTransportProposalRoundTrip(t *testing.T) {
	addrA, a := NewInmemTransport("")
	addrB, b := NewInmemTransport("")
	a.Connect(addrB, b)

	var id types.ValidatorID
	id[0] = 0x42
	want := &ProposalResponse{FromID: id}
	serveOne(t, b, want)

	var resp ProposalResponse
	if err := a.Proposal(addrB, &ProposalRequest{FromID: id, Proposal: types.Proposal{Height: 1}}, &resp); err != nil {
		t.Fatalf("unexpected error sending proposal: %v", err)
	}
	if resp.FromID != id {
		t.Fatalf("unexpected response: %+v", resp)
	}
	_ = addrA
}

func TestInmemTransportAllRPCKinds(t *testing.T) {
	addrA, a := NewInmemTransport("")
	addrB, b := NewInmemTransport("")
	a.Connect(addrB, b)
	_ = addrA

	var id types.ValidatorID
	id[0] = 0x07

	t.Run("prevote", func(t *testing.T) {
		serveOne(t, b, &PrevoteResponse{FromID: id})
		var resp PrevoteResponse
		if err := a.Prevote(addrB, &PrevoteRequest{FromID: id}, &resp); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.FromID != id {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("commit", func(t *testing.T) {
		serveOne(t, b, &CommitResponse{FromID: id})
		var resp CommitResponse
		if err := a.Commit(addrB, &CommitRequest{FromID: id}, &resp); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.FromID != id {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("submit_tx", func(t *testing.T) {
		serveOne(t, b, &SubmitTxResponse{Accepted: true})
		var resp SubmitTxResponse
		if err := a.SubmitTx(addrB, &SubmitTxRequest{Payload: []byte("tx")}, &resp); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.Accepted {
			t.Fatalf("expected the submitted tx to be accepted")
		}
	})

	t.Run("state_sync", func(t *testing.T) {
		serveOne(t, b, &StateSyncResponse{Height: 10, Available: true})
		var resp StateSyncResponse
		if err := a.StateSync(addrB, &StateSyncRequest{FromID: id}, &resp); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !resp.Available || resp.Height != 10 {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})
}

func TestInmemTransportUnconnectedPeerFails(t *testing.T) {
	_, a := NewInmemTransport("")
	var resp ProposalResponse
	err := a.Proposal("nowhere", &ProposalRequest{}, &resp)
	if err == nil {
		t.Fatalf("expected an error dialing an unconnected peer")
	}
}

func TestInmemTransportDisconnectStopsRouting(t *testing.T) {
	addrA, a := NewInmemTransport("")
	addrB, b := NewInmemTransport("")
	a.Connect(addrB, b)
	_ = addrA

	a.Disconnect(addrB)

	var resp ProposalResponse
	if err := a.Proposal(addrB, &ProposalRequest{}, &resp); err == nil {
		t.Fatalf("expected an error after disconnecting the peer")
	}
}

func TestInmemTransportDisconnectAll(t *testing.T) {
	addrA, a := NewInmemTransport("")
	addrB, b := NewInmemTransport("")
	addrC, c := NewInmemTransport("")
	_ = addrA
	a.Connect(addrB, b)
	a.Connect(addrC, c)

	a.DisconnectAll()

	var resp ProposalResponse
	if err := a.Proposal(addrB, &ProposalRequest{}, &resp); err == nil {
		t.Fatalf("expected DisconnectAll to drop the route to b")
	}
	if err := a.Proposal(addrC, &ProposalRequest{}, &resp); err == nil {
		t.Fatalf("expected DisconnectAll to drop the route to c")
	}
}

func TestInmemTransportTimeoutWhenPeerNeverResponds(t *testing.T) {
	addrA, a := NewInmemTransport("")
	addrB, b := NewInmemTransport("")
	a.Connect(addrB, b)
	a.timeout = 20 * time.Millisecond
	_ = addrA

	var resp ProposalResponse
	err := a.Proposal(addrB, &ProposalRequest{}, &resp)
	if err == nil {
		t.Fatalf("expected a timeout error when the peer never drains its consumer channel")
	}
}
