package net

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tendergraph-io/node/types"
)

var errStubRejected = errors.New("rejected by stub handler")

func newLoopbackTransport(t *testing.T) *NetworkTransport {
	t.Helper()
	trans, err := NewTCPTransport("127.0.0.1:0", "", 2, time.Second, logrus.NewEntry(logrus.New()))
	if err != nil {
		t.Fatalf("unexpected error starting tcp transport: %v", err)
	}
	t.Cleanup(func() { trans.Close() })
	go trans.Listen()
	return trans
}

func TestNetworkTransportProposalRoundTrip(t *testing.T) {
	server := newLoopbackTransport(t)
	client := newLoopbackTransport(t)

	var id types.ValidatorID
	id[0] = 0x11

	go func() {
		rpc := <-server.Consumer()
		req := rpc.Command.(*ProposalRequest)
		rpc.Respond(&ProposalResponse{FromID: req.FromID}, nil)
	}()

	var resp ProposalResponse
	req := &ProposalRequest{FromID: id, Proposal: types.Proposal{Height: 7}}
	if err := client.Proposal(server.LocalAddr(), req, &resp); err != nil {
		t.Fatalf("unexpected error sending proposal over loopback: %v", err)
	}
	if resp.FromID != id {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestNetworkTransportConnectionIsPooledAndReused(t *testing.T) {
	server := newLoopbackTransport(t)
	client := newLoopbackTransport(t)

	go func() {
		for i := 0; i < 2; i++ {
			rpc := <-server.Consumer()
			rpc.Respond(&SubmitTxResponse{Accepted: true}, nil)
		}
	}()

	var resp SubmitTxResponse
	if err := client.SubmitTx(server.LocalAddr(), &SubmitTxRequest{Payload: []byte("a")}, &resp); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}

	client.connPoolLock.Lock()
	pooled := len(client.connPool[server.LocalAddr()])
	client.connPoolLock.Unlock()
	if pooled == 0 {
		t.Fatalf("expected the connection to be returned to the pool after a clean response")
	}

	if err := client.SubmitTx(server.LocalAddr(), &SubmitTxRequest{Payload: []byte("b")}, &resp); err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
}

func TestNetworkTransportRejectsUnreachableTarget(t *testing.T) {
	client := newLoopbackTransport(t)
	var resp ProposalResponse
	err := client.Proposal("127.0.0.1:1", &ProposalRequest{}, &resp)
	if err == nil {
		t.Fatalf("expected an error dialing a closed port")
	}
}

func TestNetworkTransportErrorResponsePropagates(t *testing.T) {
	server := newLoopbackTransport(t)
	client := newLoopbackTransport(t)

	go func() {
		rpc := <-server.Consumer()
		rpc.Respond(&SubmitTxResponse{}, errStubRejected)
	}()

	var resp SubmitTxResponse
	err := client.SubmitTx(server.LocalAddr(), &SubmitTxRequest{Payload: []byte("x")}, &resp)
	if err == nil || err.Error() != errStubRejected.Error() {
		t.Fatalf("expected the peer's error to propagate, got %v", err)
	}
}
