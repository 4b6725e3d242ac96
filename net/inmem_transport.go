package net

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// NewInmemAddr returns a new in-memory address with a randomly generated
// UUID as the ID.
func NewInmemAddr() string {
	return generateUUID()
}

func generateUUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4], buf[4:6], buf[6:8], buf[8:10], buf[10:16])
}

// InmemTransport implements the Transport interface entirely in memory, so
// a validator set can be exercised in tests without binding real sockets.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan RPC
	localAddr  string
	peers      map[string]*InmemTransport
	timeout    time.Duration
}

// NewInmemTransport initializes a new transport, generating a random local
// address if none is specified.
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan RPC, 16),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		timeout:    50 * time.Millisecond,
	}
	return addr, trans
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan RPC {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// Proposal implements the Transport interface.
func (i *InmemTransport) Proposal(target string, args *ProposalRequest, resp *ProposalResponse) error {
	rpcResp, err := i.makeRPC(target, args, i.timeout)
	if err != nil {
		return err
	}
	*resp = *rpcResp.Response.(*ProposalResponse)
	return nil
}

// Prevote implements the Transport interface.
func (i *InmemTransport) Prevote(target string, args *PrevoteRequest, resp *PrevoteResponse) error {
	rpcResp, err := i.makeRPC(target, args, i.timeout)
	if err != nil {
		return err
	}
	*resp = *rpcResp.Response.(*PrevoteResponse)
	return nil
}

// Commit implements the Transport interface.
func (i *InmemTransport) Commit(target string, args *CommitRequest, resp *CommitResponse) error {
	rpcResp, err := i.makeRPC(target, args, i.timeout)
	if err != nil {
		return err
	}
	*resp = *rpcResp.Response.(*CommitResponse)
	return nil
}

// SubmitTx implements the Transport interface.
func (i *InmemTransport) SubmitTx(target string, args *SubmitTxRequest, resp *SubmitTxResponse) error {
	rpcResp, err := i.makeRPC(target, args, i.timeout)
	if err != nil {
		return err
	}
	*resp = *rpcResp.Response.(*SubmitTxResponse)
	return nil
}

// StateSync implements the Transport interface.
func (i *InmemTransport) StateSync(target string, args *StateSyncRequest, resp *StateSyncResponse) error {
	rpcResp, err := i.makeRPC(target, args, i.timeout)
	if err != nil {
		return err
	}
	*resp = *rpcResp.Response.(*StateSyncResponse)
	return nil
}

func (i *InmemTransport) makeRPC(target string, args interface{}, timeout time.Duration) (rpcResp RPCResponse, err error) {
	i.RLock()
	peer, ok := i.peers[target]
	i.RUnlock()

	if !ok {
		err = fmt.Errorf("failed to connect to peer: %v", target)
		return
	}

	respCh := make(chan RPCResponse)
	peer.consumerCh <- RPC{
		Command:  args,
		RespChan: respCh,
	}

	select {
	case rpcResp = <-respCh:
		if rpcResp.Error != nil {
			err = rpcResp.Error
		}
	case <-time.After(timeout):
		err = fmt.Errorf("command timed out")
	}
	return
}

// Connect routes this transport to another transport for a given peer
// name, for local testing without real sockets.
func (i *InmemTransport) Connect(peer string, t Transport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans
}

// Disconnect removes the route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// DisconnectAll removes all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close permanently disables the transport.
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	return nil
}

// Listen is a no-op: there is no listener to start for an in-memory
// transport.
func (i *InmemTransport) Listen() {
}
