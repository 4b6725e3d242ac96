package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/tendergraph-io/node/crypto"
)

// Account is one entry of State: a balance and the last nonce applied on
// its behalf.
type Account struct {
	Balance uint64
	Nonce   uint64
}

// State is the account-keyed ledger Runtime owns exclusively. It is
// deterministic: two instances built from the same sequence of applied
// blocks serialize to byte-identical encodings.
type State struct {
	Height      uint64
	LatestHash  Hash
	Accounts    map[ValidatorID]Account
}

// NewGenesisState returns the State at height 0: empty accounts, zero
// height, zero latest hash.
func NewGenesisState() *State {
	return &State{Accounts: make(map[ValidatorID]Account)}
}

// Clone returns a deep copy, used by produce_block/validate_block so that a
// failed or speculative block application leaves the original State
// observably unchanged.
func (s *State) Clone() *State {
	accounts := make(map[ValidatorID]Account, len(s.Accounts))
	for k, v := range s.Accounts {
		accounts[k] = v
	}
	return &State{
		Height:     s.Height,
		LatestHash: s.LatestHash,
		Accounts:   accounts,
	}
}

// Balance returns the account's balance, 0 if it has never been seen.
func (s *State) Balance(id ValidatorID) uint64 {
	return s.Accounts[id].Balance
}

// Nonce returns the last nonce applied for id, 0 if it has never been seen.
func (s *State) Nonce(id ValidatorID) uint64 {
	return s.Accounts[id].Nonce
}

// sortedKeys returns the account keys in canonical (lexicographic) order,
// so that serialization is deterministic across implementations: any
// per-validator map is iterated in canonical order.
func (s *State) sortedKeys() []ValidatorID {
	keys := make([]ValidatorID, 0, len(s.Accounts))
	for k := range s.Accounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}

// Encode returns the canonical byte encoding of State: height (8B BE),
// latest_hash (32B), account count (8B BE), then each account in
// canonical key order as [key(32) ‖ balance(8B BE) ‖ nonce(8B BE)].
func (s *State) Encode() []byte {
	keys := s.sortedKeys()

	out := make([]byte, 0, 8+32+8+len(keys)*(32+8+8))
	hdr := make([]byte, 48)
	binary.BigEndian.PutUint64(hdr[0:8], s.Height)
	copy(hdr[8:40], s.LatestHash[:])
	binary.BigEndian.PutUint64(hdr[40:48], uint64(len(keys)))
	out = append(out, hdr...)

	for _, k := range keys {
		acc := s.Accounts[k]
		entry := make([]byte, 48)
		copy(entry[0:32], k[:])
		binary.BigEndian.PutUint64(entry[32:40], acc.Balance)
		binary.BigEndian.PutUint64(entry[40:48], acc.Nonce)
		out = append(out, entry...)
	}

	return out
}

// DecodeState parses a byte string produced by State.Encode back into a
// State.
func DecodeState(data []byte) (*State, error) {
	if len(data) < 48 {
		return nil, fmt.Errorf("state payload too short: %d bytes", len(data))
	}
	height := binary.BigEndian.Uint64(data[0:8])
	var latestHash Hash
	copy(latestHash[:], data[8:40])
	count := binary.BigEndian.Uint64(data[40:48])

	rest := data[48:]
	want := int(count) * 48
	if len(rest) != want {
		return nil, fmt.Errorf("account entry length mismatch: want %d, got %d", want, len(rest))
	}

	accounts := make(map[ValidatorID]Account, count)
	for i := 0; i < int(count); i++ {
		entry := rest[i*48 : (i+1)*48]
		var id ValidatorID
		copy(id[:], entry[0:32])
		accounts[id] = Account{
			Balance: binary.BigEndian.Uint64(entry[32:40]),
			Nonce:   binary.BigEndian.Uint64(entry[40:48]),
		}
	}

	return &State{Height: height, LatestHash: latestHash, Accounts: accounts}, nil
}

// Root returns the state_root: SHA-256 over the canonical encoding.
func (s *State) Root() Hash {
	var h Hash
	copy(h[:], crypto.SHA256(s.Encode()))
	return h
}

// ApplyTransfer moves amount from sender to recipient and advances sender's
// nonce. The caller (Runtime) is responsible for having already checked
// balance and nonce preconditions — ApplyTransfer itself never fails.
func (s *State) ApplyTransfer(sender, recipient ValidatorID, amount, nonce uint64) {
	senderAcc := s.Accounts[sender]
	senderAcc.Balance -= amount
	senderAcc.Nonce = nonce
	s.Accounts[sender] = senderAcc

	recipientAcc := s.Accounts[recipient]
	recipientAcc.Balance += amount
	s.Accounts[recipient] = recipientAcc
}

// ApplyBlock applies every transaction in block in order and advances
// Height and LatestHash, the way Runtime.ApplyBlock does for the live
// state. Used directly by Store recovery to replay already-finalized
// blocks onto a loaded snapshot, without going through a Runtime.
func (s *State) ApplyBlock(block Block) {
	for _, tx := range block.Txs {
		s.ApplyTransfer(tx.Sender, tx.Recipient, tx.Amount, tx.Nonce)
	}
	s.Height = block.Height
	s.LatestHash = block.Hash()
}
