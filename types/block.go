package types

import (
	"encoding/binary"
	"fmt"

	"github.com/tendergraph-io/node/crypto"
)

// Hash is a 32-byte SHA-256 digest, used for block hashes, state roots and
// prev_hash links.
type Hash [32]byte

// ZeroHash is the fixed prev_hash carried by the genesis block.
var ZeroHash = Hash{}

// Hex returns the uppercase 0X-prefixed representation of a hash.
func (h Hash) Hex() string {
	return fmt.Sprintf("0X%X", h[:])
}

// Less gives hashes a deterministic total order, used by the fork-choice
// tie-break rule: among equally-supported blocks, the lexicographically
// smallest hash wins.
func (h Hash) Less(other Hash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// txWireLen is the fixed on-wire length of a single transaction (body +
// pubkey + signature trailer), used to split the block's transaction
// payload back into individual transactions without a length prefix.
const txWireLen = TxBodyLen + MinTransactionLen

// Block is the unit the network orders and finalizes. Its encoding is
// fixed: height (8B BE) ‖ prev_hash (32B) ‖ state_root (32B) ‖ tx_count
// (varint) ‖ tx_payloads. The block hash is SHA-256 over exactly this byte
// string.
type Block struct {
	Height      uint64
	PrevHash    Hash
	StateRoot   Hash
	Txs         []Transaction
	ProducerID  ValidatorID
}

// Encode produces the canonical byte encoding the hash is computed over.
func (b Block) Encode() []byte {
	header := make([]byte, 8+32+32)
	binary.BigEndian.PutUint64(header[0:8], b.Height)
	copy(header[8:40], b.PrevHash[:])
	copy(header[40:72], b.StateRoot[:])

	countBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(countBuf, uint64(len(b.Txs)))

	out := make([]byte, 0, len(header)+n+len(b.Txs)*txWireLen)
	out = append(out, header...)
	out = append(out, countBuf[:n]...)
	for _, tx := range b.Txs {
		out = append(out, tx.EncodeWire()...)
	}
	return out
}

// Hash returns the block's SHA-256 hash over its canonical encoding.
func (b Block) Hash() Hash {
	var h Hash
	copy(h[:], crypto.SHA256(b.Encode()))
	return h
}

// DecodeBlock parses a byte string produced by Block.Encode back into a
// Block. ProducerID is not part of the wire encoding (it travels on the
// enclosing Proposal) and must be set by the caller.
func DecodeBlock(data []byte) (Block, error) {
	if len(data) < 72 {
		return Block{}, fmt.Errorf("block payload too short: %d bytes", len(data))
	}

	var b Block
	b.Height = binary.BigEndian.Uint64(data[0:8])
	copy(b.PrevHash[:], data[8:40])
	copy(b.StateRoot[:], data[40:72])

	count, n := binary.Uvarint(data[72:])
	if n <= 0 {
		return Block{}, fmt.Errorf("malformed tx_count varint")
	}
	rest := data[72+n:]

	want := int(count) * txWireLen
	if len(rest) != want {
		return Block{}, fmt.Errorf("tx payload length mismatch: want %d, got %d", want, len(rest))
	}

	b.Txs = make([]Transaction, 0, count)
	for i := 0; i < int(count); i++ {
		chunk := rest[i*txWireLen : (i+1)*txWireLen]
		recipient, amount, nonce, ok := DecodeBody(chunk[:TxBodyLen])
		if !ok {
			return Block{}, fmt.Errorf("malformed tx body at index %d", i)
		}
		sender, ok := ValidatorIDFromBytes(chunk[TxBodyLen : TxBodyLen+32])
		if !ok {
			return Block{}, fmt.Errorf("malformed sender key at index %d", i)
		}
		var sig [crypto.SignatureSize]byte
		copy(sig[:], chunk[TxBodyLen+32:])

		b.Txs = append(b.Txs, Transaction{
			Sender:    sender,
			Recipient: recipient,
			Amount:    amount,
			Nonce:     nonce,
			Signature: sig,
		})
	}

	return b, nil
}

// Genesis returns the fixed height-0 block: zero prev_hash, and the
// state_root of an empty (genesis) State.
func Genesis(genesisStateRoot Hash) Block {
	return Block{
		Height:    0,
		PrevHash:  ZeroHash,
		StateRoot: genesisStateRoot,
	}
}
