package types

import (
	"encoding/binary"

	"github.com/tendergraph-io/node/crypto"
)

// MinTransactionLen is the shortest a transaction payload can legally be:
// zero-length body plus the 32-byte pubkey and 64-byte signature trailer.
const MinTransactionLen = crypto.PubKeySize + crypto.SignatureSize

// TxBodyLen is the fixed length of a transaction body once decoded:
// recipient (32) + amount (8, big-endian) + nonce (8, big-endian).
const TxBodyLen = 32 + 8 + 8

// Transaction is a decoded transfer: sender pays amount to recipient at a
// strictly increasing per-sender nonce. Sender and Signature are not part
// of the body — they are the fixed wire trailer.
type Transaction struct {
	Sender    ValidatorID
	Recipient ValidatorID
	Amount    uint64
	Nonce     uint64
	Signature [crypto.SignatureSize]byte
}

// EncodeBody returns the canonical 48-byte body encoding that the signature
// covers, together with the sender's public key.
func EncodeBody(recipient ValidatorID, amount, nonce uint64) []byte {
	buf := make([]byte, TxBodyLen)
	copy(buf[0:32], recipient[:])
	binary.BigEndian.PutUint64(buf[32:40], amount)
	binary.BigEndian.PutUint64(buf[40:48], nonce)
	return buf
}

// DecodeBody parses a transaction body produced by EncodeBody. A body of any
// other length is malformed.
func DecodeBody(body []byte) (recipient ValidatorID, amount, nonce uint64, ok bool) {
	if len(body) != TxBodyLen {
		return recipient, 0, 0, false
	}
	copy(recipient[:], body[0:32])
	amount = binary.BigEndian.Uint64(body[32:40])
	nonce = binary.BigEndian.Uint64(body[40:48])
	return recipient, amount, nonce, true
}

// EncodeWire assembles the full transaction wire payload:
// [body ‖ sender_pubkey(32) ‖ signature(64)].
func (t Transaction) EncodeWire() []byte {
	body := EncodeBody(t.Recipient, t.Amount, t.Nonce)
	out := make([]byte, 0, len(body)+MinTransactionLen)
	out = append(out, body...)
	out = append(out, t.Sender.Bytes()...)
	out = append(out, t.Signature[:]...)
	return out
}

// TxKey identifies a transaction for mempool ordering and dedup: (sender,
// nonce). Two transactions sharing a key are the same logical slot.
type TxKey struct {
	Sender ValidatorID
	Nonce  uint64
}
