package runtime

import (
	"bytes"
	"sort"

	"github.com/tendergraph-io/node/types"
)

// mempool holds admitted transactions ordered by (sender, nonce), the
// shape produce_block requires to drain in.
type mempool struct {
	bySender map[types.ValidatorID][]types.Transaction
	size     int
}

func newMempool() *mempool {
	return &mempool{bySender: make(map[types.ValidatorID][]types.Transaction)}
}

// has reports whether (sender, nonce) is already pending.
func (m *mempool) has(sender types.ValidatorID, nonce uint64) bool {
	for _, tx := range m.bySender[sender] {
		if tx.Nonce == nonce {
			return true
		}
	}
	return false
}

// add appends tx to its sender's queue. Callers are responsible for the
// nonce/balance/duplicate checks before calling add.
func (m *mempool) add(tx types.Transaction) {
	m.bySender[tx.Sender] = append(m.bySender[tx.Sender], tx)
	m.size++
}

// Len returns the number of pending transactions across all senders.
func (m *mempool) Len() int {
	return m.size
}

// ordered returns every pending transaction sorted by (sender, nonce), the
// canonical deterministic iteration order.
func (m *mempool) ordered() []types.Transaction {
	senders := make([]types.ValidatorID, 0, len(m.bySender))
	for s := range m.bySender {
		senders = append(senders, s)
	}
	sort.Slice(senders, func(i, j int) bool {
		return bytes.Compare(senders[i][:], senders[j][:]) < 0
	})

	out := make([]types.Transaction, 0, m.size)
	for _, s := range senders {
		txs := append([]types.Transaction(nil), m.bySender[s]...)
		sort.Slice(txs, func(i, j int) bool { return txs[i].Nonce < txs[j].Nonce })
		out = append(out, txs...)
	}
	return out
}

// drain removes and returns up to max transactions in (sender, nonce)
// order. It is the single atomic mempool mutation produce_block performs
// per block.
func (m *mempool) drain(max int) []types.Transaction {
	all := m.ordered()
	if max > 0 && len(all) > max {
		all = all[:max]
	}

	taken := make(map[types.TxKey]bool, len(all))
	for _, tx := range all {
		taken[types.TxKey{Sender: tx.Sender, Nonce: tx.Nonce}] = true
	}

	for sender, txs := range m.bySender {
		remaining := txs[:0]
		for _, tx := range txs {
			if !taken[types.TxKey{Sender: tx.Sender, Nonce: tx.Nonce}] {
				remaining = append(remaining, tx)
			}
		}
		if len(remaining) == 0 {
			delete(m.bySender, sender)
		} else {
			m.bySender[sender] = remaining
		}
	}
	m.size -= len(all)

	return all
}

// discard removes every transaction in txs from the mempool without
// returning them — used after a block they were part of finalizes, so
// stale copies left behind by a discarded competing block don't linger.
func (m *mempool) discard(txs []types.Transaction) {
	keys := make(map[types.TxKey]bool, len(txs))
	for _, tx := range txs {
		keys[types.TxKey{Sender: tx.Sender, Nonce: tx.Nonce}] = true
	}
	for sender, pending := range m.bySender {
		remaining := pending[:0]
		for _, tx := range pending {
			if !keys[types.TxKey{Sender: tx.Sender, Nonce: tx.Nonce}] {
				remaining = append(remaining, tx)
			}
		}
		if len(remaining) == 0 {
			delete(m.bySender, sender)
		} else {
			m.bySender[sender] = remaining
		}
		m.size -= len(pending) - len(remaining)
	}
}
