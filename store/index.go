package store

import (
	"encoding/binary"

	"github.com/dgraph-io/badger"

	"github.com/tendergraph-io/node/types"
)

// indexKey returns the Badger key for a (sender, nonce) pair: the
// secondary replay-protection index. Never consulted for consensus
// decisions; its only reader is WasApplied, an O(1) "has this already been
// applied?" check that survives restarts. Runtime's mempool admission does
// not call it.
func indexKey(sender types.ValidatorID, nonce uint64) []byte {
	key := make([]byte, 32+8)
	copy(key[:32], sender[:])
	binary.BigEndian.PutUint64(key[32:], nonce)
	return key
}

// indexBlock records every transaction in block in the secondary index,
// keyed by (sender, nonce) -> height applied.
func (s *Store) indexBlock(block types.Block) {
	err := s.index.Update(func(txn *badger.Txn) error {
		for _, tx := range block.Txs {
			heightBuf := make([]byte, 8)
			binary.BigEndian.PutUint64(heightBuf, block.Height)
			if err := txn.Set(indexKey(tx.Sender, tx.Nonce), heightBuf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to update replay index")
	}
}

// WasApplied reports whether (sender, nonce) has already been applied in
// some finalized block, per the secondary index.
func (s *Store) WasApplied(sender types.ValidatorID, nonce uint64) bool {
	found := false
	_ = s.index.View(func(txn *badger.Txn) error {
		_, err := txn.Get(indexKey(sender, nonce))
		found = err == nil
		return nil
	})
	return found
}

// RebuildIndex drops and repopulates the secondary index from the
// authoritative block files, from height 1 through upTo inclusive. Called
// once at recovery so the index can never drift from the flat files that
// are the real source of truth.
func (s *Store) RebuildIndex(upTo uint64) error {
	if err := s.index.DropAll(); err != nil {
		return err
	}
	for h := uint64(1); h <= upTo; h++ {
		block, err := s.ReadBlock(h)
		if err != nil {
			return err
		}
		s.indexBlock(block)
	}
	return nil
}
