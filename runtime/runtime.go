// Package runtime is the pure, deterministic state-transition engine. It
// performs no I/O and owns no concurrency primitives of its own beyond the
// mutex serializing access to State, keeping it reachable only through
// method calls.
package runtime

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/tendergraph-io/node/common"
	"github.com/tendergraph-io/node/types"
	"github.com/tendergraph-io/node/verifier"
)

// accountCacheSize bounds the LRU cache of recently-touched accounts
// fronting State during mempool admission and block validation. It never
// changes what a lookup returns, only how fast repeated lookups resolve.
const accountCacheSize = 4096

// Runtime owns State exclusively; only ApplyBlock mutates it. All other
// access — ProduceBlock, ValidateBlock — works off a
// cloned snapshot so a failed or merely-speculative validation leaves no
// observable change.
type Runtime struct {
	mu       sync.Mutex
	state    *types.State
	mempool  *mempool
	cache    *lru.Cache
	maxTxs   int
	logger   *logrus.Entry
}

// Config bundles the runtime's construction-time parameters.
type Config struct {
	MaxTxsPerBlock int
	Logger         *logrus.Entry
}

// New builds a Runtime seeded with the given genesis state.
func New(genesis *types.State, cfg Config) *Runtime {
	cache, _ := lru.New(accountCacheSize)

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	maxTxs := cfg.MaxTxsPerBlock
	if maxTxs <= 0 {
		maxTxs = 1000
	}

	return &Runtime{
		state:   genesis,
		mempool: newMempool(),
		cache:   cache,
		maxTxs:  maxTxs,
		logger:  logger,
	}
}

// invalidate evicts id from the account cache; called after any mutation.
func (r *Runtime) invalidate(id types.ValidatorID) {
	r.cache.Remove(id)
}

// accountOf reads an account through the LRU cache, falling back to State
// and populating the cache on miss.
func (r *Runtime) accountOf(s *types.State, id types.ValidatorID) types.Account {
	if v, ok := r.cache.Get(id); ok {
		if acc, ok := v.(types.Account); ok {
			// The cache only ever fronts the authoritative Runtime state,
			// not a snapshot under validation, so a hit here is safe only
			// when s is r.state itself.
			if s == r.state {
				return acc
			}
		}
	}
	acc := s.Accounts[id]
	if s == r.state {
		r.cache.Add(id, acc)
	}
	return acc
}

// Height returns the runtime's current chain height.
func (r *Runtime) Height() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Height
}

// LatestHash returns the hash of the most recently applied block.
func (r *Runtime) LatestHash() types.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.LatestHash
}

// StateRoot returns the current state_root.
func (r *Runtime) StateRoot() types.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Root()
}

// MempoolLen returns the number of pending transactions.
func (r *Runtime) MempoolLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mempool.Len()
}

// SubmitTransaction admits a verified transaction into the mempool if the
// sender has sufficient balance and the nonce is exactly the sender's
// next one. This is the only admission path: callers must have already
// run the transaction through verifier.VerifyTransaction.
func (r *Runtime) SubmitTransaction(vtx verifier.VerifiedTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !vtx.BodyOK() {
		return common.NewTypedErr(common.FormatError, "transaction body did not decode")
	}
	tx := vtx.Transaction()

	if r.mempool.has(tx.Sender, tx.Nonce) {
		return common.NewTypedErr(common.DuplicateTx, tx.Sender.Hex())
	}

	acc := r.accountOf(r.state, tx.Sender)
	if tx.Nonce != acc.Nonce+1 {
		return common.NewTypedErr(common.InvalidNonce, tx.Sender.Hex())
	}
	if acc.Balance < tx.Amount {
		return common.NewTypedErr(common.InsufficientFunds, tx.Sender.Hex())
	}

	r.mempool.add(tx)

	r.logger.WithFields(logrus.Fields{
		"sender": tx.Sender.Hex(),
		"nonce":  tx.Nonce,
		"amount": tx.Amount,
	}).Debug("admitted transaction")

	return nil
}

// dryApply applies txs to a cloned snapshot of base and returns the
// resulting state_root, without touching base itself.
func dryApply(base *types.State, txs []types.Transaction) types.Hash {
	snapshot := base.Clone()
	for _, tx := range txs {
		snapshot.ApplyTransfer(tx.Sender, tx.Recipient, tx.Amount, tx.Nonce)
	}
	return snapshot.Root()
}

// ProduceBlock drains up to MaxTxsPerBlock transactions from the mempool in
// (sender, nonce) order and assembles a Block with the given height and
// prev_hash. It never mutates State.
func (r *Runtime) ProduceBlock(height uint64, prevHash types.Hash, producer types.ValidatorID) types.Block {
	r.mu.Lock()
	defer r.mu.Unlock()

	txs := r.mempool.drain(r.maxTxs)
	stateRoot := dryApply(r.state, txs)

	r.logger.WithFields(logrus.Fields{
		"height": height,
		"txs":    len(txs),
	}).Debug("produced block")

	return types.Block{
		Height:     height,
		PrevHash:   prevHash,
		StateRoot:  stateRoot,
		Txs:        txs,
		ProducerID: producer,
	}
}

// ValidateBlock recomputes state_root by dry-applying block's transactions
// to a snapshot of the current State, and accepts iff block.PrevHash
// matches the current latest hash, block.Height is exactly current+1, and
// the recomputed state_root matches the block's claimed one.
func (r *Runtime) ValidateBlock(block types.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if block.PrevHash != r.state.LatestHash {
		return common.NewTypedErr(common.PrevHashMismatch, block.PrevHash.Hex())
	}
	if block.Height != r.state.Height+1 {
		return common.NewTypedErr(common.HeightMismatch, "")
	}

	got := dryApply(r.state, block.Txs)
	if got != block.StateRoot {
		return common.NewTypedErr(common.StateRootMismatch, got.Hex())
	}

	return nil
}

// ApplyBlock applies every transaction in block to State in order, advances
// height, and updates the latest hash. It must only be called with a block
// that carries a FinalityCertificate and has already passed ValidateBlock;
// at that point it is infallible by construction.
func (r *Runtime) ApplyBlock(block types.Block) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tx := range block.Txs {
		r.state.ApplyTransfer(tx.Sender, tx.Recipient, tx.Amount, tx.Nonce)
		r.invalidate(tx.Sender)
		r.invalidate(tx.Recipient)
	}
	r.state.Height = block.Height
	r.state.LatestHash = block.Hash()

	r.mempool.discard(block.Txs)

	r.logger.WithFields(logrus.Fields{
		"height": block.Height,
		"txs":    len(block.Txs),
	}).Info("applied block")
}

// StateSnapshot returns a deep copy of the current State, for Store to
// persist.
func (r *Runtime) StateSnapshot() *types.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// LoadState replaces the runtime's State wholesale — used by Store
// recovery to resume from a snapshot plus replayed blocks rather than
// from genesis.
func (r *Runtime) LoadState(s *types.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.cache.Purge()
}
