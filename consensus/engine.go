// Package consensus is the round-based BFT coordinator. It drives a
// single height at a time, consuming only the Verified* types the
// verifier package produces, and delegates every state transition to a
// BlockApplier and every persistence step to a FinalityStore — keeping
// the gossip-driving engine separate from the state-owning runtime.
package consensus

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tendergraph-io/node/common"
	"github.com/tendergraph-io/node/crypto"
	"github.com/tendergraph-io/node/types"
	"github.com/tendergraph-io/node/verifier"
)

// noLock is the sentinel lockedRound value meaning "not currently locked".
const noLock = -1

// evidenceKey identifies one (height, round, phase, validator) slot for
// equivocation bookkeeping.
type evidenceKey struct {
	height    uint64
	round     uint32
	phase     Phase
	validator types.ValidatorID
}

// Engine is the per-node consensus state machine. One Engine drives one
// validator's participation in the chain; all of its exported methods other
// than Run are safe to call concurrently from the component feeding it
// inbound messages (a net.Transport consumer loop in production).
type Engine struct {
	vs    *types.ValidatorSet
	self  types.ValidatorID
	priv  ed25519.PrivateKey
	app   BlockApplier
	store FinalityStore
	bc    Broadcaster

	timeouts Timeouts
	timer    *phaseTimer
	logger   *logrus.Entry

	mu          sync.Mutex
	height      uint64
	round       uint32
	phase       Phase
	lockedBlock *types.Block
	lockedRound int32

	proposalThisRound *types.Block
	prevotes          map[uint32]*voteSet
	commits           map[uint32]*commitSet
	evidence          map[evidenceKey]bool

	suspendLimit       int
	undeterminedRounds int

	proposalCh chan types.Proposal
	prevoteCh  chan types.Prevote
	commitCh   chan types.Commit
	shutdownCh chan struct{}
}

// New builds an Engine that starts at startHeight (the height immediately
// following whatever Store last finalized, or 0 at genesis). suspendLimit
// is the number of consecutive rounds at the current height that may time
// out without quorum before the engine reports itself suspended; 0
// disables the check.
func New(vs *types.ValidatorSet, self types.ValidatorID, priv ed25519.PrivateKey, startHeight uint64, app BlockApplier, store FinalityStore, bc Broadcaster, timeouts Timeouts, suspendLimit int, logger *logrus.Entry) *Engine {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Engine{
		vs:           vs,
		self:         self,
		priv:         priv,
		app:          app,
		store:        store,
		bc:           bc,
		timeouts:     timeouts,
		timer:        newPhaseTimer(),
		logger:       logger,
		height:       startHeight,
		lockedRound:  noLock,
		prevotes:     make(map[uint32]*voteSet),
		commits:      make(map[uint32]*commitSet),
		evidence:     make(map[evidenceKey]bool),
		suspendLimit: suspendLimit,
		proposalCh:   make(chan types.Proposal, 64),
		prevoteCh:    make(chan types.Prevote, 256),
		commitCh:     make(chan types.Commit, 256),
		shutdownCh:   make(chan struct{}),
	}
}

// SubmitProposal, SubmitPrevote and SubmitCommit are the engine's only
// inbound entry points, accepting exclusively values the verifier package
// has already signature- and membership-checked. They never block the
// caller on engine processing; a full channel drops the message. Nothing
// resends a dropped message: the phase timeout is the liveness backstop,
// moving the round on so validators propose and vote afresh, rather than
// blocking RPC handlers on internal processing.
func (e *Engine) SubmitProposal(vp verifier.VerifiedProposal) {
	select {
	case e.proposalCh <- vp.Proposal():
	default:
	}
}

func (e *Engine) SubmitPrevote(vv verifier.VerifiedPrevote) {
	select {
	case e.prevoteCh <- vv.Prevote():
	default:
	}
}

func (e *Engine) SubmitCommit(vc verifier.VerifiedCommit) {
	select {
	case e.commitCh <- vc.Commit():
	default:
	}
}

// Height, Round and CurrentPhase report the engine's current position,
// safe to call from any goroutine.
func (e *Engine) Height() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.height
}

func (e *Engine) Round() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round
}

func (e *Engine) CurrentPhase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Suspended reports whether the current height has seen at least
// suspendLimit consecutive rounds time out without reaching quorum. It
// never halts the engine — consensus keeps retrying at ever-growing round
// timeouts — but signals an operator that the validator set may be
// partitioned or otherwise stuck, distinct from a fatal store error.
func (e *Engine) Suspended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suspendLimit > 0 && e.undeterminedRounds >= e.suspendLimit
}

// UndeterminedRounds reports how many consecutive rounds at the current
// height have timed out without quorum.
func (e *Engine) UndeterminedRounds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.undeterminedRounds
}

// Run drives the engine's main loop until Shutdown is called. It must be
// invoked exactly once; it owns the state machine for the lifetime of the
// node.
func (e *Engine) Run() {
	go e.timer.run()

	e.mu.Lock()
	e.enterPropose()
	e.mu.Unlock()

	for {
		select {
		case p := <-e.proposalCh:
			e.mu.Lock()
			e.onProposal(p)
			e.mu.Unlock()
		case v := <-e.prevoteCh:
			e.mu.Lock()
			e.onPrevote(v)
			e.mu.Unlock()
		case c := <-e.commitCh:
			e.mu.Lock()
			e.onCommit(c)
			e.mu.Unlock()
		case <-e.timer.tickCh:
			e.mu.Lock()
			e.onTimeout()
			e.mu.Unlock()
		case <-e.shutdownCh:
			e.timer.close()
			return
		}
	}
}

// Resume seeds the engine's round position from a previously-persisted
// RoundState, letting a restarted node pick up an in-flight round instead
// of always starting over at round 0. Only the round number and lock round
// are restored: a locked block's body is never part of round_state.json,
// so the lock itself is re-established once this round's proposal is
// re-gossiped rather than assumed from the persisted hash alone. A no-op
// if rs is for a different height than the engine was constructed with.
// Must be called before Run.
func (e *Engine) Resume(rs RoundState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rs.Height != e.height {
		return
	}
	e.round = rs.Round
	e.lockedRound = rs.LockedRound
}

// Shutdown stops the Run loop.
func (e *Engine) Shutdown() {
	close(e.shutdownCh)
}

// FastForward jumps the engine directly to cert.Height+1 using state
// obtained out of band (a peer's snapshot), instead of replaying every
// finalized block between the engine's current height and cert.Height.
// Callers must have already verified cert's constituent Commits against
// the validator set through the verifier package; FastForward does not
// re-check signatures. It is a no-op error if cert.Height is behind the
// engine's current height — fast-forwarding can only move forward.
func (e *Engine) FastForward(cert types.FinalityCertificate, state *types.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cert.Height < e.height {
		return common.NewTypedErr(common.StaleFastForward, fmt.Sprintf("target height %d behind current height %d", cert.Height, e.height))
	}

	if err := e.store.FastForward(cert.Height, state, cert); err != nil {
		return err
	}
	e.app.LoadState(state)

	e.height = cert.Height + 1
	e.round = 0
	e.lockedBlock = nil
	e.lockedRound = noLock
	e.proposalThisRound = nil
	e.prevotes = make(map[uint32]*voteSet)
	e.commits = make(map[uint32]*commitSet)
	e.persistRoundState()

	e.logger.WithFields(logrus.Fields{"height": e.height}).Info("fast-forwarded to snapshot")
	return nil
}

// persistRoundState writes the engine's current (height, round, lock) to
// the store so a crash mid-height resumes at the round it left off on
// rather than round 0. A write failure is logged, not fatal: round_state
// is a liveness optimization, not a safety-critical artifact the way a
// committed block is. Caller holds mu.
func (e *Engine) persistRoundState() {
	rs := RoundState{Height: e.height, Round: e.round, LockedRound: e.lockedRound}
	if e.lockedBlock != nil {
		h := e.lockedBlock.Hash()
		rs.LockedHash = &h
	}
	if err := e.store.WriteRoundState(rs); err != nil {
		e.logger.WithError(err).Error("writing round state failed")
	}
}

// prevoteSetFor and commitSetFor return the vote aggregator for round,
// lazily creating it on first use. Each height starts with fresh sets;
// resetForNewHeight clears both maps.
func (e *Engine) prevoteSetFor(round uint32) *voteSet {
	s, ok := e.prevotes[round]
	if !ok {
		s = newVoteSet(e.vs)
		e.prevotes[round] = s
	}
	return s
}

func (e *Engine) commitSetFor(round uint32) *commitSet {
	s, ok := e.commits[round]
	if !ok {
		s = newCommitSet(e.vs)
		e.commits[round] = s
	}
	return s
}

// recordEquivocation logs the first instance of a validator voting for two
// different hashes at the same (height, round, phase); subsequent
// instances for the same key are silently ignored.
func (e *Engine) recordEquivocation(round uint32, phase Phase, validator types.ValidatorID) {
	key := evidenceKey{height: e.height, round: round, phase: phase, validator: validator}
	if e.evidence[key] {
		return
	}
	e.evidence[key] = true
	e.logger.WithFields(logrus.Fields{
		"height":    e.height,
		"round":     round,
		"phase":     phase,
		"validator": validator.Hex(),
	}).Warn("equivocation detected")
}

// enterPropose starts a fresh Propose phase for the current (height,
// round): resets the deadline and, if this validator is the deterministic
// leader, produces and broadcasts a block immediately. Caller holds mu.
func (e *Engine) enterPropose() {
	e.phase = PhasePropose
	e.proposalThisRound = nil
	e.timer.reset(e.timeouts.deadline(PhasePropose, int(e.round)))
	e.persistRoundState()

	e.logger.WithFields(logrus.Fields{"height": e.height, "round": e.round}).Debug("enter propose")

	leader := e.vs.Leader(e.height, int(e.round))
	if leader != e.self {
		return
	}

	var block types.Block
	if e.lockedBlock != nil {
		// Locked: re-propose the locked block rather than drain the
		// mempool for a fresh one.
		block = *e.lockedBlock
	} else {
		block = e.app.ProduceBlock(e.height, e.app.LatestHash(), e.self)
	}

	p := types.Proposal{Height: e.height, Round: e.round, Block: block, Proposer: e.self}
	p.Signature = sign64(e.priv, p.SignBytes())

	e.proposalThisRound = &block
	e.bc.BroadcastProposal(p)

	// The leader queues its own proposal on its inbound channel, so the Run
	// loop handles it through onProposal exactly like a peer's, one event
	// at a time rather than by recursing from here into the next height.
	select {
	case e.proposalCh <- p:
	default:
	}
}

// sign64 signs body and copies the result into a fixed 64-byte array.
func sign64(priv ed25519.PrivateKey, body []byte) [crypto.SignatureSize]byte {
	var sig [crypto.SignatureSize]byte
	copy(sig[:], crypto.Sign(priv, body))
	return sig
}

// enterPrevote transitions to the Prevote phase and resets its deadline.
// It does not itself cast a vote; callers follow it with castPrevote.
// Caller holds mu.
func (e *Engine) enterPrevote() {
	e.phase = PhasePrevote
	e.timer.reset(e.timeouts.deadline(PhasePrevote, int(e.round)))
}

// castPrevote signs and broadcasts a Prevote for (hasBlock, hash) at the
// current (height, round), and records it in this validator's own vote
// set so a self-sufficient quorum (small validator sets) is still detected.
func (e *Engine) castPrevote(hasBlock bool, hash types.Hash) {
	v := types.Prevote{Height: e.height, Round: e.round, HasBlock: hasBlock, BlockHash: hash, Validator: e.self}
	v.Signature = sign64(e.priv, v.SignBytes())

	e.bc.BroadcastPrevote(v)
	e.prevoteSetFor(e.round).add(e.self, hasBlock, hash)
	e.checkPrevoteQuorum(e.round)
}

// castCommit signs and broadcasts a Commit for hash, and records it in this
// validator's own commit set.
func (e *Engine) castCommit(hash types.Hash) {
	c := types.Commit{Height: e.height, Round: e.round, BlockHash: hash, Validator: e.self}
	c.Signature = sign64(e.priv, c.SignBytes())

	e.bc.BroadcastCommit(c)
	e.commitSetFor(e.round).add(c)
	e.checkCommitQuorum(e.round)
}

// onProposal handles an inbound, already-verified Proposal. Caller holds mu.
func (e *Engine) onProposal(p types.Proposal) {
	if p.Height != e.height || p.Round != e.round || e.phase != PhasePropose {
		return
	}
	if p.Proposer != e.vs.Leader(e.height, int(e.round)) {
		e.logger.WithField("proposer", p.Proposer.Hex()).Warn("proposal from non-leader rejected")
		return
	}
	if err := e.app.ValidateBlock(p.Block); err != nil {
		e.logger.WithError(err).Warn("proposed block failed validation")
		return
	}

	block := p.Block
	e.proposalThisRound = &block

	voteHash := block.Hash()
	// Locking rule: once locked on a block within this height, only ever
	// prevote for it again.
	if e.lockedBlock != nil {
		voteHash = e.lockedBlock.Hash()
	}

	e.enterPrevote()
	e.castPrevote(true, voteHash)
}

// onPrevote handles an inbound, already-verified Prevote. Caller holds mu.
func (e *Engine) onPrevote(v types.Prevote) {
	if v.Height != e.height {
		return
	}
	ps := e.prevoteSetFor(v.Round)
	_, equivocation := ps.add(v.Validator, v.HasBlock, v.BlockHash)
	if equivocation {
		e.recordEquivocation(v.Round, PhasePrevote, v.Validator)
	}
	if v.Round != e.round || e.phase != PhasePrevote {
		return
	}
	e.checkPrevoteQuorum(v.Round)
}

// checkPrevoteQuorum locks and advances to Commit if round's prevote set
// has reached quorum for a concrete (non-nil) block this engine already
// holds the body of. Among multiple candidate hashes it picks the
// fork-choice winner — highest prevote weight, ties broken by
// lexicographically smallest hash — rather than an arbitrary one that
// happens to have crossed quorum first. Caller holds mu.
func (e *Engine) checkPrevoteQuorum(round uint32) {
	if e.phase != PhasePrevote || round != e.round {
		return
	}
	ps := e.prevoteSetFor(round)
	hash, weight, ok := ps.highestWeightHash()
	if !ok || weight < e.vs.Quorum() || hash == types.ZeroHash {
		return
	}
	if e.proposalThisRound == nil || e.proposalThisRound.Hash() != hash {
		// Quorum on a block we have not seen yet; wait for the proposal
		// (or a future round's) before locking onto it.
		return
	}

	block := *e.proposalThisRound
	e.lockedBlock = &block
	e.lockedRound = int32(round)

	e.phase = PhaseCommit
	e.timer.reset(e.timeouts.deadline(PhaseCommit, int(e.round)))
	e.persistRoundState()

	e.logger.WithFields(logrus.Fields{"height": e.height, "round": round, "hash": hash.Hex()}).Debug("locked, entering commit")

	e.castCommit(hash)
}

// onCommit handles an inbound, already-verified Commit. Caller holds mu.
func (e *Engine) onCommit(c types.Commit) {
	if c.Height != e.height {
		return
	}
	cs := e.commitSetFor(c.Round)
	_, equivocation := cs.add(c)
	if equivocation {
		e.recordEquivocation(c.Round, PhaseCommit, c.Validator)
	}
	if c.Round != e.round || e.phase != PhaseCommit {
		return
	}
	e.checkCommitQuorum(c.Round)
}

// checkCommitQuorum finalizes the height if round's commit set has reached
// quorum for a block whose body this engine holds. The winning candidate is
// chosen by the fork-choice rule — highest commit weight, ties broken by
// highest prevote weight, remaining ties broken by lexicographically
// smallest hash — then turned into a certificate for that one hash. Caller
// holds mu.
func (e *Engine) checkCommitQuorum(round uint32) {
	if e.phase != PhaseCommit || round != e.round {
		return
	}
	cs := e.commitSetFor(round)
	ps := e.prevoteSetFor(round)
	hash, weight, found := cs.highestWeightHash(ps)
	if !found || weight < e.vs.Quorum() {
		return
	}
	cert, ok := cs.certificateFor(e.height, hash)
	if !ok {
		return
	}
	if e.proposalThisRound == nil || e.proposalThisRound.Hash() != cert.BlockHash {
		return
	}

	block := *e.proposalThisRound
	e.phase = PhaseCommitted

	e.app.ApplyBlock(block)
	if err := e.store.Commit(block, cert); err != nil {
		e.logger.WithError(err).Fatal("store commit failed")
	}

	e.logger.WithFields(logrus.Fields{
		"height": e.height,
		"round":  round,
		"hash":   cert.BlockHash.Hex(),
	}).Info("block finalized")

	e.advanceHeight()
}

// advanceHeight resets all round-scoped state and re-enters Propose at
// height+1, round 0. Caller holds mu.
func (e *Engine) advanceHeight() {
	e.height++
	e.round = 0
	e.lockedBlock = nil
	e.lockedRound = noLock
	e.proposalThisRound = nil
	e.prevotes = make(map[uint32]*voteSet)
	e.commits = make(map[uint32]*commitSet)
	e.undeterminedRounds = 0
	e.enterPropose()
}

// onTimeout handles the current phase's deadline firing with no quorum
// reached. Caller holds mu.
func (e *Engine) onTimeout() {
	switch e.phase {
	case PhasePropose:
		e.logger.WithFields(logrus.Fields{"height": e.height, "round": e.round}).Debug("propose timeout, voting nil")
		e.enterPrevote()
		e.castPrevote(false, types.ZeroHash)
	case PhasePrevote, PhaseCommit:
		e.logger.WithFields(logrus.Fields{"height": e.height, "round": e.round, "phase": e.phase}).Debug("phase timeout, advancing round")
		e.undeterminedRounds++
		if e.suspendLimit > 0 && e.undeterminedRounds == e.suspendLimit {
			e.logger.WithFields(logrus.Fields{"height": e.height, "rounds": e.undeterminedRounds}).Warn("suspend threshold reached, no quorum for consecutive rounds")
		}
		e.round++
		e.enterPropose()
	}
}
