package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tendergraph-io/node/common"
	"github.com/tendergraph-io/node/types"
)

// Applier is the subset of runtime.Runtime recovery needs to replay
// previously-finalized blocks into a fresh process.
type Applier interface {
	LoadState(*types.State)
	ApplyBlock(block types.Block)
}

// RecoveryResult summarizes what Recover found.
type RecoveryResult struct {
	Height     uint64
	RoundState *RoundState
}

// Recover implements the startup procedure: read chain.meta, enumerate
// blocks/ in ascending height and verify continuity,
// stop before the first trailing block that lacks a finality certificate
// (such block files stay on disk and are not replayed), reload the
// latest usable state snapshot, replay the finalized blocks after it into
// app, rebuild the secondary index, and load round_state.json if present.
func (s *Store) Recover(app Applier) (RecoveryResult, error) {
	onDisk, err := s.blockHeightsOnDisk()
	if err != nil {
		return RecoveryResult{}, err
	}

	var recoverable uint64
	if len(onDisk) > 0 {
		recoverable, err = s.highestRecoverableHeight(onDisk)
		if err != nil {
			return RecoveryResult{}, err
		}
	}

	if ffHeight, ffState, ok, err := s.fastForwardCheckpoint(recoverable); err != nil {
		return RecoveryResult{}, err
	} else if ok {
		app.LoadState(ffState)
		if recoverable > 0 {
			if err := s.RebuildIndex(recoverable); err != nil {
				return RecoveryResult{}, err
			}
		}
		rs, err := s.ReadRoundState()
		if err != nil {
			return RecoveryResult{}, err
		}
		return RecoveryResult{Height: ffHeight, RoundState: rs}, nil
	}

	if len(onDisk) == 0 {
		app.LoadState(types.NewGenesisState())
		rs, err := s.ReadRoundState()
		if err != nil {
			return RecoveryResult{}, err
		}
		return RecoveryResult{Height: 0, RoundState: rs}, nil
	}

	snapshotHeight, state, err := s.latestUsableSnapshot(recoverable)
	if err != nil {
		return RecoveryResult{}, err
	}

	for h := snapshotHeight + 1; h <= recoverable; h++ {
		block, err := s.ReadBlock(h)
		if err != nil {
			return RecoveryResult{}, err
		}
		if _, err := s.ReadFinality(h); err != nil {
			return RecoveryResult{}, common.NewTypedErr(common.StoreCorruption, "missing finality certificate during replay")
		}
		state.ApplyBlock(block)
	}

	app.LoadState(state)
	if recoverable > 0 {
		if err := s.RebuildIndex(recoverable); err != nil {
			return RecoveryResult{}, err
		}
	}

	meta, err := s.ReadChainMeta()
	if err == nil && meta.LatestHeight != recoverable {
		meta.LatestHeight = recoverable
		if err := s.rewriteChainMeta(meta); err != nil {
			return RecoveryResult{}, err
		}
	}

	rs, err := s.ReadRoundState()
	if err != nil {
		return RecoveryResult{}, err
	}

	return RecoveryResult{Height: recoverable, RoundState: rs}, nil
}

func (s *Store) rewriteChainMeta(meta ChainMeta) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return writeAtomic(s.chainMetaPath(), b)
}

// blockHeightsOnDisk returns every height for which a block file exists, in
// ascending order.
func (s *Store) blockHeightsOnDisk() ([]uint64, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, blocksDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, common.NewTypedErr(common.StoreIOError, err.Error())
	}

	heights := make([]uint64, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".block") {
			continue
		}
		n := strings.TrimSuffix(name, ".block")
		h, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			continue
		}
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights, nil
}

// highestRecoverableHeight verifies prev_hash continuity across every
// height present on disk and returns the highest height that is both
// continuous with genesis and carries a finality certificate. Anything
// after the first break in either condition is a partial commit and is
// left out of replay; the block files themselves are not deleted.
func (s *Store) highestRecoverableHeight(onDisk []uint64) (uint64, error) {
	var prevHash = types.ZeroHash
	var recoverable uint64

	for i, h := range onDisk {
		if uint64(i)+1 != h {
			// A gap means everything after the gap is unreachable by
			// replay; stop at the last contiguous height.
			break
		}
		block, err := s.ReadBlock(h)
		if err != nil {
			return 0, err
		}
		if block.PrevHash != prevHash {
			return 0, common.NewTypedErr(common.StoreCorruption, "prev_hash continuity broken at height "+strconv.FormatUint(h, 10))
		}
		if _, err := s.ReadFinality(h); err != nil {
			// No finality certificate: this block was never confirmed
			// committed; stop here.
			break
		}
		prevHash = block.Hash()
		recoverable = h
	}

	return recoverable, nil
}

// fastForwardCheckpoint looks for a state-sync checkpoint beyond the
// highest block-replay-recoverable height: a finality certificate and
// state snapshot written by Store.FastForward with no corresponding block
// file, because the intervening heights were adopted wholesale from a
// peer rather than replayed. chain.meta still names the checkpoint height
// as latest, so a plain height comparison against the block-derived
// recoverable height is enough to find it.
func (s *Store) fastForwardCheckpoint(recoverable uint64) (uint64, *types.State, bool, error) {
	meta, err := s.ReadChainMeta()
	if err != nil {
		return 0, nil, false, nil
	}
	if meta.LatestHeight <= recoverable {
		return 0, nil, false, nil
	}
	if _, err := s.ReadBlock(meta.LatestHeight); err == nil {
		return 0, nil, false, nil
	}
	if _, err := s.ReadFinality(meta.LatestHeight); err != nil {
		return 0, nil, false, nil
	}
	state, err := s.ReadSnapshot(meta.LatestHeight)
	if err != nil {
		return 0, nil, false, err
	}
	return meta.LatestHeight, state, true, nil
}

// latestUsableSnapshot returns the highest snapshot height <= upTo that
// exists on disk, and the decoded State at that height. If none exists, it
// returns height 0 and a fresh genesis State.
func (s *Store) latestUsableSnapshot(upTo uint64) (uint64, *types.State, error) {
	for h := (upTo / s.snapshotInterval) * s.snapshotInterval; h > 0; h -= s.snapshotInterval {
		st, err := s.ReadSnapshot(h)
		if err == nil {
			return h, st, nil
		}
		if !common.Is(err, common.KeyNotFound) {
			return 0, nil, err
		}
	}
	return 0, types.NewGenesisState(), nil
}
